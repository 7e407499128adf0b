package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/engine/manager"
	"NetUnivMon/internal/model"
	"NetUnivMon/pkg/pcap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	// 1. Get pcap file path from command-line arguments
	if flag.NArg() < 1 {
		fmt.Println("Usage: pcap-analyzer [-config path] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 3. Initialize modules
	var agg model.Aggregator
	agg, err = manager.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	log.Println("Manager initialized.")

	pcapReader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer pcapReader.Close()
	log.Printf("Reading packets from '%s'...", pcapFilePath)

	// 4. Start the processing pipeline
	agg.Start()
	log.Println("Manager started.")

	// 5. Start reading packets and feeding them to the manager
	pcapReader.ReadPackets(agg.InputChannel())
	log.Println("Finished reading all packets from pcap file.")

	// 6. Graceful shutdown. Stop takes a final snapshot before exiting.
	log.Println("Shutting down manager...")
	agg.Stop()
	log.Println("Shutdown complete.")
}
