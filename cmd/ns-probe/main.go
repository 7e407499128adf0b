package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/engine/protocol"
	"NetUnivMon/internal/model"
	"NetUnivMon/internal/probe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'replay' to publish a pcap file, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	file := flag.String("file", "", "Pcap file to replay (required for replay mode).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(cfg.Probe, *iface)
	case "replay":
		runReplay(cfg.Probe, *file)
	case "sub":
		runSubscriber(cfg.Probe)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures packets from a live interface and publishes them to NATS.
func runProbe(cfg config.ProbeConfig, interfaceName string) {
	if interfaceName == "" {
		log.Println("Error: -iface flag is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in PROBE mode on interface: %s", interfaceName)

	pub, err := probe.NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(interfaceName, snapshotLen, promiscuous, timeout)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", interfaceName, err)
	}
	defer handle.Close()

	log.Println("Capture started successfully. Publishing packets to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		publishPackets(pub, packetSource)
	}()

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

// runReplay publishes every packet of a pcap file to NATS.
func runReplay(cfg config.ProbeConfig, filePath string) {
	if filePath == "" {
		log.Println("Error: -file flag is required for replay mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in REPLAY mode for file: %s", filePath)

	pub, err := probe.NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		log.Fatalf("Error opening pcap file %s: %v", filePath, err)
	}
	defer handle.Close()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	publishPackets(pub, packetSource)
	log.Println("Finished replaying pcap file.")
}

func publishPackets(pub *probe.Publisher, packetSource *gopacket.PacketSource) {
	packetsPublished := 0
	for packet := range packetSource.Packets() {
		info, err := protocol.ParsePacket(packet)
		if err != nil {
			continue // Skip non-IP packets
		}
		if err := pub.Publish(info); err != nil {
			log.Printf("Failed to publish packet: %v", err)
		}
		packetsPublished++
		if packetsPublished%1000 == 0 {
			log.Printf("%d packets published...", packetsPublished)
		}
	}
}

// runSubscriber subscribes to NATS and prints received packets.
func runSubscriber(cfg config.ProbeConfig) {
	log.Println("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(info *model.PacketInfo) {
		log.Printf("Received Packet: %+v", info)
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
