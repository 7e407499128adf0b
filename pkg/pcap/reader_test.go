package pcap

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"NetUnivMon/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// writeTestPcap writes a pcap file holding n UDP packets and returns its path.
func writeTestPcap(t *testing.T, n int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create pcap file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(1600, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write pcap header: %v", err)
	}

	for i := 0; i < n; i++ {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
			DstMAC:       net.HardwareAddr{0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			SrcIP:    net.IPv4(10, 0, 0, byte(i+1)),
			DstIP:    net.IPv4(10, 0, 1, 1),
			Protocol: layers.IPProtocolUDP,
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(30000 + i), DstPort: 53}
		udp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("x"))); err != nil {
			t.Fatalf("Failed to serialize packet: %v", err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
	return path
}

func TestReaderReadPackets(t *testing.T) {
	const want = 5
	path := writeTestPcap(t, want)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	out := make(chan *model.PacketInfo, want)
	go func() {
		reader.ReadPackets(out)
		close(out)
	}()

	count := 0
	for info := range out {
		if info.FiveTuple.DstPort != 53 {
			t.Errorf("DstPort = %d, want 53", info.FiveTuple.DstPort)
		}
		count++
	}
	if count != want {
		t.Errorf("Read %d packets, want %d", count, want)
	}
}
