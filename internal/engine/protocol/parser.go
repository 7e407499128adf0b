package protocol

import (
	"fmt"
	"time"

	"NetUnivMon/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket uses gopacket to decode a captured packet and extract the
// metadata the aggregation engine cares about.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // Default to now, will be overwritten by packet metadata if available
		Length:    len(packet.Data()),
	}

	if meta := packet.Metadata(); meta != nil {
		info.Timestamp = meta.Timestamp
	}

	var fiveTuple model.FiveTuple

	// Get IP layer. IPv4 addresses are widened to 16 bytes so flow keys have
	// a fixed width regardless of address family.
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ipLayer := l.(*layers.IPv4)
		fiveTuple.SrcIP = ipLayer.SrcIP.To16()
		fiveTuple.DstIP = ipLayer.DstIP.To16()
		fiveTuple.Protocol = uint8(ipLayer.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ipLayer := l.(*layers.IPv6)
		fiveTuple.SrcIP = ipLayer.SrcIP
		fiveTuple.DstIP = ipLayer.DstIP
		fiveTuple.Protocol = uint8(ipLayer.NextHeader)
	} else {
		return nil, fmt.Errorf("not an IP packet")
	}

	// Get TCP layer
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcpLayer := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcpLayer.SrcPort)
		fiveTuple.DstPort = uint16(tcpLayer.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		// Get UDP layer
		udpLayer := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udpLayer.SrcPort)
		fiveTuple.DstPort = uint16(udpLayer.DstPort)
	} else {
		// Not a TCP or UDP packet, we can choose to ignore or handle it
		return nil, fmt.Errorf("not a TCP or UDP packet")
	}

	info.FiveTuple = fiveTuple

	return info, nil
}
