package probe

import (
	"bytes"
	"encoding/gob"

	"NetUnivMon/internal/model"
)

// EncodePacket serializes a PacketInfo for transport over NATS. Gob keeps
// the probe and engine free of a codegen step; both ends of the wire are
// this repository.
func EncodePacket(info *model.PacketInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(info); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePacket deserializes a PacketInfo received from NATS.
func DecodePacket(data []byte) (*model.PacketInfo, error) {
	var info model.PacketInfo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
