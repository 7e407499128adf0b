package model

import "NetUnivMon/internal/config"

// Task defines a single, self-contained aggregation task (e.g., exact count, sketch, etc.).
// This is the interface for the "execution layer".
type Task interface {
	ProcessPacket(packet *PacketInfo)
	Snapshot() interface{}
	Reset()
	Name() string
	Fields() []string
	DecodeFlowFunc() func(flow []byte, fields []string) string
	AlerterMsg(rules []config.AlerterRule) string
}

// FlowQuerier is implemented by tasks that can answer per-flow frequency
// queries against their live state.
type FlowQuerier interface {
	Query(flow []byte) int64
}

// GSumEvaluator is implemented by tasks that can evaluate functions over
// their live frequency distribution (universal sketch tasks).
type GSumEvaluator interface {
	GSum(fn string) (float64, error)
}
