package model

import "time"

// Writer defines a generic interface for writing aggregator data to a persistent store.
type Writer interface {
	// Write takes a task's snapshot payload and persists it. The implementation
	// is expected to know how to handle the payload type it receives; the decode
	// function turns opaque flow keys back into operator-readable strings.
	Write(payload interface{}, timestamp, name string, fields []string, decodeFlowFunc func(flow []byte, fields []string) string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
