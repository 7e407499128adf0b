package model

// Aggregator defines the common interface for an aggregation engine,
// allowing different front-ends (live NATS stream, offline pcap replay) to
// drive the same processing pipeline.
type Aggregator interface {
	// Start launches the aggregator's processing workers.
	Start()

	// Stop gracefully shuts down the aggregator, ensuring all data is processed or flushed.
	Stop()

	// InputChannel returns the channel to which packets should be sent for processing.
	InputChannel() chan<- *PacketInfo
}
