package model

// Aggregator defines the common interface for an ingestion engine.
type Aggregator interface {
	// Start launches the aggregator's processing goroutines.
	Start()

	// Stop gracefully shuts down the aggregator, ensuring buffered records are processed.
	Stop()

	// InputChannel returns the channel to which flow records should be sent.
	InputChannel() chan<- FlowRecord
}
