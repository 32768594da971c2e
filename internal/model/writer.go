package model

import "time"

// Writer defines a generic interface for exporting aggregate snapshots to an external store.
type Writer interface {
	// Name returns the registered writer type, used in logs and metrics.
	Name() string

	// Write takes a snapshot payload and exports it.
	// The implementation is expected to know how to handle the payload type it receives.
	Write(payload interface{}, timestamp string) error

	// GetInterval returns the configured export interval for this writer.
	GetInterval() time.Duration

	// Close releases any connection held by the writer.
	Close() error
}
