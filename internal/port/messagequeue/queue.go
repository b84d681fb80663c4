// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Queue is the port interface for publishing processed-invoice events.
// FinBot only produces; downstream AP systems consume the stream.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool

	// Close shuts down the queue connection.
	Close() error
}

// Subjects published by FinBot.
const (
	// SubjectInvoiceProcessed carries the full ProcessOutcome of a chain run.
	SubjectInvoiceProcessed = "invoices.processed"
)
