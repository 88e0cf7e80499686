// Package reader is the boundary to the proximity reader hardware.
package reader

import "context"

// EventType identifies a hardware event.
type EventType string

const (
	// CardDetected fires when a device enters the field and a card
	// connection is ready for Transmit.
	CardDetected EventType = "card_detected"
	// Error reports a recoverable reader fault. The driver keeps running.
	Error EventType = "error"
	// Disconnected reports that the reader itself went away.
	Disconnected EventType = "disconnected"
)

// Event is emitted on the channel returned by Subscribe.
type Event struct {
	Type   EventType
	Reader string
	Err    error
}

// Driver is a proximity reader. Its event stream has exactly one owner.
type Driver interface {
	// Subscribe starts event delivery. A second call returns ErrReaderInUse.
	Subscribe() (<-chan Event, error)
	// Transmit sends one command to the device currently in the field and
	// returns the raw response including the status word.
	Transmit(ctx context.Context, cmd []byte, maxResponseLen int) ([]byte, error)
	// Connected reports whether a reader is attached.
	Connected() bool
	// Close stops event delivery and releases the hardware.
	Close() error
}
