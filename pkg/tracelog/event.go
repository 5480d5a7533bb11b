package tracelog

import "time"

// Event is one lifecycle trace record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ManagerID uniquely identifies the emitting manager instance (UUID).
	ManagerID string `cbor:"2,keyasint"`

	// AttemptID identifies the connect attempt this event belongs to, if
	// any (UUID).
	AttemptID string `cbor:"3,keyasint,omitempty"`

	// Kind is the event kind name (e.g. "READERS_DISCOVERED").
	Kind string `cbor:"4,keyasint"`

	// Serial is the reader serial the event refers to, if any.
	Serial string `cbor:"5,keyasint,omitempty"`

	// Message is the human-readable narration, if any.
	Message string `cbor:"6,keyasint,omitempty"`

	// Error is the failure text, if any.
	Error string `cbor:"7,keyasint,omitempty"`

	// Readers holds the serials of a discovery batch in batch order.
	Readers []string `cbor:"8,keyasint,omitempty"`
}

// Logger is the interface trace sinks implement.
// Pass nil or NoopLogger to disable tracing.
type Logger interface {
	// Log records a trace event. Implementations must be thread-safe and
	// must not block the caller for long.
	Log(event Event)
}

// NoopLogger discards all events. Usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
