package tracelog

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Timestamp: time.Now(),
		ManagerID: "5f3c1f3e-0000-4000-8000-000000000001",
		AttemptID: "5f3c1f3e-0000-4000-8000-000000000002",
		Kind:      "CONNECTION_ERROR",
		Serial:    "RDR-001",
		Error:     "radio glitch",
		Readers:   []string{"RDR-001", "RDR-002"},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	ev := sampleEvent()

	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.Equal(t, ev.ManagerID, got.ManagerID)
	assert.Equal(t, ev.AttemptID, got.AttemptID)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.Serial, got.Serial)
	assert.Equal(t, ev.Error, got.Error)
	assert.Equal(t, ev.Readers, got.Readers)
	assert.WithinDuration(t, ev.Timestamp, got.Timestamp, time.Millisecond)
}

func TestDecodeEventGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}

func TestFileLoggerAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")

	l, err := NewFileLogger(path)
	require.NoError(t, err)
	l.Log(Event{Timestamp: time.Now(), ManagerID: "m1", Kind: "LOG", Message: "one"})
	l.Log(Event{Timestamp: time.Now(), ManagerID: "m1", Kind: "LOG", Message: "two"})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close()) // idempotent

	// Logging after close is ignored.
	l.Log(Event{Kind: "LOG", Message: "late"})

	// Re-open appends.
	l2, err := NewFileLogger(path)
	require.NoError(t, err)
	l2.Log(Event{Timestamp: time.Now(), ManagerID: "m1", Kind: "LOG", Message: "three"})
	require.NoError(t, l2.Close())

	events, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].Message)
	assert.Equal(t, "two", events[1].Message)
	assert.Equal(t, "three", events[2].Message)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a := NewSlogAdapter(logger)
	a.Log(sampleEvent())

	out := buf.String()
	assert.Contains(t, out, "CONNECTION_ERROR")
	assert.Contains(t, out, "RDR-001")
	assert.Contains(t, out, "radio glitch")
}

type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(event Event) {
	c.events = append(c.events, event)
}

func TestMultiLogger(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}

	m := NewMultiLogger(a, b, NoopLogger{})
	m.Log(sampleEvent())
	m.Log(sampleEvent())

	assert.Len(t, a.events, 2)
	assert.Len(t, b.events, 2)
}

func TestNoopLogger(t *testing.T) {
	// Must not panic and must satisfy the interface as a zero value.
	var l Logger = NoopLogger{}
	l.Log(sampleEvent())
}
