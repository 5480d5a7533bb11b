package hardware

import (
	"context"

	"github.com/readerlink/readerlink-go/pkg/reader"
)

// Subscription is a listener registration handle.
type Subscription interface {
	// Remove unregisters the listener. Safe to call more than once.
	Remove()
}

// ReadersDiscoveredFunc receives one discovery batch, ordered
// strongest-signal first. The batch may be empty and must not be retained
// beyond the call.
type ReadersDiscoveredFunc func(batch []reader.DiscoveredReader)

// UnexpectedDisconnectFunc receives the reader that was lost without a
// caller-initiated disconnect.
type UnexpectedDisconnectFunc func(lost reader.ConnectedReader)

// Adapter is the capability set the connection manager consumes from the
// hardware SDK. All timing (scan duration, connect timeouts) belongs to the
// adapter; the manager imposes none of its own.
type Adapter interface {
	// DiscoverReaders starts a discovery scan. Results are delivered to
	// readers-discovered listeners, not returned.
	DiscoverReaders(ctx context.Context, deviceType reader.DeviceType, method reader.DiscoveryMethod) error

	// ConnectReader connects to the reader with the given serial.
	ConnectReader(ctx context.Context, serial string) (*reader.ConnectedReader, error)

	// DisconnectReader disconnects the current reader. Idempotent when
	// nothing is connected.
	DisconnectReader(ctx context.Context) error

	// ConnectedReader returns the currently connected reader, or nil.
	ConnectedReader(ctx context.Context) (*reader.ConnectedReader, error)

	// AbortDiscoverReaders cancels any in-flight scan. Idempotent when no
	// scan is running.
	AbortDiscoverReaders(ctx context.Context) error

	// AddReadersDiscoveredListener registers a discovery-batch listener.
	AddReadersDiscoveredListener(fn ReadersDiscoveredFunc) Subscription

	// AddUnexpectedDisconnectListener registers an unsolicited-disconnect
	// listener.
	AddUnexpectedDisconnectListener(fn UnexpectedDisconnectFunc) Subscription
}
