package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/readerlink/readerlink-go/pkg/hardware"
	"github.com/readerlink/readerlink-go/pkg/reader"
)

// Adapter is a simulated hardware adapter.
//
// By default a discovery scan asynchronously delivers the current set of
// available readers as a single batch. Set AutoDeliver to false to script
// batch delivery explicitly with EmitDiscovered.
type Adapter struct {
	mu sync.Mutex

	available  []reader.DiscoveredReader
	connected  *reader.ConnectedReader
	connectErr map[string]error
	scanning   bool

	autoDeliver bool

	nextID        uint64
	discListeners map[uint64]hardware.ReadersDiscoveredFunc
	lostListeners map[uint64]hardware.UnexpectedDisconnectFunc

	// Call counters, readable via Counters.
	discoverCalls   int
	abortCalls      int
	connectCalls    int
	disconnectCalls int
}

// Counters is a snapshot of adapter call counts.
type Counters struct {
	Discover   int
	Abort      int
	Connect    int
	Disconnect int
}

// New creates a simulated adapter with auto-delivery enabled.
func New() *Adapter {
	return &Adapter{
		connectErr:    make(map[string]error),
		autoDeliver:   true,
		discListeners: make(map[uint64]hardware.ReadersDiscoveredFunc),
		lostListeners: make(map[uint64]hardware.UnexpectedDisconnectFunc),
	}
}

// SetAutoDeliver controls whether DiscoverReaders delivers the available
// batch on its own.
func (a *Adapter) SetAutoDeliver(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoDeliver = enabled
}

// SetAvailable replaces the set of nearby readers, strongest first.
func (a *Adapter) SetAvailable(batch ...reader.DiscoveredReader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = append([]reader.DiscoveredReader(nil), batch...)
}

// SetConnectErr makes ConnectReader fail for the given serial.
// Pass nil to clear the injected failure.
func (a *Adapter) SetConnectErr(serial string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.connectErr, serial)
		return
	}
	a.connectErr[serial] = err
}

// Counters returns a snapshot of adapter call counts.
func (a *Adapter) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Counters{
		Discover:   a.discoverCalls,
		Abort:      a.abortCalls,
		Connect:    a.connectCalls,
		Disconnect: a.disconnectCalls,
	}
}

// Scanning reports whether a scan is in flight.
func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// DiscoverReaders starts a simulated scan. With auto-delivery enabled the
// current available set is delivered as one batch on a separate goroutine.
func (a *Adapter) DiscoverReaders(_ context.Context, _ reader.DeviceType, _ reader.DiscoveryMethod) error {
	a.mu.Lock()
	a.discoverCalls++
	a.scanning = true
	deliver := a.autoDeliver
	batch := append([]reader.DiscoveredReader(nil), a.available...)
	a.mu.Unlock()

	if deliver {
		go a.EmitDiscovered(batch)
	}
	return nil
}

// AbortDiscoverReaders cancels the simulated scan.
func (a *Adapter) AbortDiscoverReaders(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abortCalls++
	a.scanning = false
	return nil
}

// ConnectReader connects to a reader by serial, honoring injected failures.
// The reader does not have to be in the available set; like real hardware,
// connecting by serial is allowed whenever the radio can reach the device.
func (a *Adapter) ConnectReader(_ context.Context, serial string) (*reader.ConnectedReader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connectCalls++
	if err := a.connectErr[serial]; err != nil {
		return nil, fmt.Errorf("%w: %s: %w", reader.ErrConnectFailed, serial, err)
	}

	connected := &reader.ConnectedReader{Serial: serial}
	for _, r := range a.available {
		if r.Serial == serial {
			connected.Label = r.Label
			connected.Model = r.Model
			break
		}
	}
	a.connected = connected
	a.scanning = false

	return &reader.ConnectedReader{Serial: connected.Serial, Label: connected.Label, Model: connected.Model}, nil
}

// DisconnectReader drops the simulated connection. Idempotent.
func (a *Adapter) DisconnectReader(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnectCalls++
	a.connected = nil
	return nil
}

// ConnectedReader returns the currently connected reader, or nil.
func (a *Adapter) ConnectedReader(_ context.Context) (*reader.ConnectedReader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected == nil {
		return nil, nil
	}
	c := *a.connected
	return &c, nil
}

// AddReadersDiscoveredListener registers a discovery listener.
func (a *Adapter) AddReadersDiscoveredListener(fn hardware.ReadersDiscoveredFunc) hardware.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.discListeners[id] = fn
	return &subscription{remove: func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.discListeners, id)
	}}
}

// AddUnexpectedDisconnectListener registers an unsolicited-disconnect
// listener.
func (a *Adapter) AddUnexpectedDisconnectListener(fn hardware.UnexpectedDisconnectFunc) hardware.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.lostListeners[id] = fn
	return &subscription{remove: func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.lostListeners, id)
	}}
}

// ListenerCount returns the number of registered listeners of both kinds.
func (a *Adapter) ListenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.discListeners) + len(a.lostListeners)
}

// EmitDiscovered delivers one discovery batch to all listeners, in the
// caller's goroutine.
func (a *Adapter) EmitDiscovered(batch []reader.DiscoveredReader) {
	a.mu.Lock()
	fns := make([]hardware.ReadersDiscoveredFunc, 0, len(a.discListeners))
	for _, fn := range a.discListeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(batch)
	}
}

// EmitUnexpectedDisconnect drops the current connection (if any) and
// notifies unsolicited-disconnect listeners.
func (a *Adapter) EmitUnexpectedDisconnect() {
	a.mu.Lock()
	lost := reader.ConnectedReader{}
	if a.connected != nil {
		lost = *a.connected
	}
	a.connected = nil
	fns := make([]hardware.UnexpectedDisconnectFunc, 0, len(a.lostListeners))
	for _, fn := range a.lostListeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(lost)
	}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() {
	s.once.Do(s.remove)
}

// Compile-time interface satisfaction check.
var _ hardware.Adapter = (*Adapter)(nil)
