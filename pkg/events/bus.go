package events

import (
	"sync"
	"time"

	"github.com/readerlink/readerlink-go/pkg/reader"
)

// Kind classifies an event.
type Kind uint8

const (
	// KindReadersDiscovered carries a raw discovery batch.
	KindReadersDiscovered Kind = iota + 1

	// KindConnectionError carries a connect-attempt failure.
	KindConnectionError

	// KindPersistedReaderNotFound carries a discovery batch in which no
	// reader was eligible for connection.
	KindPersistedReaderNotFound

	// KindReaderPersisted reports the persisted serial being written
	// (Serial set) or cleared (Serial empty).
	KindReaderPersisted

	// KindLog carries a human-readable diagnostic message.
	KindLog
)

// String returns the event kind name.
func (k Kind) String() string {
	switch k {
	case KindReadersDiscovered:
		return "READERS_DISCOVERED"
	case KindConnectionError:
		return "CONNECTION_ERROR"
	case KindPersistedReaderNotFound:
		return "PERSISTED_READER_NOT_FOUND"
	case KindReaderPersisted:
		return "READER_PERSISTED"
	case KindLog:
		return "LOG"
	default:
		return "UNKNOWN"
	}
}

// Event is a lifecycle event emitted by the connection manager.
// Which payload fields are set depends on Kind.
type Event struct {
	// Kind classifies the event.
	Kind Kind

	// Timestamp is when the event was emitted.
	Timestamp time.Time

	// Readers is the discovery batch (KindReadersDiscovered,
	// KindPersistedReaderNotFound).
	Readers []reader.DiscoveredReader

	// Serial is the reader serial (KindReaderPersisted; empty when the
	// persisted value was cleared).
	Serial string

	// Err is the connect failure (KindConnectionError).
	Err error

	// Message is the diagnostic text (KindLog).
	Message string
}

// Handler receives events. Handlers run on the bus dispatch goroutine and
// should not block; a slow handler delays subsequent events.
type Handler func(Event)

// Listener is a registration handle returned by AddListener.
type Listener struct {
	bus  *Bus
	kind Kind
	id   uint64
}

// Remove unregisters the listener. Safe to call more than once.
func (l *Listener) Remove() {
	if l == nil || l.bus == nil {
		return
	}
	l.bus.remove(l.kind, l.id)
	l.bus = nil
}

// queueSize bounds the number of events waiting for dispatch. Emission on a
// full queue drops the event rather than blocking the emitter.
const queueSize = 64

// Bus is a process-local publish/subscribe channel for lifecycle events.
// The zero value is not usable; call NewBus.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[Kind]map[uint64]Handler
	queue     chan Event
	done      chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		listeners: make(map[Kind]map[uint64]Handler),
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// AddListener registers a handler for one event kind.
func (b *Bus) AddListener(kind Kind, fn Handler) *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.listeners[kind] == nil {
		b.listeners[kind] = make(map[uint64]Handler)
	}
	b.listeners[kind][id] = fn

	return &Listener{bus: b, kind: kind, id: id}
}

// Emit enqueues an event for dispatch and returns immediately.
// Events emitted after Close, or while the queue is full, are dropped.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	select {
	case b.queue <- ev:
	default:
	}
}

// Close stops dispatch after draining already-queued events.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m := b.listeners[kind]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(b.listeners, kind)
		}
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.done:
			// Drain what was queued before Close.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.listeners[ev.Kind]))
	for _, fn := range b.listeners[ev.Kind] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
