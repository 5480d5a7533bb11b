package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readerlink/readerlink-go/pkg/events"
	"github.com/readerlink/readerlink-go/pkg/hardware"
	"github.com/readerlink/readerlink-go/pkg/reader"
	"github.com/readerlink/readerlink-go/pkg/storage"
	"github.com/readerlink/readerlink-go/pkg/tracelog"
)

// Manager errors.
var (
	ErrClosed          = errors.New("connection manager closed")
	ErrAdapterRequired = errors.New("hardware adapter is required")
	ErrStoreRequired   = errors.New("persistent store is required for persisting policies")
)

// Config configures a Manager.
type Config struct {
	// Policy is required and must be one of the four enumerated policies.
	Policy reader.Policy

	// DeviceType is the reader category discovery scans target.
	// Defaults to reader.DeviceTypeStandard.
	DeviceType reader.DeviceType

	// DiscoveryMethod selects how the adapter searches for readers.
	// Defaults to reader.MethodProximity.
	DiscoveryMethod reader.DiscoveryMethod

	// Adapter is the hardware SDK boundary. Required.
	Adapter hardware.Adapter

	// Store persists the chosen reader's serial. Required for persisting
	// policies; under the other policies a missing store falls back to an
	// in-memory one so the persisted-serial accessors keep working.
	Store storage.Store

	// Logger receives operational log records. Nil disables them.
	Logger *slog.Logger

	// Trace receives machine-readable lifecycle trace events. Nil
	// disables tracing.
	Trace tracelog.Logger

	// Backoff customizes the delay between automatic restarts.
	Backoff BackoffConfig
}

// Manager drives the connection to exactly one reader according to the
// configured policy. Construct with New, bootstrap with Start, release with
// Stop.
type Manager struct {
	id         string
	policy     reader.Policy
	deviceType reader.DeviceType
	method     reader.DiscoveryMethod
	adapter    hardware.Adapter
	store      storage.Store
	bus        *events.Bus
	logger     *slog.Logger
	trace      tracelog.Logger
	backoff    *Backoff

	mu sync.Mutex

	// desired is the reader identity connect decisions are made against:
	// empty means unset, reader.AnyReader means "strongest available".
	desired string

	// attemptID is the single-slot in-flight guard: non-empty while a
	// connect attempt or automatic restart owns the slot.
	attemptID string

	closed bool

	wg   sync.WaitGroup
	done chan struct{}

	discSub hardware.Subscription
	lostSub hardware.Subscription
}

// New creates a Manager and registers its two adapter subscriptions.
// No discovery or storage I/O happens until Start or Connect.
func New(cfg Config) (*Manager, error) {
	if !cfg.Policy.Valid() {
		return nil, fmt.Errorf("%w: %d", reader.ErrInvalidPolicy, cfg.Policy)
	}
	if cfg.Adapter == nil {
		return nil, ErrAdapterRequired
	}
	if cfg.Store == nil {
		if cfg.Policy.Persists() {
			return nil, ErrStoreRequired
		}
		cfg.Store = storage.NewMemStore()
	}
	if cfg.DeviceType == 0 {
		cfg.DeviceType = reader.DeviceTypeStandard
	}
	if cfg.DiscoveryMethod == 0 {
		cfg.DiscoveryMethod = reader.MethodProximity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Trace == nil {
		cfg.Trace = tracelog.NoopLogger{}
	}

	m := &Manager{
		id:         uuid.NewString(),
		policy:     cfg.Policy,
		deviceType: cfg.DeviceType,
		method:     cfg.DiscoveryMethod,
		adapter:    cfg.Adapter,
		store:      cfg.Store,
		bus:        events.NewBus(),
		logger:     cfg.Logger,
		trace:      cfg.Trace,
		backoff:    NewBackoff(cfg.Backoff),
		done:       make(chan struct{}),
	}

	m.discSub = cfg.Adapter.AddReadersDiscoveredListener(m.onReadersDiscovered)
	m.lostSub = cfg.Adapter.AddUnexpectedDisconnectListener(m.onUnexpectedDisconnect)

	return m, nil
}

// Events returns the manager's event bus.
func (m *Manager) Events() *events.Bus {
	return m.bus
}

// Policy returns the configured policy.
func (m *Manager) Policy() reader.Policy {
	return m.policy
}

// DesiredReader returns the current desired-reader identity: a serial,
// reader.AnyReader, or the empty string when unset.
func (m *Manager) DesiredReader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired
}

// Start runs the policy-dependent bootstrap, once.
//
// PolicyAuto connects to the strongest discovered reader. PolicyPersist
// targets the persisted serial, falling back to any reader when none is
// stored. PolicyPersistManual connects only when a persisted serial exists.
// PolicyManual does nothing; the caller must invoke Connect.
func (m *Manager) Start(ctx context.Context) error {
	switch m.policy {
	case reader.PolicyAuto:
		return m.Connect(ctx, "")

	case reader.PolicyPersist:
		serial, err := m.store.GetItem(ctx, PersistKey)
		if err != nil {
			return fmt.Errorf("read persisted reader: %w", err)
		}
		return m.Connect(ctx, serial)

	case reader.PolicyPersistManual:
		serial, err := m.store.GetItem(ctx, PersistKey)
		if err != nil {
			return fmt.Errorf("read persisted reader: %w", err)
		}
		if serial == "" {
			m.emitLogf("", "no persisted reader, waiting for explicit connect")
			return nil
		}
		return m.Connect(ctx, serial)

	default: // reader.PolicyManual
		return nil
	}
}

// Connect makes serial the desired reader (or, with an empty serial, keeps
// the current desired reader, defaulting to any) and kicks off the search.
// It returns once discovery is started; the connection itself is
// established asynchronously and reported on the event bus.
//
// If the desired reader is already connected, Connect returns immediately
// without aborting discovery or touching the connection.
func (m *Manager) Connect(ctx context.Context, serial string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if serial != "" {
		m.desired = serial
	} else if m.desired == "" {
		m.desired = reader.AnyReader
	}
	target := m.desired
	m.mu.Unlock()

	m.emitLogf("", "connect requested, target %s", describeTarget(target))
	return m.connectSequence(ctx)
}

// Discover starts a discovery scan without changing the desired reader.
// Results are surfaced as readers-discovered events.
func (m *Manager) Discover(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	m.emitLogf("", "discovery requested, device type %s, method %s", m.deviceType, m.method)
	if err := m.adapter.DiscoverReaders(ctx, m.deviceType, m.method); err != nil {
		return fmt.Errorf("discover readers: %w", err)
	}
	return nil
}

// Disconnect tears down the current connection. Under persisting policies
// the stored serial is cleared and the desired reader reset first; under
// the other policies the desired reader is intentionally left in place (see
// the package documentation).
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	if m.policy.Persists() {
		if err := m.clearPersisted(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		m.desired = ""
		m.mu.Unlock()
	}

	m.emitLogf("", "disconnect requested")
	if err := m.adapter.DisconnectReader(ctx); err != nil {
		return fmt.Errorf("disconnect reader: %w", err)
	}
	return nil
}

// Stop issues a final disconnect, releases both adapter subscriptions and
// closes the event bus. Safe to call with no active connection, and safe to
// call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)

	err := m.adapter.DisconnectReader(ctx)

	m.discSub.Remove()
	m.lostSub.Remove()
	m.wg.Wait()
	m.bus.Close()

	if err != nil {
		return fmt.Errorf("disconnect reader: %w", err)
	}
	return nil
}

// connectSequence is the shared connect entry: short-circuit when the
// desired reader is already connected, otherwise abort any in-flight scan,
// drop a mismatched connection, and start a fresh scan. Discovery results
// drive the actual connect attempt asynchronously.
func (m *Manager) connectSequence(ctx context.Context) error {
	m.mu.Lock()
	desired := m.desired
	m.mu.Unlock()

	connected, err := m.adapter.ConnectedReader(ctx)
	if err != nil {
		return fmt.Errorf("query connected reader: %w", err)
	}
	if connected != nil && satisfies(desired, connected.Serial) {
		m.emitLogf("", "already connected to %s", connected.Serial)
		return nil
	}

	if err := m.adapter.AbortDiscoverReaders(ctx); err != nil {
		return fmt.Errorf("abort discovery: %w", err)
	}
	if connected != nil {
		if err := m.adapter.DisconnectReader(ctx); err != nil {
			return fmt.Errorf("disconnect reader: %w", err)
		}
	}

	m.emitLogf("", "discovering readers, device type %s, method %s", m.deviceType, m.method)
	if err := m.adapter.DiscoverReaders(ctx, m.deviceType, m.method); err != nil {
		return fmt.Errorf("discover readers: %w", err)
	}
	return nil
}

// onReadersDiscovered handles one discovery batch from the adapter.
func (m *Manager) onReadersDiscovered(batch []reader.DiscoveredReader) {
	// The raw batch is surfaced regardless of policy.
	m.emit("", events.Event{Kind: events.KindReadersDiscovered, Readers: batch})

	if len(batch) == 0 {
		return
	}

	m.mu.Lock()
	desired := m.desired
	closed := m.closed
	m.mu.Unlock()
	if closed || desired == "" {
		// No connection is wanted; results were surfaced above.
		return
	}

	target, ok := selectTarget(batch, desired, m.policy)
	if !ok {
		m.emit("", events.Event{Kind: events.KindPersistedReaderNotFound, Readers: batch})
		if id, started := m.beginAttempt(); started {
			m.emitLogf(id, "no eligible reader among %d discovered, restarting search", len(batch))
			go m.restartSequence(id, true)
		}
		return
	}

	id, started := m.beginAttempt()
	if !started {
		// An attempt already owns the slot; repeated batches must not
		// race a second connect call.
		return
	}
	m.emitLogf(id, "connecting to %s", target)
	go m.runConnectAttempt(id, target)
}

// onUnexpectedDisconnect handles an unsolicited connection loss. This is
// the sole automatic-recovery trigger and applies to every policy,
// PolicyManual included.
func (m *Manager) onUnexpectedDisconnect(lost reader.ConnectedReader) {
	m.logger.Warn("unexpected disconnect", "serial", lost.Serial)
	m.emitLogf("", "unexpected disconnect from %s", lost.Serial)

	if id, started := m.beginAttempt(); started {
		go m.restartSequence(id, false)
	}
}

// runConnectAttempt performs one asynchronous connect call while owning the
// attempt slot.
func (m *Manager) runConnectAttempt(id, target string) {
	ctx := context.Background()

	connected, err := m.adapter.ConnectReader(ctx, target)
	if err != nil {
		m.logger.Warn("reader connect failed", "serial", target, "error", err)
		m.emit(id, events.Event{Kind: events.KindConnectionError, Serial: target, Err: err})
		if m.policy.AutoRetries() {
			m.restartSequence(id, true)
			return
		}
		m.endAttempt(id)
		return
	}

	m.mu.Lock()
	m.desired = connected.Serial
	m.mu.Unlock()
	m.backoff.Reset()

	m.persistAfterConnect(ctx, id, connected.Serial)
	m.logger.Info("reader connected", "serial", connected.Serial)
	m.emitLogf(id, "connected to %s", connected.Serial)
	m.endAttempt(id)
}

// restartSequence re-runs the connect sequence, optionally after one
// backoff step. It owns the attempt slot on entry and releases it before
// starting discovery, so the resulting batch can begin a fresh attempt.
func (m *Manager) restartSequence(id string, wait bool) {
	if wait {
		delay := m.backoff.Next()
		m.emitLogf(id, "restarting connect sequence in %s", delay.Round(time.Millisecond))
		select {
		case <-time.After(delay):
		case <-m.done:
			m.endAttempt(id)
			return
		}
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	m.endAttempt(id)
	if closed {
		return
	}

	if err := m.connectSequence(context.Background()); err != nil {
		m.logger.Warn("connect sequence restart failed", "error", err)
		m.emit("", events.Event{Kind: events.KindConnectionError, Err: err})
	}
}

// beginAttempt claims the single in-flight attempt slot.
func (m *Manager) beginAttempt() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.attemptID != "" {
		return "", false
	}
	m.attemptID = uuid.NewString()
	m.wg.Add(1)
	return m.attemptID, true
}

// endAttempt releases the attempt slot claimed by beginAttempt.
func (m *Manager) endAttempt(id string) {
	m.mu.Lock()
	if m.attemptID == id {
		m.attemptID = ""
	}
	m.mu.Unlock()
	m.wg.Done()
}

// emit publishes an event on the bus and mirrors it to the trace logger.
func (m *Manager) emit(attemptID string, ev events.Event) {
	ev.Timestamp = time.Now()
	m.bus.Emit(ev)

	tev := tracelog.Event{
		Timestamp: ev.Timestamp,
		ManagerID: m.id,
		AttemptID: attemptID,
		Kind:      ev.Kind.String(),
		Serial:    ev.Serial,
		Message:   ev.Message,
	}
	if ev.Err != nil {
		tev.Error = ev.Err.Error()
	}
	if len(ev.Readers) > 0 {
		tev.Readers = reader.Serials(ev.Readers)
	}
	m.trace.Log(tev)
}

// emitLogf emits a log event narrating a connect step.
func (m *Manager) emitLogf(attemptID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.logger.Debug(msg)
	m.emit(attemptID, events.Event{Kind: events.KindLog, Message: msg})
}

// selectTarget picks the reader to connect to from one discovery batch:
// the exact desired reader when present, else the first (strongest)
// candidate when the policy allows an opportunistic connection.
func selectTarget(batch []reader.DiscoveredReader, desired string, policy reader.Policy) (string, bool) {
	for _, r := range batch {
		if r.Serial == desired {
			return r.Serial, true
		}
	}
	if policy == reader.PolicyAuto ||
		(policy == reader.PolicyPersist && desired == "") ||
		desired == reader.AnyReader {
		return batch[0].Serial, true
	}
	return "", false
}

// satisfies reports whether a connected reader's serial satisfies the
// desired identity.
func satisfies(desired, serial string) bool {
	return desired != "" && (desired == reader.AnyReader || desired == serial)
}

// describeTarget renders a desired identity for log narration.
func describeTarget(desired string) string {
	if desired == reader.AnyReader {
		return "any reader"
	}
	return "reader " + desired
}
