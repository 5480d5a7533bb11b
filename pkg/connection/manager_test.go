package connection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerlink/readerlink-go/pkg/connection"
	"github.com/readerlink/readerlink-go/pkg/events"
	"github.com/readerlink/readerlink-go/pkg/hardware/sim"
	"github.com/readerlink/readerlink-go/pkg/reader"
	"github.com/readerlink/readerlink-go/pkg/storage"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// fastBackoff keeps automatic restarts snappy in tests.
var fastBackoff = connection.BackoffConfig{
	Initial:    10 * time.Millisecond,
	Max:        50 * time.Millisecond,
	Multiplier: 2.0,
	Jitter:     -1,
}

func newTestManager(t *testing.T, policy reader.Policy, adapter *sim.Adapter, store storage.Store) *connection.Manager {
	t.Helper()
	m, err := connection.New(connection.Config{
		Policy:  policy,
		Adapter: adapter,
		Store:   store,
		Backoff: fastBackoff,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// watch forwards bus events of one kind to a buffered channel.
func watch(m *connection.Manager, kind events.Kind) <-chan events.Event {
	ch := make(chan events.Event, 32)
	m.Events().AddListener(kind, func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for event")
		return events.Event{}
	}
}

func connectedSerial(t *testing.T, a *sim.Adapter) string {
	t.Helper()
	c, err := a.ConnectedReader(context.Background())
	require.NoError(t, err)
	if c == nil {
		return ""
	}
	return c.Serial
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	adapter := sim.New()

	for _, p := range []reader.Policy{0, 7, 99} {
		_, err := connection.New(connection.Config{Policy: p, Adapter: adapter})
		require.ErrorIs(t, err, reader.ErrInvalidPolicy)
	}

	// Fails before any adapter call or listener registration.
	assert.Equal(t, sim.Counters{}, adapter.Counters())
	assert.Equal(t, 0, adapter.ListenerCount())
}

func TestNewRequiresAdapter(t *testing.T) {
	_, err := connection.New(connection.Config{Policy: reader.PolicyAuto})
	require.ErrorIs(t, err, connection.ErrAdapterRequired)
}

func TestNewRequiresStoreForPersistingPolicies(t *testing.T) {
	adapter := sim.New()

	_, err := connection.New(connection.Config{Policy: reader.PolicyPersist, Adapter: adapter})
	require.ErrorIs(t, err, connection.ErrStoreRequired)

	_, err = connection.New(connection.Config{Policy: reader.PolicyPersistManual, Adapter: adapter})
	require.ErrorIs(t, err, connection.ErrStoreRequired)

	// Non-persisting policies fall back to an in-memory store.
	m, err := connection.New(connection.Config{Policy: reader.PolicyAuto, Adapter: adapter})
	require.NoError(t, err)
	_ = m.Stop(context.Background())
}

func TestAutoConnectsToStrongestCandidate(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(
		reader.DiscoveredReader{Serial: "RDR-A", SignalStrength: -40},
		reader.DiscoveredReader{Serial: "RDR-B", SignalStrength: -70},
	)
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	require.NoError(t, m.Connect(ctx, ""))
	assert.Equal(t, reader.AnyReader, m.DesiredReader())

	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick, "should connect to the strongest (first) candidate")

	require.Eventually(t, func() bool {
		return m.DesiredReader() == "RDR-A"
	}, waitFor, tick, "desired reader should settle on the connected serial")
}

func TestDiscoveryWithoutConnectIsSurfacedOnly(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	discovered := watch(m, events.KindReadersDiscovered)
	require.NoError(t, m.Discover(ctx))

	ev := waitEvent(t, discovered)
	assert.Equal(t, []string{"RDR-A"}, reader.Serials(ev.Readers))

	// No desired reader, so no connect happens.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, adapter.Counters().Connect)
	assert.Equal(t, "", m.DesiredReader())
}

func TestEmptyBatchIsANoOp(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	discovered := watch(m, events.KindReadersDiscovered)
	require.NoError(t, m.Connect(ctx, ""))

	ev := waitEvent(t, discovered)
	assert.Empty(t, ev.Readers)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, adapter.Counters().Connect)
}

func TestPersistSkipsMismatchedBatchAndRestarts(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(
		reader.DiscoveredReader{Serial: "RDR-B"},
		reader.DiscoveredReader{Serial: "RDR-C"},
	)
	m := newTestManager(t, reader.PolicyPersist, adapter, storage.NewMemStore())

	notFound := watch(m, events.KindPersistedReaderNotFound)
	require.NoError(t, m.Connect(ctx, "RDR-A"))

	ev := waitEvent(t, notFound)
	assert.Equal(t, []string{"RDR-B", "RDR-C"}, reader.Serials(ev.Readers))

	// The search restarts rather than connecting opportunistically.
	require.Eventually(t, func() bool {
		return adapter.Counters().Discover >= 2
	}, waitFor, tick)
	assert.Equal(t, 0, adapter.Counters().Connect)
	assert.Equal(t, "RDR-A", m.DesiredReader())
}

func TestPersistConnectWritesSerial(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	store := storage.NewMemStore()
	m := newTestManager(t, reader.PolicyPersist, adapter, store)

	persisted := watch(m, events.KindReaderPersisted)
	require.NoError(t, m.Connect(ctx, "RDR-A"))

	ev := waitEvent(t, persisted)
	assert.Equal(t, "RDR-A", ev.Serial)

	val, err := store.GetItem(ctx, connection.PersistKey)
	require.NoError(t, err)
	assert.Equal(t, "RDR-A", val)
}

func TestAutoNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	store := storage.NewMemStore()
	m := newTestManager(t, reader.PolicyAuto, adapter, store)

	require.NoError(t, m.Connect(ctx, ""))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick)

	val, err := store.GetItem(ctx, connection.PersistKey)
	require.NoError(t, err)
	assert.Equal(t, "", val, "non-persisting policy must not write the store")

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, "RDR-A", m.DesiredReader(), "non-persisting disconnect keeps the desired reader")
}

func TestPersistManualStart(t *testing.T) {
	ctx := context.Background()

	t.Run("WithPersistedSerial", func(t *testing.T) {
		adapter := sim.New()
		adapter.SetAvailable(
			reader.DiscoveredReader{Serial: "RDR-OTHER"},
			reader.DiscoveredReader{Serial: "RDR-X"},
		)
		store := storage.NewMemStore()
		require.NoError(t, store.SetItem(ctx, connection.PersistKey, "RDR-X"))
		m := newTestManager(t, reader.PolicyPersistManual, adapter, store)

		require.NoError(t, m.Start(ctx))
		assert.Equal(t, "RDR-X", m.DesiredReader())

		require.Eventually(t, func() bool {
			return connectedSerial(t, adapter) == "RDR-X"
		}, waitFor, tick, "start should target the persisted serial, not the strongest")
	})

	t.Run("WithoutPersistedSerial", func(t *testing.T) {
		adapter := sim.New()
		adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
		m := newTestManager(t, reader.PolicyPersistManual, adapter, storage.NewMemStore())

		require.NoError(t, m.Start(ctx))

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 0, adapter.Counters().Discover, "no persisted serial means no action")
		assert.Equal(t, "", m.DesiredReader())
	})
}

func TestManualStartDoesNothing(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	m := newTestManager(t, reader.PolicyManual, adapter, nil)

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, sim.Counters{}, adapter.Counters())
}

func TestConnectShortCircuitsWhenAlreadyConnected(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	require.NoError(t, m.Connect(ctx, "RDR-A"))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick)

	before := adapter.Counters()
	require.NoError(t, m.Connect(ctx, "RDR-A"))
	after := adapter.Counters()

	assert.Equal(t, before.Abort, after.Abort)
	assert.Equal(t, before.Disconnect, after.Disconnect)
	assert.Equal(t, before.Discover, after.Discover)
	assert.Equal(t, before.Connect, after.Connect)
}

func TestConnectToDifferentReaderDropsCurrent(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(
		reader.DiscoveredReader{Serial: "RDR-A"},
		reader.DiscoveredReader{Serial: "RDR-B"},
	)
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	require.NoError(t, m.Connect(ctx, "RDR-A"))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick)

	require.NoError(t, m.Connect(ctx, "RDR-B"))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-B"
	}, waitFor, tick)
	assert.GreaterOrEqual(t, adapter.Counters().Disconnect, 1)
	assert.GreaterOrEqual(t, adapter.Counters().Abort, 1)
}

func TestPersistDisconnectClearsEverything(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(
		reader.DiscoveredReader{Serial: "RDR-A"},
		reader.DiscoveredReader{Serial: "RDR-B"},
	)
	store := storage.NewMemStore()
	m := newTestManager(t, reader.PolicyPersist, adapter, store)

	require.NoError(t, m.Connect(ctx, "RDR-A"))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick)

	persisted := watch(m, events.KindReaderPersisted)
	require.NoError(t, m.Disconnect(ctx))

	ev := waitEvent(t, persisted)
	assert.Equal(t, "", ev.Serial, "clearing emits an empty serial")
	assert.Equal(t, "", m.DesiredReader())

	val, err := store.GetItem(ctx, connection.PersistKey)
	require.NoError(t, err)
	assert.Equal(t, "", val)

	// A later Start falls back to "any": it connects to the strongest
	// candidate instead of the old reader from storage.
	adapter.SetAvailable(
		reader.DiscoveredReader{Serial: "RDR-B"},
		reader.DiscoveredReader{Serial: "RDR-A"},
	)
	require.NoError(t, m.Start(ctx))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-B"
	}, waitFor, tick)
}

func TestConnectFailureRetriesUnlessManual(t *testing.T) {
	ctx := context.Background()

	t.Run("AutoRetriesAfterFailure", func(t *testing.T) {
		adapter := sim.New()
		adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
		boom := errors.New("radio glitch")
		adapter.SetConnectErr("RDR-A", boom)
		m := newTestManager(t, reader.PolicyAuto, adapter, nil)

		connErrs := watch(m, events.KindConnectionError)
		require.NoError(t, m.Connect(ctx, ""))

		ev := waitEvent(t, connErrs)
		require.ErrorIs(t, ev.Err, boom)

		// Clear the fault; the automatic restart should get us connected.
		adapter.SetConnectErr("RDR-A", nil)
		require.Eventually(t, func() bool {
			return connectedSerial(t, adapter) == "RDR-A"
		}, waitFor, tick)
		assert.GreaterOrEqual(t, adapter.Counters().Discover, 2)
	})

	t.Run("ManualSurfacesAndStops", func(t *testing.T) {
		adapter := sim.New()
		adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
		boom := errors.New("radio glitch")
		adapter.SetConnectErr("RDR-A", boom)
		m := newTestManager(t, reader.PolicyManual, adapter, nil)

		connErrs := watch(m, events.KindConnectionError)
		require.NoError(t, m.Connect(ctx, "RDR-A"))

		ev := waitEvent(t, connErrs)
		require.ErrorIs(t, ev.Err, boom)

		discoverAfterFailure := adapter.Counters().Discover
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, discoverAfterFailure, adapter.Counters().Discover,
			"manual policy must not restart the search on its own")
	})
}

func TestUnexpectedDisconnectTriggersReconnect(t *testing.T) {
	ctx := context.Background()

	for _, policy := range []reader.Policy{
		reader.PolicyAuto,
		reader.PolicyPersist,
		reader.PolicyManual,
		reader.PolicyPersistManual,
	} {
		t.Run(policy.String(), func(t *testing.T) {
			adapter := sim.New()
			adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
			var store storage.Store
			if policy.Persists() {
				store = storage.NewMemStore()
			}
			m := newTestManager(t, policy, adapter, store)

			require.NoError(t, m.Connect(ctx, "RDR-A"))
			require.Eventually(t, func() bool {
				return connectedSerial(t, adapter) == "RDR-A"
			}, waitFor, tick)

			before := adapter.Counters().Discover
			adapter.EmitUnexpectedDisconnect()

			require.Eventually(t, func() bool {
				return adapter.Counters().Discover > before
			}, waitFor, tick, "unexpected disconnect must restart the search")
			require.Eventually(t, func() bool {
				return connectedSerial(t, adapter) == "RDR-A"
			}, waitFor, tick, "and reconnect to the desired reader")
		})
	}
}

func TestPersistedSerialRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	m := newTestManager(t, reader.PolicyPersist, adapter, storage.NewMemStore())

	require.NoError(t, m.SetPersistedReaderSerialNumber(ctx, "RDR-42"))
	val, err := m.PersistedReaderSerialNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RDR-42", val)

	require.NoError(t, m.SetPersistedReaderSerialNumber(ctx, ""))
	val, err = m.PersistedReaderSerialNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	require.NoError(t, m.Connect(ctx, ""))
	require.Eventually(t, func() bool {
		return connectedSerial(t, adapter) == "RDR-A"
	}, waitFor, tick)

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, 0, adapter.ListenerCount(), "both subscriptions released together")
	assert.Equal(t, "", connectedSerial(t, adapter))

	// Idempotent, and public entry points reject further use.
	require.NoError(t, m.Stop(ctx))
	require.ErrorIs(t, m.Connect(ctx, ""), connection.ErrClosed)
	require.ErrorIs(t, m.Discover(ctx), connection.ErrClosed)
	require.ErrorIs(t, m.Disconnect(ctx), connection.ErrClosed)
}

func TestStopWithoutConnection(t *testing.T) {
	adapter := sim.New()
	m := newTestManager(t, reader.PolicyManual, adapter, nil)
	require.NoError(t, m.Stop(context.Background()))
}

func TestLogEventsNarrateConnects(t *testing.T) {
	ctx := context.Background()
	adapter := sim.New()
	adapter.SetAvailable(reader.DiscoveredReader{Serial: "RDR-A"})
	m := newTestManager(t, reader.PolicyAuto, adapter, nil)

	logs := watch(m, events.KindLog)
	require.NoError(t, m.Connect(ctx, ""))

	ev := waitEvent(t, logs)
	assert.Contains(t, ev.Message, "any reader")
}
