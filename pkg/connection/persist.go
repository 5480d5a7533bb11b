package connection

import (
	"context"
	"fmt"

	"github.com/readerlink/readerlink-go/pkg/events"
)

// PersistKey is the fixed store key under which the chosen reader's serial
// survives process restarts. Only the persisting policies touch it.
const PersistKey = "readerlink.reader"

// persistAfterConnect is the post-connect persistence hook, keyed by
// policy. A store failure here is reported but does not undo the
// established connection.
func (m *Manager) persistAfterConnect(ctx context.Context, attemptID, serial string) {
	if !m.policy.Persists() {
		return
	}

	if err := m.store.SetItem(ctx, PersistKey, serial); err != nil {
		m.logger.Error("persisting reader serial failed", "serial", serial, "error", err)
		m.emitLogf(attemptID, "persisting reader %s failed: %v", serial, err)
		return
	}
	m.emit(attemptID, events.Event{Kind: events.KindReaderPersisted, Serial: serial})
}

// clearPersisted removes the stored serial and reports the cleared value.
func (m *Manager) clearPersisted(ctx context.Context) error {
	if err := m.store.RemoveItem(ctx, PersistKey); err != nil {
		return fmt.Errorf("clear persisted reader: %w", err)
	}
	m.emit("", events.Event{Kind: events.KindReaderPersisted})
	return nil
}

// PersistedReaderSerialNumber reads the stored serial. An absent value
// reads as the empty string.
func (m *Manager) PersistedReaderSerialNumber(ctx context.Context) (string, error) {
	return m.store.GetItem(ctx, PersistKey)
}

// SetPersistedReaderSerialNumber writes the stored serial; an empty serial
// removes the stored value. Either way a reader-persisted event is emitted.
func (m *Manager) SetPersistedReaderSerialNumber(ctx context.Context, serial string) error {
	if serial == "" {
		if err := m.store.RemoveItem(ctx, PersistKey); err != nil {
			return fmt.Errorf("clear persisted reader: %w", err)
		}
		m.emit("", events.Event{Kind: events.KindReaderPersisted})
		return nil
	}

	if err := m.store.SetItem(ctx, PersistKey, serial); err != nil {
		return fmt.Errorf("persist reader: %w", err)
	}
	m.emit("", events.Event{Kind: events.KindReaderPersisted, Serial: serial})
	return nil
}
