// Package events provides the per-instance event bus used by the connection
// manager to surface lifecycle events to external observers.
//
// Each Bus is owned by a single manager instance; multiple managers in one
// process do not share listeners. Emission is fire-and-forget: Emit enqueues
// the event and returns without waiting for handlers, and a single dispatch
// goroutine invokes handlers in emission order.
//
// # Event kinds
//
//   - KindReadersDiscovered: every discovery callback, unconditionally.
//   - KindConnectionError: a connect attempt failed.
//   - KindPersistedReaderNotFound: discovery yielded readers but none was
//     eligible under the current policy and desired reader.
//   - KindReaderPersisted: the persisted serial was written or cleared.
//   - KindLog: human-readable narration of connect attempts.
package events
