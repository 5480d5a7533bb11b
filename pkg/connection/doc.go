// Package connection implements the policy-driven reader connection state
// machine.
//
// A Manager owns the desired-reader identity and reconciles every discovery
// batch delivered by the hardware adapter against the configured policy,
// issuing connect, disconnect and discover calls and emitting lifecycle
// events on its event bus.
//
// # Control flow
//
// The manager is reactive: Connect, Start and the unexpected-disconnect
// handler only kick off a discovery scan; the actual connect decision is
// made in the discovery callback when a batch arrives. A batch with no
// eligible reader restarts the search after one backoff step; a failed
// connect attempt does too, unless the policy is PolicyManual.
//
// # Concurrency
//
// Overlapping triggers (a caller-invoked Connect racing an automatic
// reconnect) are serialized by a single-slot in-flight attempt guard: while
// one connect attempt or automatic restart is in flight, discovery batches
// are surfaced on the event bus but do not start a second attempt. Starting
// a new discovery scan always aborts the previous one first; that is the
// only cancellation mechanism, and all timing beyond the restart backoff is
// delegated to the adapter.
//
// # Known quirks, kept on purpose
//
// Disconnect under the non-persisting policies leaves the desired reader in
// place, so a later unexpected-disconnect notification reconnects to a
// reader the caller just disconnected from. Unexpected disconnects also
// trigger reconnection under PolicyManual. Both behaviors match the
// original product semantics; change them only with product sign-off.
package connection
