// Package reader defines the shared domain types for readerlink: connection
// policies, device categories, discovery methods, and the reader records
// exchanged between the connection manager and hardware adapters.
//
// # Policies
//
// A Policy governs how aggressively the connection manager auto-connects and
// whether the chosen reader is remembered across restarts:
//
//   - PolicyAuto: connect to the strongest discovered reader, retry on
//     failure, remember nothing.
//   - PolicyPersist: like PolicyAuto, but the connected reader's serial is
//     written to durable storage and targeted again after a restart.
//   - PolicyManual: never connect automatically; the caller drives every
//     connect attempt.
//   - PolicyPersistManual: remember the reader like PolicyPersist, but only
//     reconnect at startup when a persisted serial exists; otherwise wait
//     for the caller.
//
// The policy is fixed for the lifetime of a connection manager.
package reader
