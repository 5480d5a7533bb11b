// Package sim provides an in-process simulated hardware adapter.
//
// The simulator backs the connection manager tests and the daemon's demo
// mode: tests script the set of "nearby" readers, inject connect failures,
// and fire unexpected disconnects, then assert on the manager's behavior
// through its call counters and the event bus.
package sim
