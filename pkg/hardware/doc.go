// Package hardware defines the boundary between the connection manager and
// the SDK that performs actual radio discovery and reader I/O.
//
// The manager drives a single Adapter. Discovery is asynchronous: a call to
// DiscoverReaders starts a scan and returns; results arrive in batches on
// the readers-discovered listener, ordered strongest-signal first. Adapters
// may deliver multiple batches per scan. Unsolicited connection loss is
// reported on the unexpected-disconnect listener.
//
// Implementations live in the subpackages sim (in-process simulation),
// bluez (bluetooth readers via BlueZ D-Bus) and mdnsreader (network readers
// via mDNS).
package hardware
