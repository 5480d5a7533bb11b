// Package mdnsreader implements the hardware adapter for network
// attached readers that announce themselves over mDNS.
//
// Readers advertise a _readerlink._tcp service whose TXT records carry
// the serial number, label and model. A discovery scan browses for the
// service type for a fixed window and delivers everything found as one
// batch. Connecting opens a plain TCP session to the advertised
// endpoint; a session that drops without DisconnectReader being called
// fires the unexpected-disconnect listeners.
//
// Advertise registers a service for a reader, which is how the bundled
// fake reader makes itself discoverable.
package mdnsreader
