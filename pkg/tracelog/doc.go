// Package tracelog provides machine-readable lifecycle tracing for
// readerlink.
//
// The connection manager can be given a Logger; it then records every
// lifecycle event (discovery batches, connect attempts, failures,
// persistence writes) as a compact CBOR record. Trace files use the .rlog
// extension and can be decoded with ReadFile.
//
// Tracing is separate from operational logging (slog): the trace is a
// complete machine-readable record of what the state machine did, intended
// for debugging reconnection behavior in the field.
//
//	trace, _ := tracelog.NewFileLogger("/var/log/readerlink/agent.rlog")
//	defer trace.Close()
package tracelog
