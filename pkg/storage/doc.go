// Package storage provides the key-value persistence boundary used to
// remember the chosen reader across restarts.
//
// The connection manager consumes the Store interface and uses exactly one
// key. FileStore is the durable implementation (a small JSON file, written
// atomically enough for single-writer use); MemStore backs tests and
// ephemeral runs. An absent key reads as the empty string, never an error.
package storage
