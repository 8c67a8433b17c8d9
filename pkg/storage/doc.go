// Package storage provides the durable key-value backends used to persist the
// device identity and the trusted-peer list.
//
// Keys are slash-separated paths such as "identity/cert.pem". Three backends
// are available:
//   - FileStorage: one file per key below a base directory, written atomically
//   - BoltStorage: a single bbolt database file
//   - MemoryStorage: process-local, for tests
//
// All backends are safe for concurrent use.
package storage
