// Package log captures pairing protocol events for debugging.
//
// Protocol capture is separate from operational logging (slog): it records a
// machine-readable trace of every packet, phase change and failure of a
// pairing attempt.
//
// # Basic Usage
//
//	// Console output while developing
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture for later analysis
//	fl, _ := log.NewFileLogger("/var/lib/adbpair/pairing.plog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: pairing packets as written to and read from the TLS stream (PacketEvent)
//   - Pake: key exchange progress (StateChangeEvent)
//   - Session: pairing phase transitions and outcomes (StateChangeEvent)
//
// Errors at any layer are recorded with ErrorEventData. Packet payloads are
// truncated to MaxLogPayloadSize; payloads are ciphertext or public PAKE
// values, never the code or the session key.
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events with integer keys.
// Reader streams them back with optional filtering.
package log
