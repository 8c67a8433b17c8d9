// Package pake implements the password-authenticated key exchange used when
// pairing a device with a debug bridge host.
//
// # Protocol
//
// The exchange is balanced SPAKE2 (RFC 9382) over P-256 with SHA-256. Both
// sides hold the same low-entropy password (the six-digit pairing code bound
// to the TLS channel) and derive a 16-byte session key:
//
//	client                                   server
//	  Start(pw)        ── X = x·G + w·M ──▶
//	                   ◀── Y = y·G + w·N ──   Start(pw)
//	  OnPeerCommit(Y)  ── cA ─────────────▶   OnPeerCommit(X)
//	                   ◀── cB ─────────────
//	  OnPeerConfirm(cB)                       OnPeerConfirm(cA)
//
// Each side's confirmation is an HMAC over the full transcript, so a wrong
// code is detected before any application data is exchanged.
//
// # State Machine
//
//	Init → SentCommit → ReceivedCommit → SentConfirm → Confirmed | Failed
//
// Any malformed or out-of-order message moves the engine to Failed. A failed
// engine cannot be reused; callers start over with a new Engine and a freshly
// entered code.
package pake
