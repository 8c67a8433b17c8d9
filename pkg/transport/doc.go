// Package transport provides the TLS connection and packet framing used for
// pairing with a debug bridge host.
//
// # Protocol Stack
//
//	┌────────────────────────────────────┐
//	│  PAKE messages / encrypted frames  │
//	├────────────────────────────────────┤
//	│  Packet header (6B)                │
//	├────────────────────────────────────┤
//	│  TLS 1.3                           │
//	├────────────────────────────────────┤
//	│  TCP                               │
//	└────────────────────────────────────┘
//
// # TLS
//
// Both sides present self-signed certificates and skip chain verification.
// Authentication comes from the PAKE, which is bound to the TLS session
// through exported keying material (see EKMLabel).
//
// # Packet Header
//
//	version(1) = 1 | type(1) | length(4, big-endian) | payload
//
// Payloads are limited to MaxPayloadSize bytes.
package transport
