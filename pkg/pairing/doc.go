// Package pairing runs wireless-debugging pairing attempts against a debug
// bridge host.
//
// # Overview
//
// A pairing attempt connects to the host's pairing port over TLS, proves
// knowledge of the six-digit code shown on the host with a PAKE, exchanges
// identity certificates inside frames sealed with the PAKE session key, and
// finally records the host's certificate as trusted.
//
// # Session Phases
//
//	Connecting → KeyExchange → CertExchange → Trusting → Succeeded
//	     └───────────┴──────────────┴────────────┴─────→ Failed(reason)
//
// A Session runs exactly one attempt. The transport connection is closed on
// every exit path and the trust list is written at most once, after both
// certificates have been exchanged.
//
// # Coordinator
//
// Coordinator is the entry point for callers. It allows one in-flight attempt
// per peer address, bounds each attempt with a timeout, optionally rate
// limits attempts and backs off after repeated authentication failures, and
// exports Prometheus metrics.
//
// # Responder
//
// Responder plays the host side of the exchange. It is used by tests and by
// the serve command to pair two instances of this module.
package pairing
