// Package keystore owns the device's long-lived pairing identity and the list
// of host certificates trusted after a successful pairing.
//
// # Identity
//
// The identity is an RSA-2048 key pair with a self-signed X.509 certificate
// whose common name is a stable device GUID. It is generated once, on the first
// call to EnsureIdentity, and reused for every later pairing: re-issuing it
// would invalidate every trust relationship established with the old key.
// When a passphrase is configured the private key is stored inside an
// argon2id/XChaCha20-Poly1305 envelope.
//
// # Trust list
//
// Trusted peers are keyed by a 64-bit fingerprint of their public key
// (see PeerID). Writes are serialized and the whole list is persisted as one
// document, so a failed write never leaves a partial record behind.
//
// # Storage layout
//
//	identity/key.pem    private key (PEM or sealed envelope)
//	identity/cert.pem   certificate, written last
//	trust/peers.json    trusted peers
package keystore
