package keystore

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"time"
)

// Identity parameters.
const (
	// KeyBits is the RSA modulus size of the device identity.
	KeyBits = 2048

	// IdentityValidity is how long the identity certificate is valid.
	// Long enough that it never needs operational re-issuance.
	IdentityValidity = 10 * 365 * 24 * time.Hour

	// ClockSkewAllowance backdates NotBefore so peers with slightly wrong
	// clocks still accept a freshly generated certificate.
	ClockSkewAllowance = 24 * time.Hour

	// IDLength is the length of a peer ID in hex characters.
	IDLength = 16
)

// Store errors.
var (
	ErrStorageFault  = errors.New("storage fault")
	ErrInvalidCert   = errors.New("invalid certificate")
	ErrPeerNotFound  = errors.New("peer not found")
	ErrKeyMismatch   = errors.New("private key does not match certificate")
	ErrWrongPassword = errors.New("wrong passphrase for sealed key")
)

// DeviceIdentity is the device's pairing identity.
type DeviceIdentity struct {
	// GUID is the stable device identifier embedded as the certificate CN.
	GUID string

	// Certificate is the self-signed identity certificate.
	Certificate *x509.Certificate

	// PrivateKey never leaves the process unsealed.
	PrivateKey *rsa.PrivateKey
}

// TLSCertificate converts the identity into a tls.Certificate suitable for
// presenting as a TLS client certificate.
func (id *DeviceIdentity) TLSCertificate() tls.Certificate {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return tls.Certificate{}
	}
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// ID returns the identity's own fingerprint, as a peer would see it.
func (id *DeviceIdentity) ID() string {
	peerID, _ := PeerID(id.Certificate)
	return peerID
}

// TrustedPeer is a host certificate accepted after a successful pairing.
type TrustedPeer struct {
	// ID is the public key fingerprint (see PeerID).
	ID string

	// Certificate is the peer certificate received during pairing.
	Certificate *x509.Certificate

	// Address is the host:port the peer was paired at (informational).
	Address string

	// PairedAt is when the pairing completed.
	PairedAt time.Time
}

// ExpiresAt returns when the peer certificate expires.
func (p TrustedPeer) ExpiresAt() time.Time {
	if p.Certificate == nil {
		return time.Time{}
	}
	return p.Certificate.NotAfter
}

// PeerID derives the peer identifier from a certificate.
//
// The ID is the first 64 bits (16 hex chars) of SHA-256(public key DER), so it
// stays stable when the peer re-issues its certificate for the same key.
func PeerID(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", ErrInvalidCert
	}
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", errors.Join(ErrInvalidCert, err)
	}
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:8]), nil
}
