package keystore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrWeakKey         = errors.New("certificate key too weak")
)

// MinRSABits is the smallest RSA key accepted from a peer.
const MinRSABits = 2048

// ValidatePeerCertificate checks that a certificate received during pairing is
// well formed, currently valid and carries an acceptable public key.
// The certificate is self-signed by the peer; pairing trust comes from the key
// exchange, so no chain is verified.
func ValidatePeerCertificate(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if now.Before(cert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if pub.N.BitLen() < MinRSABits {
			return fmt.Errorf("%w: RSA %d bits", ErrWeakKey, pub.N.BitLen())
		}
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() && pub.Curve != elliptic.P384() {
			return fmt.Errorf("%w: curve %s", ErrWeakKey, pub.Curve.Params().Name)
		}
	case ed25519.PublicKey:
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrInvalidCert, cert.PublicKey)
	}
	return nil
}
