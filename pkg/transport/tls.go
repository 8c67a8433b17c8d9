package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// Keying material export parameters. The label includes the trailing NUL.
const (
	EKMLabel = "adb-label\x00"
	EKMSize  = 64
)

// ErrNoCertificate is returned when a TLS config is built without a certificate.
var ErrNoCertificate = errors.New("certificate is required")

// NewClientTLSConfig returns the TLS configuration for the dialing side.
// The server certificate is not verified; pairing trust comes from the PAKE.
func NewClientTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	return &tls.Config{
		// TLS 1.3 only
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// No resumption: every pairing attempt gets fresh keying material.
		SessionTicketsDisabled: true,
	}, nil
}

// NewServerTLSConfig returns the TLS configuration for the accepting side.
// Client certificates are requested but not verified.
func NewServerTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequestClientCert,

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		SessionTicketsDisabled: true,
	}, nil
}

// VerifyTLS13 checks that a connection negotiated TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// tlsConn adapts a handshaken *tls.Conn to Conn.
type tlsConn struct {
	*tls.Conn
	state tls.ConnectionState
}

func newTLSConn(c *tls.Conn) *tlsConn {
	return &tlsConn{Conn: c, state: c.ConnectionState()}
}

func (c *tlsConn) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	return c.state.ExportKeyingMaterial(label, context, length)
}

func (c *tlsConn) RemoteAddr() net.Addr {
	return c.Conn.RemoteAddr()
}

func (c *tlsConn) PeerCertificate() *x509.Certificate {
	if len(c.state.PeerCertificates) == 0 {
		return nil
	}
	return c.state.PeerCertificates[0]
}
