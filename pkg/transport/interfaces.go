package transport

import (
	"context"
	"crypto/x509"
	"io"
	"net"
)

// Transport opens connections to pairing peers.
// Implemented by TLSDialer.
type Transport interface {
	// Dial connects to address (host:port) and completes the TLS handshake.
	Dial(ctx context.Context, address string) (Conn, error)
}

// Conn is an established, encrypted byte stream to a peer.
type Conn interface {
	io.ReadWriteCloser

	// ExportKeyingMaterial exports keying material bound to this TLS session.
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// PeerCertificate returns the certificate the peer presented during the
	// handshake, or nil.
	PeerCertificate() *x509.Certificate
}

// PacketReadWriter provides pairing packet I/O.
// Implemented by PacketStream.
type PacketReadWriter interface {
	ReadPacket() (Packet, error)
	WritePacket(p Packet) error
}

var (
	_ Transport        = (*TLSDialer)(nil)
	_ Conn             = (*tlsConn)(nil)
	_ PacketReadWriter = (*PacketStream)(nil)
)
