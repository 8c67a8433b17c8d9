package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DialerConfig configures a TLSDialer.
type DialerConfig struct {
	// Certificate is presented to the peer as the client certificate.
	Certificate tls.Certificate

	// ConnectTimeout bounds TCP connect plus handshake when the context has
	// no deadline (default: 10s).
	ConnectTimeout time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// TLSDialer dials TCP and runs a TLS 1.3 client handshake.
type TLSDialer struct {
	config  DialerConfig
	tlsConf *tls.Config
}

// NewTLSDialer creates a dialer presenting config.Certificate.
func NewTLSDialer(config DialerConfig) (*TLSDialer, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	tlsConf, err := NewClientTLSConfig(config.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return &TLSDialer{config: config, tlsConf: tlsConf}, nil
}

func (d *TLSDialer) debugLog(msg string, args ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, args...)
	}
}

// Dial connects to address and completes the handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tc := tls.Client(conn, d.tlsConf)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyTLS13(tc.ConnectionState()); err != nil {
		tc.Close()
		return nil, err
	}

	d.debugLog("connected", "address", address)
	return newTLSConn(tc), nil
}
