package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"
)

// Accept retry delays after failed accepts (for example EMFILE).
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Certificate is the server certificate.
	Certificate tls.Certificate

	// HandshakeTimeout bounds each server handshake (default: 10s).
	HandshakeTimeout time.Duration

	// Clock times accept retries (default: wall clock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Listener accepts TLS connections for the responding side of a pairing.
type Listener struct {
	config  ListenerConfig
	tlsConf *tls.Config
	ln      net.Listener
}

// Listen starts listening on address (host:port, port 0 picks a free port).
func Listen(address string, config ListenerConfig) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	l, err := newListener(ln, config)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return l, nil
}

func newListener(ln net.Listener, config ListenerConfig) (*Listener, error) {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	tlsConf, err := NewServerTLSConfig(config.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return &Listener{config: config, tlsConf: tlsConf, ln: ln}, nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next connection and completes its handshake.
// Closing the listener or cancelling ctx unblocks it.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	pc, err := l.AcceptPending(ctx)
	if err != nil {
		return nil, err
	}
	return pc.Handshake(ctx)
}

// AcceptPending waits for the next TCP connection without running the TLS
// handshake, so a slow client cannot hold up the accept loop.
//
// Failed accepts are retried with a growing delay until ctx is cancelled or
// the listener is closed.
func (l *Listener) AcceptPending(ctx context.Context) (*PendingConn, error) {
	stop := context.AfterFunc(ctx, func() {
		l.ln.Close()
	})
	defer stop()

	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err == nil {
			return &PendingConn{conn: conn, listener: l}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("accept: %w", err)
		}

		if delay == 0 {
			delay = minAcceptDelay
		} else {
			delay = min(2*delay, maxAcceptDelay)
		}
		if l.config.Logger != nil {
			l.config.Logger.Warn("accept failed, retrying", "error", err, "delay", delay)
		}

		timer := l.config.Clock.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// PendingConn is an accepted connection whose TLS handshake has not run.
type PendingConn struct {
	conn     net.Conn
	listener *Listener
}

// RemoteAddr returns the client's address.
func (p *PendingConn) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// Handshake runs the server handshake, bounded by the listener's
// HandshakeTimeout. The connection is closed on failure.
func (p *PendingConn) Handshake(ctx context.Context) (Conn, error) {
	hsCtx, cancel := context.WithTimeout(ctx, p.listener.config.HandshakeTimeout)
	defer cancel()

	tc := tls.Server(p.conn, p.listener.tlsConf)
	if err := tc.HandshakeContext(hsCtx); err != nil {
		p.conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	if p.listener.config.Logger != nil {
		p.listener.config.Logger.Debug("accepted", "remote", p.conn.RemoteAddr().String())
	}
	return newTLSConn(tc), nil
}

// Close drops the connection without a handshake.
func (p *PendingConn) Close() error {
	return p.conn.Close()
}
