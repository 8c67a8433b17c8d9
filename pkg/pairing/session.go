package pairing

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// Session errors.
var (
	// ErrSessionReused is returned when Run is called more than once.
	ErrSessionReused = errors.New("pairing session already used")

	// ErrInvalidAddress is returned for unusable peer addresses.
	ErrInvalidAddress = errors.New("invalid peer address")
)

// TrustStore persists trusted peers. Implemented by *keystore.KeyStore.
type TrustStore interface {
	Trust(cert *x509.Certificate, address string) (keystore.TrustedPeer, error)
}

var _ TrustStore = (*keystore.KeyStore)(nil)

// Phase is the progress of a pairing session.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseKeyExchange
	PhaseCertExchange
	PhaseTrusting
	PhaseSucceeded
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseConnecting:
		return "Connecting"
	case PhaseKeyExchange:
		return "KeyExchange"
	case PhaseCertExchange:
		return "CertExchange"
	case PhaseTrusting:
		return "Trusting"
	case PhaseSucceeded:
		return "Succeeded"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// IsTerminal reports whether the phase is Succeeded or Failed.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives packet and phase events. Optional.
	ProtocolLogger log.Logger
}

// Session is a single pairing attempt from the device side.
// Run may be called once; the other methods are safe for concurrent use.
type Session struct {
	id        string
	transport transport.Transport
	trust     TrustStore
	config    SessionConfig
	proto     log.Logger

	started atomic.Bool

	mu        sync.Mutex
	phase     Phase
	address   string
	startedAt time.Time
}

// NewSession creates a session that dials through tr and records the peer in
// trust on success.
func NewSession(tr transport.Transport, trust TrustStore, config SessionConfig) *Session {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Session{
		id:        uuid.NewString(),
		transport: tr,
		trust:     trust,
		config:    config,
		proto:     log.OrNoop(config.ProtocolLogger),
	}
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, append([]any{"session", s.id}, args...)...)
	}
}

// ID returns the session ID used in protocol logs.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Address returns the peer address once Run has started.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// StartedAt returns when Run started.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) setPhase(phase Phase, reason string) {
	s.mu.Lock()
	old := s.phase
	s.phase = phase
	address := s.address
	s.mu.Unlock()

	s.debugLog("phase", "from", old, "to", phase, "reason", reason)
	s.proto.Log(log.Event{
		Timestamp:    s.config.Clock.Now(),
		ConnectionID: s.id,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		LocalRole:    log.RoleDevice,
		RemoteAddr:   address,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old.String(),
			NewState: phase.String(),
			Reason:   reason,
		},
	})
}

// Run performs the pairing attempt: connect to address, run the key exchange
// with code, swap certificates and trust the peer. It returns when the
// attempt reaches a terminal phase. Cancelling ctx closes the connection and
// fails the attempt without touching the trust list.
func (s *Session) Run(ctx context.Context, code pake.Code, address string, identity *keystore.DeviceIdentity) Outcome {
	if !s.started.CompareAndSwap(false, true) {
		return failed(ErrSessionReused)
	}

	start := s.config.Clock.Now()
	s.mu.Lock()
	s.address = address
	s.startedAt = start
	s.mu.Unlock()

	peer, err := s.run(ctx, code, address, identity)

	var out Outcome
	if err != nil {
		// A read unblocked by the cancellation close surfaces as a network
		// error; report the cancellation cause instead.
		if ctxErr := ctx.Err(); ctxErr != nil && Classify(err) == ReasonNetworkError {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		out = failed(err)
		s.setPhase(PhaseFailed, out.Reason.String())
		s.proto.Log(log.Event{
			Timestamp:    s.config.Clock.Now(),
			ConnectionID: s.id,
			Layer:        log.LayerSession,
			Category:     log.CategoryError,
			LocalRole:    log.RoleDevice,
			RemoteAddr:   address,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSession,
				Message: err.Error(),
				Context: out.Reason.String(),
			},
		})
	} else {
		out = succeeded(peer)
		s.setPhase(PhaseSucceeded, "")
	}

	out.SessionID = s.id
	out.Duration = s.config.Clock.Since(start)
	return out
}

func (s *Session) run(ctx context.Context, code pake.Code, address string, identity *keystore.DeviceIdentity) (peer keystore.TrustedPeer, err error) {
	if identity == nil || identity.Certificate == nil {
		return peer, fmt.Errorf("%w: no device identity", keystore.ErrStorageFault)
	}
	if err := ctx.Err(); err != nil {
		return peer, err
	}

	s.setPhase(PhaseConnecting, "")
	raw, err := s.transport.Dial(ctx, address)
	if err != nil {
		return peer, fmt.Errorf("connect to %s: %w", address, err)
	}
	conn := &onceCloseConn{Conn: raw}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		stop()
		closeErr := conn.Close()
		switch {
		case closeErr == nil:
		case err != nil:
			err = multierr.Append(err, closeErr)
		default:
			s.debugLog("close after success", "error", closeErr)
		}
	}()

	x := newExchange(conn, pake.RoleClient, &transport.LogContext{
		Logger:       s.config.ProtocolLogger,
		ConnectionID: s.id,
		Role:         log.RoleDevice,
		RemoteAddr:   address,
		Clock:        s.config.Clock,
	})

	s.setPhase(PhaseKeyExchange, "")
	codec, err := x.keyExchange(code)
	if err != nil {
		return peer, fmt.Errorf("key exchange: %w", err)
	}
	defer codec.Destroy()

	s.setPhase(PhaseCertExchange, "")
	cert, err := x.certExchange(codec, identity.Certificate, s.config.Clock.Now())
	if err != nil {
		return peer, fmt.Errorf("certificate exchange: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return peer, err
	}

	s.setPhase(PhaseTrusting, "")
	peer, err = s.trust.Trust(cert, address)
	if err != nil {
		return peer, fmt.Errorf("trust peer: %w", err)
	}
	s.debugLog("peer trusted", "peerID", peer.ID, "address", address)
	return peer, nil
}

// onceCloseConn makes Close idempotent so the cancellation hook and the
// deferred close can race safely.
type onceCloseConn struct {
	transport.Conn
	once sync.Once
	err  error
}

func (c *onceCloseConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}
