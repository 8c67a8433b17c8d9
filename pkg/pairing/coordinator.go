package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// DefaultTimeout bounds one pairing attempt.
const DefaultTimeout = 30 * time.Second

// Coordinator rejections.
var (
	ErrAlreadyInProgress = errors.New("pairing already in progress")
	ErrRateLimited       = errors.New("pairing rate limited")
)

// Store provides the device identity and records trusted peers.
// Implemented by *keystore.KeyStore.
type Store interface {
	EnsureIdentity() (*keystore.DeviceIdentity, error)
	TrustStore
}

var _ Store = (*keystore.KeyStore)(nil)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Timeout bounds each attempt (default: DefaultTimeout).
	Timeout time.Duration

	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives packet and phase events. Optional.
	ProtocolLogger log.Logger

	// Registerer receives the coordinator's metrics. Optional.
	Registerer prometheus.Registerer

	// Limiter bounds the overall attempt rate. Optional.
	Limiter *rate.Limiter

	// Backoff holds back addresses after repeated authentication failures
	// (default: NewAttemptTracker(DefaultBackoffTiers)).
	Backoff *AttemptTracker
}

type attempt struct {
	session *Session
	cancel  context.CancelFunc
}

// Coordinator starts pairing attempts, allowing at most one in flight per
// peer address. It is safe for concurrent use.
type Coordinator struct {
	store     Store
	transport transport.Transport
	config    CoordinatorConfig
	metrics   *metrics

	mu       sync.Mutex
	inflight map[string]*attempt
}

// NewCoordinator creates a coordinator that dials through tr and persists
// peers in store.
func NewCoordinator(store Store, tr transport.Transport, config CoordinatorConfig) (*Coordinator, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Backoff == nil {
		config.Backoff = NewAttemptTracker(DefaultBackoffTiers)
	}

	m, err := newMetrics(config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Coordinator{
		store:     store,
		transport: tr,
		config:    config,
		metrics:   m,
		inflight:  make(map[string]*attempt),
	}, nil
}

func (c *Coordinator) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

// RequestHostPort is Request for a host and port pair.
func (c *Coordinator) RequestHostPort(ctx context.Context, code, host string, port int) Outcome {
	if host == "" || port < 1 || port > 65535 {
		out := failed(fmt.Errorf("%w: host %q port %d", ErrInvalidAddress, host, port))
		c.finish("", out)
		return out
	}
	return c.Request(ctx, code, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Request pairs with the host at address using code and blocks until the
// attempt is terminal, the timeout expires or ctx is cancelled.
//
// A request for an address that already has an attempt in flight is
// rejected immediately with ReasonAlreadyInProgress.
func (c *Coordinator) Request(ctx context.Context, code, address string) Outcome {
	out := c.request(ctx, code, address)
	c.finish(address, out)
	return out
}

func (c *Coordinator) request(ctx context.Context, rawCode, address string) Outcome {
	code, err := pake.ParseCode(rawCode)
	if err != nil {
		return failed(err)
	}
	if err := validateAddress(address); err != nil {
		return failed(err)
	}

	c.mu.Lock()
	if _, busy := c.inflight[address]; busy {
		c.mu.Unlock()
		return rejected(ReasonAlreadyInProgress, fmt.Errorf("%w: %s", ErrAlreadyInProgress, address))
	}
	now := c.config.Clock.Now()
	if wait := c.config.Backoff.Blocked(address, now); wait > 0 {
		c.mu.Unlock()
		return rejected(ReasonRateLimited, fmt.Errorf("%w: %s held back for %s after failed attempts", ErrRateLimited, address, wait))
	}
	if c.config.Limiter != nil && !c.config.Limiter.AllowN(now, 1) {
		c.mu.Unlock()
		return rejected(ReasonRateLimited, ErrRateLimited)
	}

	ctx, cancel := c.config.Clock.WithTimeout(ctx, c.config.Timeout)
	session := NewSession(c.transport, c.store, SessionConfig{
		Clock:          c.config.Clock,
		Logger:         c.config.Logger,
		ProtocolLogger: c.config.ProtocolLogger,
	})
	c.inflight[address] = &attempt{session: session, cancel: cancel}
	c.mu.Unlock()

	c.metrics.inflight.Inc()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.inflight, address)
		c.mu.Unlock()
		c.metrics.inflight.Dec()
	}()

	identity, err := c.store.EnsureIdentity()
	if err != nil {
		return failed(fmt.Errorf("device identity: %w", err))
	}

	c.debugLog("pairing started", "address", address, "session", session.ID())
	out := session.Run(ctx, code, address, identity)

	switch out.Reason {
	case ReasonNone:
		c.config.Backoff.Reset(address)
	case ReasonAuthFailed:
		c.config.Backoff.RecordFailure(address, c.config.Clock.Now())
	}
	return out
}

func (c *Coordinator) finish(address string, out Outcome) {
	c.metrics.observe(out)

	if c.config.Logger != nil {
		args := []any{"address", address, "outcome", out.String(), "duration", out.Duration}
		if out.Peer != nil {
			args = append(args, "peerID", out.Peer.ID)
		}
		if out.Err != nil {
			args = append(args, "error", out.Err)
		}
		c.config.Logger.Info("pairing finished", args...)
	}

	if out.Status == StatusRejected && c.config.ProtocolLogger != nil {
		c.config.ProtocolLogger.Log(log.Event{
			Timestamp:  c.config.Clock.Now(),
			Layer:      log.LayerSession,
			Category:   log.CategoryState,
			RemoteAddr: address,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityCoordinator,
				NewState: out.Status.String(),
				Reason:   out.Reason.String(),
			},
		})
	}
}

// InFlight returns the addresses with a running attempt, sorted.
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs := make([]string, 0, len(c.inflight))
	for addr := range c.inflight {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Phase returns the phase of the attempt running against address.
func (c *Coordinator) Phase(address string) (Phase, bool) {
	c.mu.Lock()
	a, ok := c.inflight[address]
	c.mu.Unlock()

	if !ok {
		return PhaseIdle, false
	}
	return a.session.Phase(), true
}

// Cancel aborts the attempt running against address. The attempt resolves
// as failed and its connection is closed.
func (c *Coordinator) Cancel(address string) bool {
	c.mu.Lock()
	a, ok := c.inflight[address]
	c.mu.Unlock()

	if ok {
		a.cancel()
	}
	return ok
}

// CancelAll aborts every running attempt.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.inflight {
		a.cancel()
	}
}

func validateAddress(address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if host == "" {
		return fmt.Errorf("%w: empty host in %q", ErrInvalidAddress, address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, address)
	}
	return nil
}
