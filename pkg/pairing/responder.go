package pairing

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Identity is the certificate sent to the pairing device. Required.
	Identity *keystore.DeviceIdentity

	// Trust records paired devices when set.
	Trust TrustStore

	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives packet events. Optional.
	ProtocolLogger log.Logger
}

// Responder runs the host side of the exchange on accepted connections.
// It is safe for concurrent use; each Serve call is independent.
type Responder struct {
	config ResponderConfig
}

// NewResponder creates a Responder.
func NewResponder(config ResponderConfig) (*Responder, error) {
	if config.Identity == nil || config.Identity.Certificate == nil {
		return nil, errors.New("responder identity is required")
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Responder{config: config}, nil
}

// Serve runs one exchange on conn with code and returns the device's
// certificate. conn is always closed. With a TrustStore configured the
// device is trusted before Serve returns.
func (r *Responder) Serve(ctx context.Context, conn transport.Conn, code pake.Code) (cert *x509.Certificate, err error) {
	c := &onceCloseConn{Conn: conn}
	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer func() {
		stop()
		if closeErr := c.Close(); closeErr != nil && err != nil {
			err = multierr.Append(err, closeErr)
		}
		if err != nil && ctx.Err() != nil && Classify(err) == ReasonNetworkError {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}()

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	id := uuid.NewString()
	x := newExchange(c, pake.RoleServer, &transport.LogContext{
		Logger:       r.config.ProtocolLogger,
		ConnectionID: id,
		Role:         log.RoleHost,
		RemoteAddr:   remote,
		Clock:        r.config.Clock,
	})

	codec, err := x.keyExchange(code)
	if err != nil {
		return nil, fmt.Errorf("key exchange: %w", err)
	}
	defer codec.Destroy()

	cert, err = x.certExchange(codec, r.config.Identity.Certificate, r.config.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("certificate exchange: %w", err)
	}

	if r.config.Trust != nil {
		peer, err := r.config.Trust.Trust(cert, remote)
		if err != nil {
			return nil, fmt.Errorf("trust device: %w", err)
		}
		if r.config.Logger != nil {
			r.config.Logger.Debug("device trusted", "peerID", peer.ID, "remote", remote, "conn", id)
		}
	}
	return cert, nil
}
