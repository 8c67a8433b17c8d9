package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
	"github.com/adbautoenable/adbpair-go/pkg/log"
	"github.com/adbautoenable/adbpair-go/pkg/pairing"
	"github.com/adbautoenable/adbpair-go/pkg/pake"
	"github.com/adbautoenable/adbpair-go/pkg/storage"
	"github.com/adbautoenable/adbpair-go/pkg/transport"
)

// app wires storage, the key store and the coordinator for one run.
type app struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry
	proto    log.Logger
	keys     *keystore.KeyStore
	coord    *pairing.Coordinator

	closers []io.Closer
}

func newApp(config Config, out io.Writer) (*app, error) {
	level, err := parseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	a := &app{
		config:   config,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector())

	if err := a.open(); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *app) open() error {
	st, err := a.openStorage()
	if err != nil {
		return err
	}

	a.keys, err = keystore.Open(st, keystore.Config{
		Passphrase:   a.config.Passphrase(),
		Organization: a.config.Organization,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}

	// Protocol events go to the debug log, and to a CBOR file when configured.
	loggers := []log.Logger{log.NewSlogAdapter(a.logger)}
	if a.config.ProtocolLog != "" {
		fl, err := log.NewFileLogger(a.config.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		a.closers = append(a.closers, fl)
		loggers = append(loggers, fl)
	}
	a.proto = log.NewMultiLogger(loggers...)

	identity, err := a.keys.EnsureIdentity()
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	dialer, err := transport.NewTLSDialer(transport.DialerConfig{
		Certificate: identity.TLSCertificate(),
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if a.config.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.config.RatePerMinute/60), a.config.RateBurst)
	}

	a.coord, err = pairing.NewCoordinator(a.keys, dialer, pairing.CoordinatorConfig{
		Timeout:        a.config.Timeout,
		Logger:         a.logger,
		ProtocolLogger: a.proto,
		Registerer:     a.registry,
		Limiter:        limiter,
	})
	return err
}

func (a *app) openStorage() (storage.Storage, error) {
	if err := os.MkdirAll(a.config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch a.config.Storage {
	case StorageBolt:
		st, err := storage.OpenBoltStorage(filepath.Join(a.config.DataDir, "adbpair.db"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st)
		return st, nil
	default:
		return storage.NewFileStorage(a.config.DataDir), nil
	}
}

// Close releases storage and log files.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

// serveMetrics runs the Prometheus endpoint until ctx is done.
func (a *app) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics endpoint", "address", a.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// pair runs one pairing attempt and reports the outcome on w.
func (a *app) pair(ctx context.Context, w io.Writer, address, code string) pairing.Outcome {
	out := a.coord.Request(ctx, code, address)
	if out.Succeeded() {
		fmt.Fprintf(w, "Paired with %s (peer %s)\n", address, out.Peer.ID)
	} else {
		fmt.Fprintf(w, "Pairing with %s: %s: %v\n", address, out, out.Err)
	}
	return out
}

// serve accepts pairing connections on the configured listen address until
// ctx is done. Paired devices are added to the trust list.
func (a *app) serve(ctx context.Context, w io.Writer, rawCode string) error {
	code, err := serveCode(rawCode)
	if err != nil {
		return err
	}

	identity, err := a.keys.EnsureIdentity()
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	ln, err := transport.Listen(a.config.Listen, transport.ListenerConfig{
		Certificate: identity.TLSCertificate(),
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	defer ln.Close()

	responder, err := pairing.NewResponder(pairing.ResponderConfig{
		Identity:       identity,
		Trust:          a.keys,
		Logger:         a.logger,
		ProtocolLogger: a.proto,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Listening on %s, pairing code %s\n", ln.Addr(), code)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for {
		pending, err := ln.AcceptPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
			defer cancel()

			remote := pending.RemoteAddr().String()
			conn, err := pending.Handshake(attemptCtx)
			if err != nil {
				a.logger.Info("handshake failed", "remote", remote, "error", err)
				return nil
			}
			cert, err := responder.Serve(attemptCtx, conn, code)
			if err != nil {
				a.logger.Info("pairing failed", "remote", remote, "reason", pairing.Classify(err), "error", err)
				return nil
			}
			id, _ := keystore.PeerID(cert)
			fmt.Fprintf(w, "Paired with device %s (%s)\n", id, remote)
			return nil
		})
	}
	return g.Wait()
}

func serveCode(raw string) (pake.Code, error) {
	if raw == "" {
		return pake.GenerateCode()
	}
	return pake.ParseCode(raw)
}

// printPeers lists the trusted peers on w.
func (a *app) printPeers(w io.Writer) {
	peers := a.keys.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(w, "No trusted peers")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(w, "%s  %-21s  paired %s  expires %s\n",
			p.ID, p.Address, p.PairedAt.Format(time.RFC3339), p.ExpiresAt().Format("2006-01-02"))
	}
}

// printIdentity shows the local identity on w.
func (a *app) printIdentity(w io.Writer) error {
	identity, err := a.keys.EnsureIdentity()
	if err != nil {
		return err
	}
	c := identity.Certificate
	fmt.Fprintf(w, "ID:       %s\n", identity.ID())
	fmt.Fprintf(w, "GUID:     %s\n", identity.GUID)
	fmt.Fprintf(w, "Subject:  %s\n", c.Subject)
	fmt.Fprintf(w, "Valid:    %s to %s\n", c.NotBefore.Format(time.RFC3339), c.NotAfter.Format(time.RFC3339))
	return nil
}
