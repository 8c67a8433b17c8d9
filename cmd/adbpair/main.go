// Command adbpair pairs this device with an ADB wireless-debugging host.
//
// Usage:
//
//	adbpair [flags] pair <host:port> <code>
//	adbpair [flags] serve [code]
//	adbpair [flags] peers
//	adbpair [flags] forget <peer-id>
//	adbpair [flags] reset
//	adbpair [flags] identity
//	adbpair [flags] -interactive
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-data-dir string        Directory for identity and trusted peers
//	-storage string         Storage backend: file, bolt (default "file")
//	-passphrase-env string  Environment variable holding the key passphrase
//	-timeout duration       Pairing attempt timeout (default 30s)
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-protocol-log string    Write protocol events to this file (CBOR)
//	-metrics-addr string    Serve Prometheus metrics on this address
//	-rate float             Maximum pairing attempts per minute
//	-listen string          Listen address for serve mode
//	-interactive            Enable interactive command mode
//
// Examples:
//
//	# Pair with the host shown in the wireless debugging dialog
//	adbpair pair 192.168.1.20:37099 123456
//
//	# Act as a pairing host for testing, with a generated code
//	adbpair -listen 127.0.0.1:37000 serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	config, rest, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if len(rest) == 0 && !config.Interactive {
		fmt.Fprintln(stderr, "missing command (pair, serve, peers, forget, reset, identity) or -interactive")
		return exitUsage
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(config, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintln(stderr, err)
		}
	}()

	var sh *shell
	if config.Interactive {
		sh, err = newShell(a)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailed
		}
		stdout = sh.Stdout()
	}

	g, ctx := errgroup.WithContext(ctx)
	if config.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(ctx)
		})
	}

	code := exitOK
	g.Go(func() error {
		defer cancel()
		if sh != nil {
			sh.Run(ctx, cancel)
			return nil
		}
		c, err := a.command(ctx, stdout, rest)
		code = c
		return err
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintln(stderr, err)
		if code == exitOK {
			code = exitFailed
		}
	}
	return code
}

// command runs one non-interactive command.
func (a *app) command(ctx context.Context, w io.Writer, args []string) (int, error) {
	switch args[0] {
	case "pair":
		if len(args) != 3 {
			return exitUsage, errors.New("usage: pair <host:port> <code>")
		}
		if out := a.pair(ctx, w, args[1], args[2]); !out.Succeeded() {
			return exitFailed, nil
		}

	case "serve":
		code := ""
		if len(args) > 1 {
			code = args[1]
		}
		if err := a.serve(ctx, w, code); err != nil {
			return exitFailed, err
		}

	case "peers":
		a.printPeers(w)

	case "forget":
		if len(args) != 2 {
			return exitUsage, errors.New("usage: forget <peer-id>")
		}
		if err := a.keys.Forget(args[1]); err != nil {
			return exitFailed, err
		}

	case "reset":
		if err := a.keys.Reset(); err != nil {
			return exitFailed, err
		}

	case "identity":
		if err := a.printIdentity(w); err != nil {
			return exitFailed, err
		}

	default:
		return exitUsage, fmt.Errorf("unknown command %q", args[0])
	}
	return exitOK, nil
}
