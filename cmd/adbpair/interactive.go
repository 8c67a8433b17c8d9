package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/adbautoenable/adbpair-go/pkg/keystore"
)

// shell is the interactive command interface.
type shell struct {
	app *app
	rl  *readline.Instance
}

func newShell(a *app) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "adbpair> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("pair"),
			readline.PcItem("peers"),
			readline.PcItem("forget"),
			readline.PcItem("reset"),
			readline.PcItem("identity"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{app: a, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until exit, EOF or ctx is done.
func (s *shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if !s.exec(ctx, strings.ToLower(parts[0]), parts[1:]) {
			cancel()
			return
		}
	}
}

// exec runs one command and reports whether the shell should keep going.
func (s *shell) exec(ctx context.Context, cmd string, args []string) bool {
	w := s.rl.Stdout()

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "pair", "p":
		if len(args) != 2 {
			fmt.Fprintln(w, "Usage: pair <host:port> <code>")
			return true
		}
		s.app.pair(ctx, w, args[0], args[1])

	case "peers", "ls":
		s.app.printPeers(w)

	case "forget":
		if len(args) != 1 {
			fmt.Fprintln(w, "Usage: forget <peer-id>")
			return true
		}
		if err := s.app.keys.Forget(args[0]); err != nil {
			if errors.Is(err, keystore.ErrPeerNotFound) {
				fmt.Fprintf(w, "Unknown peer: %s\n", args[0])
			} else {
				fmt.Fprintf(w, "Forget failed: %v\n", err)
			}
			return true
		}
		fmt.Fprintf(w, "Forgot %s\n", args[0])

	case "reset":
		if err := s.app.keys.Reset(); err != nil {
			fmt.Fprintf(w, "Reset failed: %v\n", err)
			return true
		}
		fmt.Fprintln(w, "Trust list cleared")

	case "identity", "id":
		if err := s.app.printIdentity(w); err != nil {
			fmt.Fprintf(w, "Identity unavailable: %v\n", err)
		}

	case "quit", "exit", "q":
		fmt.Fprintln(w, "Exiting...")
		return false

	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
adbpair Commands:
    pair <host:port> <code>  - Pair with a host showing a six-digit code
    peers                    - List trusted peers
    forget <peer-id>         - Remove a trusted peer
    reset                    - Clear the trust list
    identity                 - Show this device's identity
    help                     - Show this help
    exit                     - Exit`)
}
