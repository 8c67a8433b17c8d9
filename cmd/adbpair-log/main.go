// Command adbpair-log views and analyzes pairing protocol captures.
//
// Capture files are written by adbpair with the -protocol-log flag.
//
// Usage:
//
//	adbpair-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events to JSONL or CSV
//	filter   Copy matching events to a new capture file
//	stats    Show per-attempt statistics
//
// Examples:
//
//	# View only PAKE state changes
//	adbpair-log view -layer pake -category state pair.cbor
//
//	# Export one attempt as CSV
//	adbpair-log export -format csv -o attempt.csv pair.cbor
//
//	# Show statistics
//	adbpair-log stats pair.cbor
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/adbautoenable/adbpair-go/cmd/adbpair-log/commands"
)

const usage = `adbpair-log - Pairing Protocol Log Analyzer

Usage:
  adbpair-log <command> [flags] <file.cbor>

Commands:
  view     View events in human-readable format
  export   Export events to JSONL or CSV
  filter   Copy matching events to a new capture file
  stats    Show per-attempt statistics

Use "adbpair-log <command> -help" for more information about a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	cmd, args := args[0], args[1:]
	var err error
	switch cmd {
	case "view":
		err = runView(args, stdout, stderr)
	case "export":
		err = runExport(args, stdout, stderr)
	case "filter":
		err = runFilter(args, stdout, stderr)
	case "stats":
		err = runStats(args, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  adbpair-log %s [flags] <file.cbor>\n\nFlags:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	var o commands.FilterOptions
	fs.StringVar(&o.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&o.RemoteAddr, "remote", "", "Filter by remote address")
	fs.StringVar(&o.PeerID, "peer-id", "", "Filter by peer ID")
	fs.StringVar(&o.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&o.Layer, "layer", "", "Filter by layer (transport, pake, session)")
	fs.StringVar(&o.Direction, "direction", "", "Filter packets by direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "Filter by category (packet, state, error)")
	return &o
}

// parsePath parses args and returns the single capture file argument.
func parsePath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("view", stderr)
	opts := filterFlags(fs)
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	filter, err := opts.Build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, stdout)
}

func runExport(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", stderr)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output, stdout)
}

func runFilter(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("filter", stderr)
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}
	filter, err := opts.Build()
	if err != nil {
		return err
	}
	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Filtered %d events to %s\n", n, *output)
	return nil
}

func runStats(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("stats", stderr)
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, stdout)
}
