// Command things-log is a tool for viewing and analyzing protocol capture
// files.
//
// Capture files are written by things-device with the -protocol-log flag.
//
// Usage:
//
//	things-log <command> [flags] <file.cbor>
//
// A file name of "-" reads the capture from standard input. When the device
// rotated the capture, the rotated part (<file>.1) is read first.
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSON or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	things-log view device.cbor
//
//	# View only AT command traffic
//	things-log view -layer serial device.cbor
//
//	# View platform events of one thing
//	things-log view -layer things -thing 8d252e29-efce-40c6-809e-5d3b6666c1b6 device.cbor
//
//	# Export to JSONL
//	things-log export -format jsonl device.cbor
//
//	# Keep one network session
//	things-log filter -session 5f0c1a2b-... -o session.cbor device.cbor
//
//	# Show statistics
//	things-log stats device.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/connexthings/nbiot-go/cmd/things-log/commands"
)

const usage = `things-log - Things Protocol Capture Analyzer

Usage:
  things-log <command> [flags] <file.cbor>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSON or CSV format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "things-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// parseWithFile parses flags and returns the single capture file argument.
func parseWithFile(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, summary, usageLine string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "things-log %s - %s\n\nUsage:\n  %s\n\nFlags:\n", name, summary, usageLine)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture file in human-readable format", "things-log view [flags] <file.cbor>")
	var c commands.Criteria
	c.Bind(fs)
	path := parseWithFile(fs, args)

	if err := commands.RunView(path, c, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture file to JSON or CSV format", "things-log export [flags] <file.cbor>")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parseWithFile(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture file and write to new file", "things-log filter [flags] <file.cbor>")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	opts.Bind(fs)
	path := parseWithFile(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture file", "things-log stats <file.cbor>")
	path := parseWithFile(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
