// Command cardlink-log views and analyzes CardLink protocol capture
// files (.clog), written by the relay's -protocol-log flag.
//
// Usage:
//
//	cardlink-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file as JSON Lines
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	cardlink-log view relay.clog
//
//	# View only decoded APDUs
//	cardlink-log view -layer envelope relay.clog
//
//	# Filter by connection and save to a new file
//	cardlink-log filter -conn-id abc12345 -o filtered.clog relay.clog
//
//	# Show statistics
//	cardlink-log stats relay.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cardlink-protocol/cardlink-go/cmd/cardlink-log/commands"
)

const usage = `cardlink-log - CardLink Protocol Capture Analyzer

Usage:
  cardlink-log <command> [flags] <file.clog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file as JSON Lines
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "cardlink-log <command> -help" for more information about a command.
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

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	layer := fs.String("layer", "", "Filter by layer (transport, secure, envelope, session)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")

	path := parseWithFile(fs, args)

	var filter commands.ViewFilter
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		exitOn(err)
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		exitOn(err)
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		exitOn(err)
		filter.Category = &c
	}

	exitOn(commands.RunView(path, filter, os.Stdout))
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	path := parseWithFile(fs, args)
	exitOn(commands.RunExport(path, os.Stdout))
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	output := fs.String("o", "", "Output file path (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	timeStart := fs.String("time-start", "", "Events at or after this RFC3339 time")
	timeEnd := fs.String("time-end", "", "Events before this RFC3339 time")
	layer := fs.String("layer", "", "Filter by layer (transport, secure, envelope, session)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")

	path := parseWithFile(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -o output file required")
		os.Exit(1)
	}

	exitOn(commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		ConnID:    *connID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	}))
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path := parseWithFile(fs, args)
	exitOn(commands.RunStats(path, os.Stdout))
}

// parseWithFile parses flags and returns the required trailing file
// argument.
func parseWithFile(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		os.Exit(1)
	}
	return fs.Arg(0)
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
