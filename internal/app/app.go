package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "run-once", "process":
		return runOnce(args[1:])
	case "work":
		return runWork(args[1:])
	case "simulate":
		return runSimulate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "narrative CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  narrative <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database and cache connectivity")
	fmt.Fprintln(os.Stderr, "  validate  Validate candidate batch JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest    Filter a candidate batch and store survivors as Pending")
	fmt.Fprintln(os.Stderr, "  run-once  Analyze and cluster pending articles until idle or --limit")
	fmt.Fprintln(os.Stderr, "  work      Run the analysis worker loop (with optional ops API)")
	fmt.Fprintln(os.Stderr, "  simulate  Run a candidate batch through the pipeline in memory")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"narrative <command> -h\" for command-specific flags.")
}
