package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "compile":
		return runCompileCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "profiles":
		return runProfilesCmd(args[2:], stdout, stderr)
	case "runs":
		return runRunsCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sAutoflow %s%s\n", ColorBold+ColorBlue, "v0.1.0", ColorReset)
	fmt.Fprintf(w, "%sRecord once. Replay anywhere inside the boundary.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  autoflow <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "WORKFLOWS")
	printCommand(w, "compile", "Compile natural-language rules into a logic spec (--text, --vars)")
	printCommand(w, "validate", "Validate a logic spec file (--spec, --json)")
	printCommand(w, "run", "Execute a spec against a live browser (--spec, --workflow)")
	printCommand(w, "replay", "Replay a stored workflow's action log (--workflow)")

	printSection(w, "BOUNDARY & STATE")
	printCommand(w, "decide", "Evaluate a URL against a boundary profile (--profile <name> <url>)")
	printCommand(w, "profiles", "List available boundary profiles")
	printCommand(w, "runs", "List recent runs for a workflow (--workflow, --limit)")

	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, name string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold, name, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
