package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/getvergo/autoflow/pkg/config"
)

// runDecideCmd implements `autoflow decide`: evaluate one URL against a
// boundary profile and print the verdict.
//
// Exit codes:
//
//	0 = allowed
//	1 = denied or paused
//	2 = usage or runtime error
func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profileName string
		baseDomain  string
		jsonOutput  bool
	)
	cmd.StringVar(&profileName, "profile", "", "Boundary profile name")
	cmd.StringVar(&baseDomain, "base-domain", "", "Boundary base domain (when no profile)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the decision as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: autoflow decide [--profile <name>] <url>")
		return 2
	}

	cfg := config.Load()
	guard, err := buildGuard(cfg, profileName, baseDomain)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	decision := guard.Decide(cmd.Arg(0))
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(decision)
	} else {
		verdict := "denied"
		if decision.Allowed {
			verdict = "allowed"
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s (%s)\n", verdict, cmd.Arg(0), decision.Reason)
	}
	if decision.Allowed {
		return 0
	}
	return 1
}

// runProfilesCmd lists the boundary profiles available on disk.
func runProfilesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("profiles", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	names, err := config.ListProfiles(cfg.ProfilesDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(names) == 0 {
		_, _ = fmt.Fprintf(stdout, "no profiles in %s\n", cfg.ProfilesDir)
		return 0
	}
	for _, name := range names {
		_, _ = fmt.Fprintln(stdout, name)
	}
	return 0
}
