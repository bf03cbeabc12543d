package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/getvergo/autoflow/pkg/rules"
)

// runValidateCmd implements `autoflow validate`.
//
// Exit codes:
//
//	0 = spec is valid
//	1 = spec rejected
//	2 = usage or runtime error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		specPath   string
		jsonOutput bool
	)
	cmd.StringVar(&specPath, "spec", "", "Path to the logic spec JSON file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if specPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --spec is required")
		return 2
	}

	spec, err := loadSpec(specPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	errs := rules.ValidateSpec(spec)
	if jsonOutput {
		out := struct {
			Valid  bool     `json:"valid"`
			Errors []string `json:"errors,omitempty"`
		}{Valid: len(errs) == 0, Errors: errs}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	} else {
		for _, e := range errs {
			_, _ = fmt.Fprintf(stderr, "error: %s\n", e)
		}
		if len(errs) == 0 {
			_, _ = fmt.Fprintf(stdout, "valid: %d actions, %d rules, %d variables\n",
				len(spec.Actions), len(spec.Rules), len(spec.Variables))
		}
	}
	if len(errs) > 0 {
		return 1
	}
	return 0
}

func loadSpec(path string) (*rules.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	var spec rules.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	return &spec, nil
}
