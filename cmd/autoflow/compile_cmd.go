package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/getvergo/autoflow/pkg/config"
	"github.com/getvergo/autoflow/pkg/llm"
	"github.com/getvergo/autoflow/pkg/rules"
)

// runCompileCmd implements `autoflow compile`.
//
// Exit codes:
//
//	0 = compiled cleanly
//	1 = compilation failed
//	2 = usage or runtime error
func runCompileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("compile", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		textPath string
		varsPath string
		outPath  string
		assist   bool
	)
	cmd.StringVar(&textPath, "text", "", "Path to natural-language rules ('-' for stdin)")
	cmd.StringVar(&varsPath, "vars", "", "Path to a JSON array of variable declarations")
	cmd.StringVar(&outPath, "out", "", "Write the compiled spec to this file (default: stdout)")
	cmd.BoolVar(&assist, "assist", false, "Use the configured LLM for interpretation")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if textPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --text is required")
		return 2
	}

	text, err := readInput(textPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read rules text: %v\n", err)
		return 2
	}

	var vars []rules.Variable
	if varsPath != "" {
		raw, err := os.ReadFile(varsPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read variables: %v\n", err)
			return 2
		}
		if err := json.Unmarshal(raw, &vars); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: parse variables: %v\n", err)
			return 2
		}
	}

	var opts []rules.CompilerOption
	if assist {
		cfg := config.Load()
		opts = append(opts, rules.WithAssist(llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)))
	}
	result := rules.NewCompiler(opts...).Compile(context.Background(), text, vars)

	for _, w := range result.Warnings {
		_, _ = fmt.Fprintf(stderr, "warning: %s\n", w)
	}
	if !result.Success {
		for _, e := range result.Errors {
			_, _ = fmt.Fprintf(stderr, "error: %s\n", e)
		}
		return 1
	}

	encoded, err := json.MarshalIndent(result.Spec, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode spec: %v\n", err)
		return 2
	}
	if outPath == "" {
		_, _ = fmt.Fprintln(stdout, string(encoded))
	} else if err := os.WriteFile(outPath, append(encoded, '\n'), 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write spec: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stderr, "compiled %d rules, %d loops in %dms\n",
		result.Metadata.RulesCount, len(result.Spec.Loops), result.Metadata.CompilationTimeMs)
	return 0
}

func readInput(path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		return string(raw), err
	}
	raw, err := os.ReadFile(path)
	return strings.TrimRight(string(raw), "\n"), err
}
