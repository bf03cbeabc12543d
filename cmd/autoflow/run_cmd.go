package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/getvergo/autoflow/pkg/config"
	"github.com/getvergo/autoflow/pkg/observability"
	"github.com/getvergo/autoflow/pkg/orchestrator"
)

// runRunCmd implements `autoflow run`: validate, authenticate when the
// spec demands it, then drive the action log with rules and loops applied.
//
// Exit codes:
//
//	0 = run succeeded
//	1 = run failed
//	2 = usage or runtime error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		specPath        string
		workflowID      string
		inputsPath      string
		profileName     string
		baseDomain      string
		continueOnError bool
	)
	cmd.StringVar(&specPath, "spec", "", "Path to the logic spec JSON file")
	cmd.StringVar(&workflowID, "workflow", "", "Workflow id the run is recorded under")
	cmd.StringVar(&inputsPath, "inputs", "", "Path to a JSON object of variable inputs")
	cmd.StringVar(&profileName, "profile", "", "Boundary profile name")
	cmd.StringVar(&baseDomain, "base-domain", "", "Boundary base domain (when no profile)")
	cmd.BoolVar(&continueOnError, "continue-on-error", false, "Tolerate step failures instead of aborting")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if specPath == "" || workflowID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --spec and --workflow are required")
		return 2
	}

	spec, err := loadSpec(specPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var inputs map[string]any
	if inputsPath != "" {
		raw, err := os.ReadFile(inputsPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read inputs: %v\n", err)
			return 2
		}
		if err := json.Unmarshal(raw, &inputs); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: parse inputs: %v\n", err)
			return 2
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	guard, err := buildGuard(cfg, profileName, baseDomain)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	db, err := openStores(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	telemetry, err := observability.NewProvider(ctx, observability.DefaultConfig())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	page, err := connectBrowser(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = page.Close() }()

	engine := buildEngine(cfg, guard, db.shots)
	orch := orchestrator.New(engine,
		orchestrator.WithRunStore(db.runs),
		orchestrator.WithTelemetry(telemetry))

	record, sess, runErr := orch.Run(ctx, page, orchestrator.RunRequest{
		WorkflowID:      workflowID,
		Spec:            spec,
		Inputs:          inputs,
		Credentials:     credentialsFromEnv(),
		ContinueOnError: continueOnError,
	})

	if sess != nil && len(sess.Repairs) > 0 {
		if err := db.workflows.RecordRepairs(ctx, workflowID, sess.Repairs); err != nil {
			_, _ = fmt.Fprintf(stderr, "warning: repairs not recorded: %v\n", err)
		}
	}

	if runErr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "run %s succeeded: %d steps, %d repairs\n",
		record.RunID, len(sess.Steps), len(sess.Repairs))
	if fp, err := sess.Fingerprint(); err != nil {
		_, _ = fmt.Fprintf(stderr, "warning: fingerprint unavailable: %v\n", err)
	} else {
		_, _ = fmt.Fprintf(stdout, "fingerprint: %s\n", fp)
	}
	return 0
}
