package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getvergo/autoflow/pkg/config"
	"github.com/getvergo/autoflow/pkg/replay"
)

// runReplayCmd implements `autoflow replay`: re-execute a stored
// workflow's action log verbatim, with selector repair but without rule
// evaluation.
//
// Exit codes:
//
//	0 = replay completed
//	1 = replay aborted
//	2 = usage or runtime error
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		workflowID      string
		profileName     string
		baseDomain      string
		requireLogin    bool
		continueOnError bool
		retryDelay      time.Duration
	)
	cmd.StringVar(&workflowID, "workflow", "", "Stored workflow id to replay")
	cmd.StringVar(&profileName, "profile", "", "Boundary profile name")
	cmd.StringVar(&baseDomain, "base-domain", "", "Boundary base domain (when no profile)")
	cmd.BoolVar(&requireLogin, "login", false, "Authenticate before the first action")
	cmd.BoolVar(&continueOnError, "continue-on-error", false, "Tolerate step failures instead of aborting")
	cmd.DurationVar(&retryDelay, "retry-delay", 0, "Fixed inter-attempt delay (default: exponential schedule)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if workflowID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --workflow is required")
		return 2
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

	workflow, err := db.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load workflow %s: %v\n", workflowID, err)
		return 2
	}

	page, err := connectBrowser(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = page.Close() }()

	engine := buildEngine(cfg, guard, db.shots)
	sess, err := engine.StartReplay(ctx, page, workflow.Actions, replay.Options{
		Settings:        workflow.Settings,
		ContinueOnError: continueOnError,
		RequireLogin:    requireLogin,
		Credentials:     credentialsFromEnv(),
		RetryDelay:      retryDelay,
	})

	if sess != nil && len(sess.Repairs) > 0 {
		if rerr := db.workflows.RecordRepairs(ctx, workflowID, sess.Repairs); rerr != nil {
			_, _ = fmt.Fprintf(stderr, "warning: repairs not recorded: %v\n", rerr)
		}
	}

	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "replay %s completed: %d steps, %d repairs\n",
		sess.ID, len(sess.Steps), len(sess.Repairs))
	if fp, ferr := sess.Fingerprint(); ferr != nil {
		_, _ = fmt.Fprintf(stderr, "warning: fingerprint unavailable: %v\n", ferr)
	} else {
		_, _ = fmt.Fprintf(stdout, "fingerprint: %s\n", fp)
	}
	return 0
}
