package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/getvergo/autoflow/pkg/config"
)

// runRunsCmd lists recent runs for a workflow, newest first.
func runRunsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("runs", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		workflowID string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&workflowID, "workflow", "", "Workflow id to list runs for")
	cmd.IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.BoolVar(&jsonOutput, "json", false, "Output runs as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if workflowID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --workflow is required")
		return 2
	}

	cfg := config.Load()
	db, err := openStores(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	records, err := db.runs.ListRuns(context.Background(), workflowID, limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(records)
		return 0
	}
	for _, rec := range records {
		finished := "-"
		if rec.FinishedAt != nil {
			finished = rec.FinishedAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(stdout, "%s  %-8s  started %s  finished %s\n",
			rec.RunID, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05"), finished)
	}
	return 0
}
