package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/getvergo/autoflow/pkg/boundary"
	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/config"
	"github.com/getvergo/autoflow/pkg/llm"
	"github.com/getvergo/autoflow/pkg/locator"
	"github.com/getvergo/autoflow/pkg/replay"
	"github.com/getvergo/autoflow/pkg/session"
	"github.com/getvergo/autoflow/pkg/store"

	_ "modernc.org/sqlite"
)

// stores bundles the persistence handles one command needs.
type stores struct {
	db        *sql.DB
	workflows *store.SQLiteWorkflowStore
	runs      *store.SQLiteRunStore
	shots     *store.SQLiteScreenshotStore
}

func openStores(cfg *config.Config) (*stores, error) {
	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	workflows, err := store.NewSQLiteWorkflowStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	runs, err := store.NewSQLiteRunStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	shots, err := store.NewSQLiteScreenshotStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{db: db, workflows: workflows, runs: runs, shots: shots}, nil
}

func (s *stores) Close() { _ = s.db.Close() }

// buildGuard loads the named boundary profile, or derives a policy from
// --base-domain when no profile is given.
func buildGuard(cfg *config.Config, profileName, baseDomain string) (*boundary.Guard, error) {
	if profileName != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, profileName)
		if err != nil {
			return nil, err
		}
		return boundary.NewGuard(profile.Policy()), nil
	}
	if baseDomain == "" {
		return nil, fmt.Errorf("either --profile or --base-domain is required")
	}
	return boundary.NewGuard(boundary.Policy{BaseDomain: baseDomain}), nil
}

// buildEngine wires the replay engine: repair strategies, the optional
// LLM suggester, authentication, and screenshot persistence.
func buildEngine(cfg *config.Config, guard *boundary.Guard, shots *store.SQLiteScreenshotStore) *replay.Engine {
	locatorCfg := locator.DefaultConfig()
	if cfg.LLMAPIKey != "" {
		client := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		locatorCfg.Suggester = llm.NewSelectorSuggester(client)
	}
	resolver := locator.NewResolver(locatorCfg)

	opts := []replay.EngineOption{replay.WithAuthenticator(session.NewAuthenticator())}
	if shots != nil {
		opts = append(opts, replay.WithScreenshots(shots))
	}
	return replay.NewEngine(guard, resolver, opts...)
}

// connectBrowser is a variable to allow mocking in tests
var connectBrowser = connectPage

func connectPage(ctx context.Context, cfg *config.Config) (browser.Page, error) {
	page, err := browser.ConnectCDP(ctx, cfg.CDPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connect browser at %s: %w", cfg.CDPEndpoint, err)
	}
	// keep replay from hammering the target site
	return browser.RateLimit(page, 10, 20), nil
}

func credentialsFromEnv() session.Credentials {
	return session.Credentials{
		Username: os.Getenv("AUTOFLOW_USERNAME"),
		Password: os.Getenv("AUTOFLOW_PASSWORD"),
	}
}
