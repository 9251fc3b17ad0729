// Package app assembles the triage service from configuration. It is shared
// by the HTTP server and the operator CLI so both classify identically.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tflow/internal/cfg"
	"github.com/linnemanlabs/tflow/internal/llm/claude"
	"github.com/linnemanlabs/tflow/internal/postgres"
	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/triage/memstore"
	"github.com/linnemanlabs/tflow/internal/triage/pgstore"
)

// OpenStore returns the configured record store: postgres when a database
// URL is set, in-memory otherwise. close releases the pool and is never nil.
func OpenStore(ctx context.Context, c *cfg.Config, logger log.Logger) (triage.Store, func(), error) {
	if c.DatabaseURL == "" {
		logger.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	postgres.SetSlowQueryThreshold(c.SlowQueryThreshold)

	pool, err := postgres.NewPool(ctx, c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	logger.Info(ctx, "using postgres store")
	return store, pool.Close, nil
}

// NewEngine builds the classification engine. Without an API key the engine
// runs rules only; a custom rules file or prompt file replaces the built-ins.
func NewEngine(ctx context.Context, c *cfg.Config, logger log.Logger, hooks triage.EngineHooks) (*triage.Engine, error) {
	rules := triage.NewRuleClassifier()
	if c.RulesFile != "" {
		data, err := os.ReadFile(c.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		if rules, err = triage.ParseRules(data); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", c.RulesFile, err)
		}
		logger.Info(ctx, "loaded keyword rules", "file", c.RulesFile)
	}

	var ai *triage.AIClassifier
	if c.AIEnabled() {
		prompt := triage.DefaultSystemPrompt()
		if c.SystemPromptFile != "" {
			data, err := os.ReadFile(c.SystemPromptFile)
			if err != nil {
				return nil, fmt.Errorf("read system prompt file: %w", err)
			}
			prompt = string(data)
		}
		client := claude.New(c.ClaudeAPIKey, c.ClaudeModel, claude.Config{
			BaseURL: c.ClaudeBaseURL,
			Timeout: c.AITimeout,
		})
		ai = triage.NewAIClassifier(client, prompt)
		logger.Info(ctx, "initialized LLM provider", "provider", "claude", "model", c.ClaudeModel)
	} else {
		logger.Warn(ctx, "no claude api key configured, classifying with keyword rules only")
	}

	return triage.NewEngine(ai, rules, c.AITimeout, logger, hooks), nil
}
