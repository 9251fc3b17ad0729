package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Config holds tflow application settings. It follows the go-core
// convention of RegisterFlags + Validate per package.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	ClaudeBaseURL         string
	AITimeout             time.Duration
	SystemPromptFile      string
	RulesFile             string
	DatabaseURL           string
	SlowQueryThreshold    time.Duration
	SlackWebhookURL       string
	APIToken              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude completion service (empty = rule-based classification only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for AI classification")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL (empty = SDK default)")
	fs.DurationVar(&c.AITimeout, "ai-timeout", 5*time.Second, "upper bound on a single AI classification call before falling back to rules (0s..60s]")
	fs.StringVar(&c.SystemPromptFile, "system-prompt-file", "", "file with a replacement triage rubric for the AI classifier (empty = built-in)")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML keyword table replacing the built-in rules (empty = built-in)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.DurationVar(&c.SlowQueryThreshold, "db-slow-query-threshold", 0, "only log successful queries slower than this (0 = log all)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical assessment notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api routes (empty = no auth)")
}

// AIEnabled reports whether an AI classifier should be constructed.
func (c *Config) AIEnabled() bool {
	return c.ClaudeAPIKey != ""
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeBaseURL != "" {
		if err := checkURL(c.ClaudeBaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("invalid CLAUDE_BASE_URL: %w", err))
		}
	}

	if c.AITimeout <= 0 || c.AITimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid AI_TIMEOUT %s (must be >0 and <=60s)", c.AITimeout))
	}

	if c.DatabaseURL != "" {
		if err := checkURL(c.DatabaseURL, "postgres", "postgresql"); err != nil {
			errs = append(errs, fmt.Errorf("invalid DATABASE_URL: %w", err))
		}
	}
	if c.SlowQueryThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_THRESHOLD %s (must be >= 0)", c.SlowQueryThreshold))
	}

	if c.SlackWebhookURL != "" {
		if err := checkURL(c.SlackWebhookURL, "https", "http"); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// checkURL parses raw and requires one of the given schemes and a host.
// Error messages never echo the URL since it may carry credentials.
func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("not a valid URL")
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("scheme %q not allowed (want one of %v)", u.Scheme, schemes)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
