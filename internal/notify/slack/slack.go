// Package slack sends triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tflow/internal/triage"
)

const (
	maxSymptomsLen = 1000
	httpTimeout    = 10 * time.Second
)

// Notifier sends triage assessments to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Send posts an assessment to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec *triage.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "record_id", rec.ID, "level", string(rec.Level))
	return nil
}

func buildMessage(r *triage.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			symptomsBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Record) map[string]any {
	title := "Triage: " + string(r.Level)
	if r.VitalsFlags != nil && r.VitalsFlags.AnyFlag {
		title += " (abnormal vitals)"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": levelEmoji(r.Level) + " " + title,
		},
	}
}

func fieldsBlock(r *triage.Record) map[string]any {
	source := "rules"
	if r.UsedAI {
		source = "ai"
	}
	model := shortModel(r.Model)
	if model == "" {
		model = "-"
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %s", r.Level)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Classified by:* %s", source)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Model:* %s", model)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Vitals:* %s", vitalsSummary(r))},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func symptomsBlock(r *triage.Record) map[string]any {
	text := truncate(r.Symptoms, maxSymptomsLen)
	if text == "" {
		text = "_No symptoms recorded._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Symptoms*\n\n%s", text),
		},
	}
}

func contextBlock(r *triage.Record) map[string]any {
	id := r.ID
	if id == "" {
		id = "unsaved"
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("tflow • assessment %s • %s", id, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

// vitalsSummary lists the flagged readings, or says why there are none.
func vitalsSummary(r *triage.Record) string {
	if r.Vitals == nil || r.VitalsFlags == nil {
		return "not provided"
	}
	var out []string
	if r.VitalsFlags.PulseFlag && r.Vitals.Pulse != nil {
		out = append(out, fmt.Sprintf("pulse %d", *r.Vitals.Pulse))
	}
	if r.VitalsFlags.SystolicFlag && r.Vitals.SystolicBP != nil {
		out = append(out, fmt.Sprintf("systolic %d", *r.Vitals.SystolicBP))
	}
	if r.VitalsFlags.DiastolicFlag && r.Vitals.DiastolicBP != nil {
		out = append(out, fmt.Sprintf("diastolic %d", *r.Vitals.DiastolicBP))
	}
	if len(out) == 0 {
		return "within range"
	}
	return "flagged " + strings.Join(out, ", ")
}

func levelEmoji(l triage.Level) string {
	switch l {
	case triage.LevelCritical:
		return "\U0001f534" // red circle
	case triage.LevelUrgent:
		return "\U0001f7e0" // orange circle
	case triage.LevelModerate:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit-3], "") + "..."
}
