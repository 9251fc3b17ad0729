// Package claude adapts the Anthropic Messages API to triage.Completer.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/tflow/internal/triage"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Client implements triage.Completer using the Anthropic SDK.
type Client struct {
	sdk   anthropic.Client
	model string
}

// Config holds optional client settings. Zero values select SDK defaults.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a Claude client. The SDK's own retries are disabled: a
// failed call is reported once and the caller decides what to do.
func New(apiKey, model string, c Config) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if c.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.Timeout))
	}
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends a single-turn request and returns the concatenated text.
func (c *Client) Complete(ctx context.Context, req *triage.CompletionRequest) (*triage.CompletionResponse, error) {
	ctx, span := otel.Tracer("github.com/linnemanlabs/tflow/internal/llm/claude").Start(ctx, "llm.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", c.model),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
		attribute.Float64("gen_ai.request.temperature", req.Temperature),
	)

	msg, err := c.sdk.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", apiErr.StatusCode))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "claude request failed")
		return nil, fmt.Errorf("claude: %w", err)
	}

	resp, err := fromSDKMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func toSDKParams(model string, req *triage.CompletionRequest) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return p
}

// fromSDKMessage joins the text blocks of a response. A response with no
// text is an error.
func fromSDKMessage(msg *anthropic.Message) (*triage.CompletionResponse, error) {
	var sb strings.Builder
	found := false
	for _, b := range msg.Content {
		if b.Type != "text" {
			continue
		}
		found = true
		sb.WriteString(b.Text)
	}
	if !found {
		return nil, errors.New("claude: response has no text content")
	}
	return &triage.CompletionResponse{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
