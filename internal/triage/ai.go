package triage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

const (
	// aiMaxTokens leaves room for a single label word and nothing else.
	aiMaxTokens   = 10
	aiTemperature = 0.1
)

//go:embed prompts/system.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in triage rubric.
func DefaultSystemPrompt() string { return defaultSystemPrompt }

// AIClassifier classifies symptoms with a text-completion model.
type AIClassifier struct {
	completer Completer
	system    string
}

// NewAIClassifier creates an AI classifier. An empty system prompt selects the built-in rubric.
func NewAIClassifier(completer Completer, systemPrompt string) *AIClassifier {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &AIClassifier{completer: completer, system: systemPrompt}
}

// Classify asks the model for an urgency level. Any failure, including an
// answer that is not one of the four canonical labels, returns a
// *ServiceError; the model's answer is never defaulted.
func (c *AIClassifier) Classify(ctx context.Context, symptoms string) (Level, string, error) {
	resp, err := c.completer.Complete(ctx, &CompletionRequest{
		System:      c.system,
		Prompt:      buildUserPrompt(symptoms),
		MaxTokens:   aiMaxTokens,
		Temperature: aiTemperature,
	})
	if err != nil {
		reason := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return "", "", &ServiceError{Reason: reason, Err: err}
	}

	level, err := normalizeLabel(resp.Text)
	if err != nil {
		return "", resp.Model, &ServiceError{Reason: "invalid_response", Err: err}
	}
	return level, resp.Model, nil
}

func buildUserPrompt(symptoms string) string {
	return fmt.Sprintf("A patient describes their symptoms: \"%s\"", symptoms)
}

// normalizeLabel takes the first whitespace-delimited token of the
// completion, canonicalizes its case, and validates it.
func normalizeLabel(text string) (Level, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", errors.New("empty completion")
	}
	return ParseLevel(canonicalize(fields[0]))
}
