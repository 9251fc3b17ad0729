package triage

import "context"

// Completer is the interface for any text-completion backend.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn completion: a system instruction plus one user message.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the text the model produced plus accounting.
type CompletionResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token usage reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
