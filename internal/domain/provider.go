package domain

import "context"

// Provider is the interface all language-model providers implement.
// The routing layer only needs single-prompt text completion: no streaming,
// no tool calling, no multi-turn state.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type CompletionResponse struct {
	Content   string
	Usage     Usage
	LatencyMs int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
