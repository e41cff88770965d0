// Package llm defines the chat-model boundary used by the research engine and
// adapts langchaingo providers to it.
package llm

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNoChoices           = errors.New("model returned no choices")
)

// FinishReasonToolCalls is the normalized finish reason for tool-call turns.
const FinishReasonToolCalls = "tool_calls"

// Response is a normalized non-streaming model answer.
type Response struct {
	Content      string
	FinishReason string
	ToolCalls    []ToolCall
}

// WantsTools reports whether the model ended its turn to request tools.
func (r Response) WantsTools() bool {
	return NormalizeFinishReason(r.FinishReason) == FinishReasonToolCalls
}

// NormalizeFinishReason folds provider spellings into one vocabulary.
func NormalizeFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "tool_use", "function_call", "ToolCalls":
		return FinishReasonToolCalls
	default:
		return reason
	}
}

// ChatModel is the capability the engine talks to. Implementations are
// stateless between calls and safe to reuse across steps.
type ChatModel interface {
	Invoke(ctx context.Context, messages []Message) (Response, error)
	// Stream calls onChunk for every text fragment. An error returned by
	// onChunk aborts the stream and is returned.
	Stream(ctx context.Context, messages []Message, onChunk func(chunk string) error) error
}

// Settings selects a provider and the sampling parameters for one run.
// Nil pointers mean "provider default".
type Settings struct {
	Provider         string   `json:"provider"`
	APIKey           string   `json:"apiKey"`
	BaseURL          string   `json:"baseUrl,omitempty"`
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	ToolChoice       any      `json:"toolChoice,omitempty"`
}

// Builder constructs a ChatModel bound to a fixed tool set.
type Builder interface {
	Build(ctx context.Context, settings Settings, tools []ToolSpec) (ChatModel, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, settings Settings, tools []ToolSpec) (ChatModel, error)

func (f BuilderFunc) Build(ctx context.Context, settings Settings, tools []ToolSpec) (ChatModel, error) {
	return f(ctx, settings, tools)
}
