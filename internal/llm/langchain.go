package llm

import (
	"context"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// LangChainModel adapts an llms.Model to ChatModel. The tool set and sampling
// options are fixed at construction.
type LangChainModel struct {
	Model    llms.Model
	Tools    []llms.Tool
	Settings Settings
}

func NewLangChainModel(model llms.Model, settings Settings, tools []ToolSpec) *LangChainModel {
	return &LangChainModel{
		Model:    model,
		Tools:    toLLMTools(tools),
		Settings: settings,
	}
}

var _ ChatModel = (*LangChainModel)(nil)

func (m *LangChainModel) Invoke(ctx context.Context, messages []Message) (Response, error) {
	resp, err := m.Model.GenerateContent(ctx, toMessageContent(messages), m.callOptions()...)
	if err != nil {
		return Response{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Content,
		FinishReason: NormalizeFinishReason(choice.StopReason),
	}
	for _, tc := range choice.ToolCalls {
		call := ToolCall{ID: tc.ID, Type: tc.Type}
		if tc.FunctionCall != nil {
			call.Name = tc.FunctionCall.Name
			call.Arguments = tc.FunctionCall.Arguments
		}
		if call.Type == "" {
			call.Type = "function"
		}
		// googleai returns function calls without ids.
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	// Providers disagree on the stop reason of a tool-call turn (googleai
	// reports FinishReasonStop). The calls themselves are authoritative.
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishReasonToolCalls
	}
	return out, nil
}

func (m *LangChainModel) Stream(ctx context.Context, messages []Message, onChunk func(chunk string) error) error {
	opts := append(m.callOptions(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	}))
	resp, err := m.Model.GenerateContent(ctx, toMessageContent(messages), opts...)
	if err != nil {
		return err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ErrNoChoices
	}
	return nil
}

func (m *LangChainModel) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if len(m.Tools) > 0 {
		opts = append(opts, llms.WithTools(m.Tools))
		if m.Settings.ToolChoice != nil {
			opts = append(opts, llms.WithToolChoice(m.Settings.ToolChoice))
		}
	}
	s := m.Settings
	if s.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*s.Temperature))
	}
	if s.TopP != nil {
		opts = append(opts, llms.WithTopP(*s.TopP))
	}
	if s.TopK != nil {
		opts = append(opts, llms.WithTopK(*s.TopK))
	}
	if s.FrequencyPenalty != nil {
		opts = append(opts, llms.WithFrequencyPenalty(*s.FrequencyPenalty))
	}
	if s.PresencePenalty != nil {
		opts = append(opts, llms.WithPresencePenalty(*s.PresencePenalty))
	}
	return opts
}

func toLLMTools(specs []ToolSpec) []llms.Tool {
	var out []llms.Tool
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case RoleAssistant:
			var parts []llms.ContentPart
			if msg.Content != "" {
				parts = append(parts, llms.TextContent{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: msg.ToolCallID,
						Name:       msg.Name,
						Content:    msg.Content,
					},
				},
			})
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}
	return out
}
