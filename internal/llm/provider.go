package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// openAICompatible lists providers spoken to through the OpenAI wire format,
// with their default endpoints.
var openAICompatible = map[string]string{
	"openai":               "",
	"openai_compatibility": "",
	"openrouter":           "https://openrouter.ai/api/v1",
	"siliconflow":          "https://api.siliconflow.cn/v1",
	"glm":                  "https://open.bigmodel.cn/api/paas/v4",
	"modelscope":           "https://api-inference.modelscope.cn/v1",
	"kimi":                 "https://api.moonshot.cn/v1",
	"nvidia":               "https://integrate.api.nvidia.com/v1",
	"minimax":              "https://api.minimax.io/v1",
	// Ollama's native API takes no tools; its /v1 endpoint does.
	"ollama":               "http://localhost:11434/v1",
}

// keylessToken stands in for the API key of local servers that ignore it.
const keylessToken = "unused"

// NewProviderModel constructs the langchaingo model for settings.Provider.
func NewProviderModel(ctx context.Context, s Settings) (llms.Model, error) {
	if defaultURL, ok := openAICompatible[s.Provider]; ok {
		token := s.APIKey
		if token == "" && s.Provider == "ollama" {
			token = keylessToken
		}
		opts := []openai.Option{openai.WithToken(token)}
		if s.Model != "" {
			opts = append(opts, openai.WithModel(s.Model))
		}
		baseURL := s.BaseURL
		if baseURL == "" {
			baseURL = defaultURL
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	}

	switch s.Provider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(s.APIKey)}
		if s.Model != "" {
			opts = append(opts, anthropic.WithModel(s.Model))
		}
		if s.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(s.BaseURL))
		}
		return anthropic.New(opts...)
	case "gemini":
		opts := []googleai.Option{googleai.WithAPIKey(s.APIKey)}
		if s.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(s.Model))
		}
		return googleai.New(ctx, opts...)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, s.Provider)
}

// ProviderBuilder builds LangChainModels from provider settings.
type ProviderBuilder struct{}

func (ProviderBuilder) Build(ctx context.Context, settings Settings, tools []ToolSpec) (ChatModel, error) {
	model, err := NewProviderModel(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("build %s model: %w", settings.Provider, err)
	}
	return NewLangChainModel(model, settings, tools), nil
}
