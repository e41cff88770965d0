package research

import (
	"context"
	"strings"

	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/prompts"
)

// PlanModel produces plan text for a question.
type PlanModel interface {
	GeneratePlan(ctx context.Context, question, researchType string) (string, error)
}

// PlanModelFunc adapts a function to PlanModel.
type PlanModelFunc func(ctx context.Context, question, researchType string) (string, error)

func (f PlanModelFunc) GeneratePlan(ctx context.Context, question, researchType string) (string, error) {
	return f(ctx, question, researchType)
}

// ChatPlanner asks a chat model for a JSON plan.
type ChatPlanner struct {
	Model   llm.ChatModel
	Prompts PromptSource
}

func (p *ChatPlanner) GeneratePlan(ctx context.Context, question, researchType string) (string, error) {
	name := prompts.PlannerGeneral
	if normalizeResearchType(researchType) == TypeAcademic {
		name = prompts.PlannerAcademic
	}
	resp, err := p.Model.Invoke(ctx, []llm.Message{
		llm.SystemMessage(templateText(p.Prompts, name)),
		llm.UserMessage(question),
	})
	if err != nil {
		return "", err
	}
	return StripCodeFence(resp.Content), nil
}

// StripCodeFence removes a surrounding ```json fence if the model added one.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
