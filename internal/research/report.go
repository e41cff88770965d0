package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/prompts"
)

const noFindings = "No step outputs available"

// ReportGenerator streams the final synthesized report.
type ReportGenerator struct {
	// Model must be built without tools.
	Model               llm.ChatModel
	Prompts             PromptSource
	ContextMessageLimit int
	Logger              *observability.Logger
	Metrics             *observability.Metrics
}

// Generate yields a text event per streamed chunk and then one done event.
// A model failure is returned unchanged so the caller can surface it.
func (g *ReportGenerator) Generate(ctx context.Context, run *RunState, yield func(Event) bool) error {
	logger := g.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	messages := g.Messages(run)
	var full strings.Builder
	stopped := false

	g.Metrics.ModelInvoked("report")
	err := g.Model.Stream(ctx, messages, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		full.WriteString(chunk)
		if !yield(TextEvent{Content: chunk}) {
			stopped = true
			return ErrStopped
		}
		return nil
	})
	if stopped {
		return ErrStopped
	}
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return ErrStopped
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	content := full.String()
	logger.LogLLM("report", messages, content, nil)

	done := DoneEvent{Content: content}
	if run.Sources.Len() > 0 {
		done.Sources = run.Sources.List()
	}
	if !yield(done) {
		return ErrStopped
	}
	return nil
}

// Messages builds the report conversation: system prompt, trimmed prior
// conversation, then the question.
func (g *ReportGenerator) Messages(run *RunState) []llm.Message {
	name := prompts.ReportGeneral
	if run.ResearchType == TypeAcademic {
		name = prompts.ReportAcademic
	}
	system := BuildReportPrompt(templateText(g.Prompts, name), run)

	history := llm.TrimHistory(run.History, g.ContextMessageLimit)
	// The client usually sends the question as the last message too.
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser && strings.TrimSpace(history[n-1].Content) == strings.TrimSpace(run.Question) {
		history = history[:n-1]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(system))
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(run.Question))
	return messages
}

// BuildReportPrompt appends the run's findings and numbered sources to the
// report template.
func BuildReportPrompt(template string, run *RunState) string {
	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Question: %s\n", orDefault(run.Question, orNA(run.Plan.Goal)))
	fmt.Fprintf(&b, "Plan goal: %s\n", orNA(run.Plan.Goal))
	fmt.Fprintf(&b, "Question type: %s\n\n", orNA(run.Plan.QuestionType))

	b.WriteString("Findings to synthesize:\n")
	findings := run.Findings
	if len(findings) == 0 {
		findings = []string{noFindings}
	}
	writeBullets(&b, findings)

	b.WriteString("\nSources (cite as [index]):\n")
	writeBullets(&b, nil, run.Sources.CitationLines()...)
	return b.String()
}
