package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/prompts"
)

// Research types.
const (
	TypeGeneral  = "general"
	TypeAcademic = "academic"
)

// PromptSource resolves prompt templates by name.
type PromptSource interface {
	Get(name string) string
}

// RunState is the mutable context of one run, threaded through every step.
//
// Plan is read-only. Findings is append-only and written by StepRunner after
// a step finishes. Sources is written only by ToolCallLoop.
type RunState struct {
	Question     string
	ResearchType string
	Plan         ResearchPlan
	History      []llm.Message
	Findings     []string
	Sources      *SourceAggregator
}

func NewRunState(question, researchType string, plan ResearchPlan, history []llm.Message) *RunState {
	return &RunState{
		Question:     question,
		ResearchType: normalizeResearchType(researchType),
		Plan:         plan,
		History:      history,
		Sources:      NewSourceAggregator(),
	}
}

func normalizeResearchType(t string) string {
	if strings.EqualFold(strings.TrimSpace(t), TypeAcademic) {
		return TypeAcademic
	}
	return TypeGeneral
}

// SearchToolFor returns the search tool id used for a research type.
func SearchToolFor(researchType string) string {
	if normalizeResearchType(researchType) == TypeAcademic {
		return "academic_search"
	}
	return "web_search"
}

// StepRunner executes one plan step end to end.
type StepRunner struct {
	Model    llm.ChatModel
	Tools    ToolRegistry
	Prompts  PromptSource
	MaxLoops int
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   trace.Tracer
}

// RunStep yields research_step(running), the loop's tool events, and then
// research_step(done) or research_step(error). A failing step is reported
// and ok is false; err is only set when the run must stop (cancellation or
// a consumer that stopped pulling).
func (r *StepRunner) RunStep(ctx context.Context, run *RunState, stepIndex int, yield func(Event) bool) (finding string, ok bool, err error) {
	logger := r.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	step := run.Plan.Steps[stepIndex]
	number := stepIndex + 1
	total := len(run.Plan.Steps)
	title := step.Title()

	if r.Tracer != nil {
		var span trace.Span
		ctx, span = r.Tracer.Start(ctx, "research.step", trace.WithAttributes(
			attribute.Int("research.step", number),
			attribute.Int("research.total", total),
			attribute.Bool("research.requires_search", step.RequiresSearch),
		))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	logger.LogStep(number, total, title, StatusRunning, 0, "")
	if !yield(ResearchStepEvent{Step: number, Total: total, Title: title, Status: StatusRunning}) {
		return "", false, ErrStopped
	}

	start := time.Now()
	loop := &ToolCallLoop{
		Tools:    r.Tools,
		Sources:  run.Sources,
		MaxLoops: r.MaxLoops,
		Logger:   logger,
		Metrics:  r.Metrics,
	}
	messages := []llm.Message{
		llm.SystemMessage(r.stepPrompt(run, step, number)),
		llm.UserMessage(run.Question),
	}
	res, loopErr := loop.Run(ctx, r.Model, messages, func(ev Event) bool {
		if tc, isCall := ev.(ToolCallEvent); isCall {
			tc.Step, tc.Total = number, total
			ev = tc
		}
		return yield(ev)
	})
	elapsed := time.Since(start)

	if loopErr != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if errors.Is(loopErr, ErrStopped) {
			return "", false, loopErr
		}
		logger.LogStep(number, total, title, StatusError, elapsed, loopErr.Error())
		r.Metrics.StepFinished(StatusError, elapsed)
		if !yield(ResearchStepEvent{
			Step:       number,
			Total:      total,
			Title:      title,
			Status:     StatusError,
			DurationMs: millis(elapsed.Milliseconds()),
			Error:      loopErr.Error(),
		}) {
			return "", false, ErrStopped
		}
		return "", false, nil
	}

	finding = strings.TrimSpace(res.Content)
	if finding != "" {
		run.Findings = append(run.Findings, finding)
	} else if res.Exhausted {
		logger.Warn().Int("step", number).Int("invocations", res.Invocations).Msg("step hit the tool loop limit, no finding recorded")
	}

	logger.LogStep(number, total, title, StatusDone, elapsed, "")
	r.Metrics.StepFinished(StatusDone, elapsed)
	if !yield(ResearchStepEvent{
		Step:       number,
		Total:      total,
		Title:      title,
		Status:     StatusDone,
		DurationMs: millis(elapsed.Milliseconds()),
	}) {
		return finding, finding != "", ErrStopped
	}
	return finding, finding != "", nil
}

func (r *StepRunner) stepPrompt(run *RunState, step Step, number int) string {
	name := prompts.StepGeneral
	if run.ResearchType == TypeAcademic {
		name = prompts.StepAcademic
	}
	return BuildStepPrompt(templateText(r.Prompts, name), run, step, number)
}

func templateText(src PromptSource, name string) string {
	if src != nil {
		if t := src.Get(name); t != "" {
			return t
		}
	}
	return prompts.Default(name)
}

// BuildStepPrompt assembles the system prompt for one step.
func BuildStepPrompt(template string, run *RunState, step Step, number int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research goal: %s\n", orNA(run.Plan.Goal))
	fmt.Fprintf(&b, "Question type: %s\n\n", orNA(run.Plan.QuestionType))

	fmt.Fprintf(&b, "Step %d of %d: %s\n\n", number, len(run.Plan.Steps), step.Title())
	fmt.Fprintf(&b, "Expected Output: %s\n", orNA(step.ExpectedOutput))
	fmt.Fprintf(&b, "Deliverable Format: %s\n", orDefault(step.DeliverableFormat, "paragraph"))
	fmt.Fprintf(&b, "Depth: %s\n\n", orDefault(step.Depth, "medium"))

	b.WriteString("Acceptance Criteria:\n")
	writeBullets(&b, step.AcceptanceCriteria)
	b.WriteString("\nAssumptions:\n")
	writeBullets(&b, run.Plan.Assumptions)

	b.WriteString("\n")
	searchTool := SearchToolFor(run.ResearchType)
	if step.RequiresSearch {
		fmt.Fprintf(&b, "Search: this step needs current external evidence. Call the %s tool before answering.\n", searchTool)
	} else {
		fmt.Fprintf(&b, "Search: this step relies on stable knowledge. Call %s only to verify a specific fact.\n", searchTool)
	}

	b.WriteString("\nFindings from previous steps:\n")
	writeBullets(&b, run.Findings)

	b.WriteString("\nSources (cite as [index]):\n")
	writeBullets(&b, nil, run.Sources.CitationLines()...)

	b.WriteString("\n")
	b.WriteString(template)
	return b.String()
}

// writeBullets renders items as "- x" lines, or the plain lines as-is, or
// "- None" when both are empty.
func writeBullets(b *strings.Builder, items []string, lines ...string) {
	if len(items) == 0 && len(lines) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
}

func orNA(s string) string {
	return orDefault(s, "N/A")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
