// Package research runs multi-step research: plan, execute each step as a
// bounded tool-calling conversation, then stream a cited report.
package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rahul/deepresearch/internal/governance"
	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
)

const tracerName = "github.com/rahul/deepresearch/internal/research"

// Request is the input of one run.
type Request struct {
	RunID string `json:"runId,omitempty"`

	Provider         string         `json:"provider"`
	APIKey           string         `json:"apiKey"`
	BaseURL          string         `json:"baseUrl,omitempty"`
	Model            string         `json:"model,omitempty"`
	Messages         []llm.Message  `json:"messages,omitempty"`
	Tools            []llm.ToolSpec `json:"tools,omitempty"`
	ToolChoice       any            `json:"toolChoice,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"topP,omitempty"`
	TopK             *int           `json:"topK,omitempty"`
	FrequencyPenalty *float64       `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64       `json:"presencePenalty,omitempty"`

	ContextMessageLimit int      `json:"contextMessageLimit,omitempty"`
	ToolIDs             []string `json:"toolIds,omitempty"`
	// Plan is literal plan text. When empty the PlanModel is asked.
	Plan         string `json:"plan,omitempty"`
	Question     string `json:"question,omitempty"`
	ResearchType string `json:"researchType,omitempty"`
}

// Settings returns the model settings carried by the request.
func (r Request) Settings() llm.Settings {
	return llm.Settings{
		Provider:         r.Provider,
		APIKey:           r.APIKey,
		BaseURL:          r.BaseURL,
		Model:            r.Model,
		Temperature:      r.Temperature,
		TopP:             r.TopP,
		TopK:             r.TopK,
		FrequencyPenalty: r.FrequencyPenalty,
		PresencePenalty:  r.PresencePenalty,
		ToolChoice:       r.ToolChoice,
	}
}

// ResolvedQuestion is Question, or the last user message when Question is empty.
func (r Request) ResolvedQuestion() string {
	if q := strings.TrimSpace(r.Question); q != "" {
		return q
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == llm.RoleUser && strings.TrimSpace(r.Messages[i].Content) != "" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// Orchestrator runs research requests.
type Orchestrator struct {
	Builder llm.Builder
	Tools   ToolRegistry
	Prompts PromptSource
	// Planner generates plans when a request carries none. Nil uses a
	// ChatPlanner on the run's tool-less model.
	Planner  PlanModel
	MaxLoops int
	// ContextMessageLimit applies when the request does not set one.
	ContextMessageLimit int

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

func NewOrchestrator(builder llm.Builder, registry ToolRegistry, prompts PromptSource, logger *observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Orchestrator{
		Builder:  builder,
		Tools:    registry,
		Prompts:  prompts,
		MaxLoops: DefaultMaxLoops,
		Logger:   logger,
		Tracer:   otel.Tracer(tracerName),
	}
}

// Run returns the run's event sequence. Nothing happens until it is ranged
// over, and it can be ranged over once; a second attempt yields
// ErrAlreadyConsumed. Breaking out of the loop cancels the run.
//
// A completed run ends with a DoneEvent. A cancelled run just ends. A report
// failure ends the sequence with a (nil, err) element.
func (o *Orchestrator) Run(ctx context.Context, req Request) iter.Seq2[Event, error] {
	var consumed atomic.Bool
	return func(yield func(Event, error) bool) {
		if consumed.Swap(true) {
			yield(nil, ErrAlreadyConsumed)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		o.run(ctx, req, yield)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, yield func(Event, error) bool) {
	logger := o.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	if req.RunID != "" {
		logger = logger.With(req.RunID)
		ctx = governance.WithRunID(ctx, req.RunID)
	}
	tracer := o.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	question := req.ResolvedQuestion()
	researchType := normalizeResearchType(req.ResearchType)

	ctx, span := tracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("research.run_id", req.RunID),
		attribute.String("research.type", researchType),
		attribute.String("research.provider", req.Provider),
	))
	defer span.End()

	observability.BeginRun(question)
	defer observability.EndRun()

	// stopped guards yield: it must not be called again once it returned false.
	stopped := false
	emit := func(ev Event) bool {
		if stopped {
			return false
		}
		if !yield(ev, nil) {
			stopped = true
		}
		return !stopped
	}
	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.Metrics.RunFinished("failed")
		logger.Error().Err(err).Msg("research run failed")
		if !stopped {
			yield(nil, err)
		}
	}
	cancelled := func() {
		o.Metrics.RunFinished("cancelled")
		logger.Info().Msg("research run cancelled")
	}

	if o.Builder == nil {
		fail(ErrNoModel)
		return
	}

	settings := req.Settings()
	stepModel, err := o.Builder.Build(ctx, settings, o.toolSpecs(req, researchType))
	if err != nil {
		fail(fmt.Errorf("build step model: %w", err))
		return
	}
	reportSettings := settings
	reportSettings.ToolChoice = nil
	reportModel, err := o.Builder.Build(ctx, reportSettings, nil)
	if err != nil {
		fail(fmt.Errorf("build report model: %w", err))
		return
	}

	planText := req.Plan
	if strings.TrimSpace(planText) == "" {
		planner := o.Planner
		if planner == nil {
			planner = &ChatPlanner{Model: reportModel, Prompts: o.Prompts}
		}
		o.Metrics.ModelInvoked("plan")
		planText, err = planner.GeneratePlan(ctx, question, researchType)
		if err != nil {
			if ctx.Err() != nil {
				cancelled()
				return
			}
			logger.Warn().Err(err).Msg("plan generation failed, using fallback plan")
			planText = ""
		}
	}
	plan := ParsePlan(planText)
	logger.LogPlan(plan.Goal, plan.QuestionType, len(plan.Steps))
	span.SetAttributes(attribute.Int("research.steps", len(plan.Steps)))

	state := NewRunState(question, researchType, plan, req.Messages)
	runner := &StepRunner{
		Model:    stepModel,
		Tools:    o.Tools,
		Prompts:  o.Prompts,
		MaxLoops: o.MaxLoops,
		Logger:   logger,
		Metrics:  o.Metrics,
		Tracer:   tracer,
	}

	observability.SetStatus(observability.PhaseResearching, question)
	for i := range plan.Steps {
		if ctx.Err() != nil {
			cancelled()
			return
		}
		if _, _, err := runner.RunStep(ctx, state, i, emit); err != nil {
			cancelled()
			return
		}
	}

	limit := req.ContextMessageLimit
	if limit <= 0 {
		limit = o.ContextMessageLimit
	}
	report := &ReportGenerator{
		Model:               reportModel,
		Prompts:             o.Prompts,
		ContextMessageLimit: limit,
		Logger:              logger,
		Metrics:             o.Metrics,
	}

	observability.SetStatus(observability.PhaseReporting, question)
	if err := report.Generate(ctx, state, emit); err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrStopped) || stopped {
			cancelled()
			return
		}
		fail(fmt.Errorf("report generation: %w", err))
		return
	}

	o.Metrics.RunFinished("completed")
	logger.Info().
		Int("findings", len(state.Findings)).
		Int("sources", state.Sources.Len()).
		Msg("research run completed")
}

// toolSpecs is the fixed tool set of the step model: local definitions for
// the requested ids (always including the search tool), then client-declared
// tools that do not shadow a local one.
func (o *Orchestrator) toolSpecs(req Request, researchType string) []llm.ToolSpec {
	ids := slices.Clone(req.ToolIDs)
	if search := SearchToolFor(researchType); !slices.Contains(ids, search) {
		ids = append(ids, search)
	}

	var specs []llm.ToolSpec
	if o.Tools != nil {
		specs = o.Tools.Definitions(ids)
	}
	for _, t := range req.Tools {
		if t.Name == "" || slices.ContainsFunc(specs, func(s llm.ToolSpec) bool { return s.Name == t.Name }) {
			continue
		}
		specs = append(specs, t)
	}
	return specs
}
