package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/deepresearch/internal/governance"
	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/llm/llmtest"
	"github.com/rahul/deepresearch/internal/observability"
)

const twoStepPlan = `{
	"goal": "Compare PostgreSQL and MongoDB",
	"question_type": "comparison",
	"steps": [
		{"step": 1, "action": "Compare data models", "requires_search": false},
		{"step": 2, "action": "Compare scaling", "requires_search": true}
	]
}`

const oneStepPlan = `{"goal":"g","question_type":"analysis","steps":[{"step":1,"action":"Look things up","requires_search":true}]}`

func searchTools(result toolFunc) *fakeTools {
	return newFakeTools().
		add("web_search", true, result).
		add("academic_search", true, result).
		add("web_fetch", false, staticResult("page"))
}

type harness struct {
	orch   *Orchestrator
	step   *llmtest.ScriptedModel
	report *llmtest.ScriptedModel
	tools  *fakeTools
}

func newHarness(step *llmtest.ScriptedModel, reportChunks ...string) *harness {
	h := &harness{
		step:   step,
		report: llmtest.NewScriptedModel(),
		tools:  searchTools(staticResult(map[string]any{"results": []any{}})),
	}
	h.report.Chunks = reportChunks
	h.orch = NewOrchestrator(llmtest.Builder(h.step, h.report), h.tools, nil, nil)
	return h
}

type element struct {
	ev  Event
	err error
}

func drain(seq func(func(Event, error) bool)) []element {
	var out []element
	for ev, err := range seq {
		out = append(out, element{ev, err})
	}
	return out
}

func eventsOf(t *testing.T, elems []element) []Event {
	t.Helper()
	var out []Event
	for _, e := range elems {
		require.NoError(t, e.err)
		out = append(out, e.ev)
	}
	return out
}

// assertOrdering checks the stream shape every completed run must have: each
// tool call gets exactly one later result, steps open before they close and
// never overlap, and a done event is last.
func assertOrdering(t *testing.T, events []Event) {
	t.Helper()
	openStep := 0
	calls := map[string]bool{}
	results := map[string]int{}
	sawText := false
	for i, ev := range events {
		switch e := ev.(type) {
		case ResearchStepEvent:
			assert.False(t, sawText, "step event after report text")
			if e.Status == StatusRunning {
				assert.Zero(t, openStep, "step %d opened inside step %d", e.Step, openStep)
				openStep = e.Step
			} else {
				assert.Equal(t, openStep, e.Step)
				openStep = 0
			}
		case ToolCallEvent:
			assert.NotZero(t, openStep, "tool call outside a step")
			assert.Equal(t, openStep, e.Step)
			calls[e.ID] = true
		case ToolResultEvent:
			assert.True(t, calls[e.ID], "result %s without a call", e.ID)
			results[e.ID]++
		case TextEvent:
			sawText = true
		case DoneEvent:
			assert.Equal(t, len(events)-1, i, "done is not last")
		}
	}
	assert.Zero(t, openStep)
	for id := range calls {
		assert.Equal(t, 1, results[id], "tool call %s must get exactly one result", id)
	}
}

func TestOrchestrator_NoToolsTwoSteps(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("models differ"), llmtest.Text("both scale")), "Postgres ", "vs Mongo")

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{Question: "Compare", Plan: twoStepPlan})))
	assertOrdering(t, events)

	require.Len(t, events, 7)
	assert.Equal(t, ResearchStepEvent{Step: 1, Total: 2, Title: "Compare data models", Status: StatusRunning}, events[0])
	done1 := events[1].(ResearchStepEvent)
	assert.Equal(t, StatusDone, done1.Status)
	assert.NotNil(t, done1.DurationMs)
	assert.Equal(t, "Compare scaling", events[2].(ResearchStepEvent).Title)
	assert.Equal(t, TextEvent{Content: "Postgres "}, events[4])
	assert.Equal(t, TextEvent{Content: "vs Mongo"}, events[5])
	assert.Equal(t, DoneEvent{Content: "Postgres vs Mongo"}, events[6])

	// The report sees both findings and no tools were built into it.
	require.Len(t, h.report.Streamed, 1)
	system := h.report.Streamed[0][0].Content
	assert.Contains(t, system, "- models differ")
	assert.Contains(t, system, "- both scale")

	// The second step prompt carries the first finding.
	assert.Contains(t, h.step.Calls[1][0].Content, "- models differ")
}

func TestOrchestrator_SearchCollectsSources(t *testing.T) {
	step := llmtest.NewScriptedModel(
		llmtest.Calls(llmtest.Call("c1", "web_search", `{"query":"q"}`)),
		llmtest.Text("found"),
	)
	h := newHarness(step, "See [1].")
	h.tools.add("web_search", true, staticResult(map[string]any{
		"results": []any{map[string]any{"url": "https://a.com", "title": "A", "content": "alpha"}},
	}))

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{Question: "Q", Plan: oneStepPlan})))
	assertOrdering(t, events)

	call := events[1].(ToolCallEvent)
	assert.Equal(t, ToolCallEvent{ID: "c1", Name: "web_search", Arguments: `{"query":"q"}`, Step: 1, Total: 1}, call)
	assert.Equal(t, StatusDone, events[2].(ToolResultEvent).Status)

	done := events[len(events)-1].(DoneEvent)
	require.Len(t, done.Sources, 1)
	assert.Equal(t, "https://a.com", done.Sources[0].URL)
	assert.Contains(t, h.report.Streamed[0][0].Content, "[1] A https://a.com")
}

func TestOrchestrator_ToolsSeeRunID(t *testing.T) {
	step := llmtest.NewScriptedModel(
		llmtest.Calls(llmtest.Call("c1", "web_search", `{"query":"q"}`), llmtest.Call("c2", "missing", `{}`)),
		llmtest.Text("found"),
	)
	h := newHarness(step, "report")
	var seen string
	h.tools.add("web_search", true, func(ctx context.Context, _ string) (any, error) {
		seen = governance.RunIDFrom(ctx)
		return map[string]any{"results": []any{}}, nil
	})

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{RunID: "run-7", Question: "Q", Plan: oneStepPlan})))
	assertOrdering(t, events)
	assert.Equal(t, "run-7", seen)
}

func TestOrchestrator_ToolFailureDoesNotStopRun(t *testing.T) {
	step := llmtest.NewScriptedModel(
		llmtest.Calls(llmtest.Call("c1", "web_search", `{"query":"q"}`)),
		llmtest.Text("answered anyway"),
	)
	h := newHarness(step, "report")
	h.tools.add("web_search", true, func(context.Context, string) (any, error) {
		return nil, errors.New("boom")
	})

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{Question: "Q", Plan: oneStepPlan})))
	assertOrdering(t, events)

	result := events[2].(ToolResultEvent)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "boom", result.Error)
	assert.Equal(t, StatusDone, events[3].(ResearchStepEvent).Status)
	done := events[len(events)-1].(DoneEvent)
	assert.Empty(t, done.Sources)
}

func TestOrchestrator_StepErrorContinues(t *testing.T) {
	step := llmtest.NewScriptedModel(llmtest.Turn{Err: errors.New("overloaded")}, llmtest.Text("second finding"))
	h := newHarness(step, "report")

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{Question: "Q", Plan: twoStepPlan})))
	assertOrdering(t, events)

	failed := events[1].(ResearchStepEvent)
	assert.Equal(t, StatusError, failed.Status)
	assert.Contains(t, failed.Error, "overloaded")
	assert.Equal(t, StatusDone, events[3].(ResearchStepEvent).Status)
	assert.IsType(t, DoneEvent{}, events[len(events)-1])

	system := h.report.Streamed[0][0].Content
	assert.Contains(t, system, "- second finding")
	assert.NotContains(t, system, noFindings)
}

func TestOrchestrator_PlannerFailureUsesFallback(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("summary")), "report")
	h.orch.Planner = PlanModelFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("planner down")
	})

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{Question: "Q"})))
	assertOrdering(t, events)

	first := events[0].(ResearchStepEvent)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, "Summarize the topic and gather key evidence", first.Title)
}

func TestOrchestrator_DefaultPlannerStripsFence(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("a"), llmtest.Text("b")), "report")
	h.report = llmtest.NewScriptedModel(llmtest.Text("```json\n" + twoStepPlan + "\n```"))
	h.report.Chunks = []string{"report"}
	h.orch.Builder = llmtest.Builder(h.step, h.report)

	events := eventsOf(t, drain(h.orch.Run(context.Background(), Request{
		Messages:     []llm.Message{llm.UserMessage("Compare databases")},
		ResearchType: "academic",
	})))
	assertOrdering(t, events)

	assert.Equal(t, 2, events[0].(ResearchStepEvent).Total)
	require.Equal(t, 1, h.report.InvokeCount())
	planCall := h.report.Calls[0]
	assert.Equal(t, "Compare databases", planCall[1].Content)
	assert.Contains(t, h.step.Calls[0][0].Content, "academic_search")
}

func TestOrchestrator_ReportFailureIsLastElement(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("f")), "partial ")
	streamErr := errors.New("stream down")
	h.report.StreamErr = streamErr

	elems := drain(h.orch.Run(context.Background(), Request{Question: "Q", Plan: oneStepPlan}))
	require.NotEmpty(t, elems)

	last := elems[len(elems)-1]
	assert.Nil(t, last.ev)
	assert.ErrorIs(t, last.err, streamErr)

	for _, e := range elems[:len(elems)-1] {
		require.NoError(t, e.err)
		assert.NotEqual(t, "done", e.ev.Type())
	}
	assert.Equal(t, TextEvent{Content: "partial "}, elems[len(elems)-2].ev)
}

func TestOrchestrator_CancelledRunEndsQuietly(t *testing.T) {
	step := llmtest.NewScriptedModel(llmtest.Turn{Block: true})
	h := newHarness(step, "report")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var elems []element
	for ev, err := range h.orch.Run(ctx, Request{Question: "Q", Plan: twoStepPlan}) {
		elems = append(elems, element{ev, err})
		if rs, ok := ev.(ResearchStepEvent); ok && rs.Status == StatusRunning {
			cancel()
		}
	}

	require.Len(t, elems, 1)
	assert.NoError(t, elems[0].err)
	assert.Empty(t, h.report.Streamed)
}

func TestOrchestrator_BreakStopsWork(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("never")), "report")

	count := 0
	for range h.orch.Run(context.Background(), Request{Question: "Q", Plan: twoStepPlan}) {
		count++
		break
	}

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, h.step.InvokeCount())
	assert.Empty(t, h.report.Streamed)
}

func TestOrchestrator_SequenceIsSingleUse(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("f")), "report")
	seq := h.orch.Run(context.Background(), Request{Question: "Q", Plan: oneStepPlan})

	first := drain(seq)
	assert.IsType(t, DoneEvent{}, first[len(first)-1].ev)

	second := drain(seq)
	require.Len(t, second, 1)
	assert.Nil(t, second[0].ev)
	assert.ErrorIs(t, second[0].err, ErrAlreadyConsumed)
}

func TestOrchestrator_NoBuilder(t *testing.T) {
	orch := NewOrchestrator(nil, newFakeTools(), nil, nil)
	elems := drain(orch.Run(context.Background(), Request{Question: "Q"}))
	require.Len(t, elems, 1)
	assert.ErrorIs(t, elems[0].err, ErrNoModel)
}

func TestOrchestrator_Metrics(t *testing.T) {
	h := newHarness(llmtest.NewScriptedModel(llmtest.Text("f")), "report")
	h.orch.Metrics = observability.NewMetrics()

	drain(h.orch.Run(context.Background(), Request{Question: "Q", Plan: oneStepPlan}))

	families, err := h.orch.Metrics.Registry.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				got[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, got["deepresearch_runs_total"])
	assert.Equal(t, 1.0, got["deepresearch_steps_total"])
	assert.Equal(t, 2.0, got["deepresearch_model_invocations_total"])
}

func TestOrchestrator_ToolSpecs(t *testing.T) {
	orch := NewOrchestrator(nil, searchTools(staticResult(nil)), nil, nil)

	names := func(specs []llm.ToolSpec) []string {
		var out []string
		for _, s := range specs {
			out = append(out, s.Name)
		}
		return out
	}

	general := orch.toolSpecs(Request{
		ToolIDs: []string{"web_fetch", "not_registered"},
		Tools:   []llm.ToolSpec{{Name: "web_search"}, {Name: "client_tool"}, {}},
	}, TypeGeneral)
	assert.Equal(t, []string{"web_fetch", "web_search", "client_tool"}, names(general))

	academic := orch.toolSpecs(Request{}, TypeAcademic)
	assert.Equal(t, []string{"academic_search"}, names(academic))
}

func TestReportMessages_DropsRepeatedQuestion(t *testing.T) {
	run := NewRunState("What changed?", TypeGeneral, FallbackPlan(), []llm.Message{
		llm.UserMessage("earlier"),
		{Role: llm.RoleAssistant, Content: "answer"},
		llm.UserMessage("What changed?"),
	})
	gen := &ReportGenerator{}

	msgs := gen.Messages(run)
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "What changed?", msgs[3].Content)
	assert.Contains(t, msgs[0].Content, noFindings)

	gen.ContextMessageLimit = 1
	msgs = gen.Messages(run)
	require.Len(t, msgs, 2)
}

func TestRequest_ResolvedQuestion(t *testing.T) {
	assert.Equal(t, "explicit", Request{Question: " explicit ", Messages: []llm.Message{llm.UserMessage("other")}}.ResolvedQuestion())
	assert.Equal(t, "last user", Request{Messages: []llm.Message{
		llm.UserMessage("first"),
		llm.UserMessage("last user"),
		{Role: llm.RoleAssistant, Content: "reply"},
	}}.ResolvedQuestion())
	assert.Equal(t, "", Request{}.ResolvedQuestion())
}
