package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
)

// DefaultMaxLoops bounds model invocations per step.
const DefaultMaxLoops = 4

var (
	// ErrStopped is returned when the consumer stops pulling events.
	ErrStopped = errors.New("research: consumer stopped")
	// ErrAlreadyConsumed is yielded when a run sequence is iterated twice.
	ErrAlreadyConsumed = errors.New("research: event sequence already consumed")
	// ErrNoModel is yielded when the orchestrator has no model builder.
	ErrNoModel = errors.New("research: no chat model configured")
)

// ToolRegistry is the engine's view of the tool set.
type ToolRegistry interface {
	IsLocal(name string) bool
	// IsSearch reports whether successful results should be collected as sources.
	IsSearch(name string) bool
	Execute(ctx context.Context, name, input string) (any, error)
	Definitions(ids []string) []llm.ToolSpec
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Status     string
	Output     any
	Error      string
	DurationMs int64

	unknown bool
}

// LoopResult is what a ToolCallLoop run produced.
type LoopResult struct {
	Content     string
	ToolEvents  []Event
	Results     []ToolResult
	Invocations int
	// Exhausted is set when MaxLoops ran out before a terminal answer.
	Exhausted bool
}

// ToolCallLoop drives one bounded tool-calling conversation.
type ToolCallLoop struct {
	Tools    ToolRegistry
	Sources  *SourceAggregator
	MaxLoops int
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Run invokes the model until it answers without tool calls or MaxLoops is
// reached. Every event is passed to emit as it happens; emit returning false
// stops the loop with ErrStopped.
func (l *ToolCallLoop) Run(ctx context.Context, model llm.ChatModel, initial []llm.Message, emit func(Event) bool) (LoopResult, error) {
	maxLoops := l.MaxLoops
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}
	logger := l.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	transcript := llm.CloneMessages(initial)
	var res LoopResult

	for res.Invocations < maxLoops {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Invocations++
		l.Metrics.ModelInvoked("step")
		resp, err := model.Invoke(ctx, transcript)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("model invocation %d: %w", res.Invocations, err)
		}
		logger.LogLLM("step", transcript, resp.Content, resp.ToolCalls)

		if !resp.WantsTools() {
			res.Content = resp.Content
			return res, nil
		}

		calls := normalizeCalls(resp.ToolCalls, logger)
		if len(calls) == 0 {
			logger.Warn().Int("invocation", res.Invocations).Msg("model claimed tool calls but sent none usable")
			return res, nil
		}

		// One assistant message per iteration, before anything executes.
		transcript = append(transcript, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})

		pending := newCallTracker(calls)
		for _, call := range calls {
			callEv := ToolCallEvent{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
			res.ToolEvents = append(res.ToolEvents, callEv)
			logger.LogToolCall(call.ID, call.Name, call.Arguments)
			if !emit(callEv) {
				return res, ErrStopped
			}

			result := l.execute(ctx, call)
			if err := ctx.Err(); err != nil {
				return res, err
			}

			owner, _ := pending.resolve(result.ToolCallID, result.Name)
			transcript = append(transcript, llm.ToolMessage(owner.ID, owner.Name, toolMessageContent(result)))

			resultEv := ToolResultEvent{
				ID:     owner.ID,
				Name:   owner.Name,
				Status: result.Status,
				Output: result.Output,
				Error:  result.Error,
			}
			if !result.unknown {
				resultEv.DurationMs = millis(result.DurationMs)
			}
			res.ToolEvents = append(res.ToolEvents, resultEv)
			res.Results = append(res.Results, result)
			logger.LogToolResult(owner.ID, owner.Name, result.Status, time.Duration(result.DurationMs)*time.Millisecond, result.Error)
			l.Metrics.ToolCalled(owner.Name, result.Status)
			if !emit(resultEv) {
				return res, ErrStopped
			}
		}
	}

	res.Exhausted = true
	l.Metrics.LoopExhausted()
	logger.Warn().Int("max_loops", maxLoops).Msg("tool loop exhausted without a final answer")
	return res, nil
}

func (l *ToolCallLoop) execute(ctx context.Context, call llm.ToolCall) ToolResult {
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}

	if l.Tools == nil || !l.Tools.IsLocal(call.Name) {
		result.Status = StatusError
		result.Error = "Unknown tool: " + call.Name
		result.unknown = true
		return result
	}

	start := time.Now()
	out, err := l.Tools.Execute(ctx, call.Name, call.Arguments)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	result.Status = StatusDone
	result.Output = out
	if l.Sources != nil && l.Tools.IsSearch(call.Name) {
		l.Sources.Add(ExtractSourceItems(out))
	}
	return result
}

// toolMessageContent is the payload the model sees for a tool result.
func toolMessageContent(r ToolResult) string {
	var payload any
	switch {
	case r.Status == StatusDone:
		payload = r.Output
	case r.unknown:
		payload = map[string]string{"error": r.Error}
	default:
		payload = map[string]string{"error": "Tool execution failed: " + r.Error}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": "Tool execution failed: unserializable result"})
	}
	return string(data)
}

// normalizeCalls keeps calls with an id and a name and compacts their
// arguments to a JSON object string.
func normalizeCalls(in []llm.ToolCall, logger *observability.Logger) []llm.ToolCall {
	var out []llm.ToolCall
	for _, c := range in {
		if c.ID == "" || c.Name == "" {
			continue
		}
		out = append(out, llm.ToolCall{
			ID:        c.ID,
			Type:      "function",
			Name:      c.Name,
			Arguments: normalizeArguments(c.Name, c.Arguments, logger),
		})
	}
	return out
}

func normalizeArguments(name, args string, logger *observability.Logger) string {
	if len(bytes.TrimSpace([]byte(args))) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(args)); err != nil {
		logger.Warn().Str("tool", name).Err(err).Msg("tool arguments are not valid JSON, using {}")
		return "{}"
	}
	return buf.String()
}

// callTracker pairs results with the calls of one iteration: by id, else
// by the most recent unresolved call with the same name.
type callTracker struct {
	calls    []llm.ToolCall
	resolved []bool
}

func newCallTracker(calls []llm.ToolCall) *callTracker {
	return &callTracker{calls: calls, resolved: make([]bool, len(calls))}
}

func (t *callTracker) resolve(id, name string) (llm.ToolCall, bool) {
	if id != "" {
		for i, c := range t.calls {
			if c.ID == id && !t.resolved[i] {
				t.resolved[i] = true
				return c, true
			}
		}
	}
	for i := len(t.calls) - 1; i >= 0; i-- {
		if t.calls[i].Name == name && !t.resolved[i] {
			t.resolved[i] = true
			return t.calls[i], true
		}
	}
	return llm.ToolCall{ID: id, Name: name}, false
}
