// Package llmtest provides a deterministic ChatModel for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rahul/deepresearch/internal/llm"
)

// Turn configures one Invoke call in a scripted sequence.
type Turn struct {
	Response llm.Response
	Err      error
	// Block makes the call wait for ctx cancellation and return its error.
	Block bool
}

// ScriptedModel replays Turns for Invoke and Chunks for Stream.
type ScriptedModel struct {
	mu        sync.Mutex
	turns     []Turn
	index     int
	Repeat    bool // replay the last turn forever once the script runs out
	Chunks    []string
	StreamErr error

	Calls    [][]llm.Message
	Streamed [][]llm.Message
}

func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: append([]Turn(nil), turns...)}
}

var _ llm.ChatModel = (*ScriptedModel)(nil)

func (m *ScriptedModel) Invoke(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, llm.CloneMessages(messages))
	if m.index >= len(m.turns) {
		if !m.Repeat || len(m.turns) == 0 {
			m.mu.Unlock()
			return llm.Response{}, fmt.Errorf("script exhausted at call %d", m.index+1)
		}
		m.index = len(m.turns) - 1
	}
	turn := m.turns[m.index]
	m.index++
	m.mu.Unlock()

	if turn.Block {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if turn.Err != nil {
		return llm.Response{}, turn.Err
	}
	resp := turn.Response
	resp.ToolCalls = append([]llm.ToolCall(nil), resp.ToolCalls...)
	return resp, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, messages []llm.Message, onChunk func(string) error) error {
	m.mu.Lock()
	m.Streamed = append(m.Streamed, llm.CloneMessages(messages))
	chunks := append([]string(nil), m.Chunks...)
	streamErr := m.StreamErr
	m.mu.Unlock()

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return streamErr
}

// InvokeCount returns how many times Invoke was called.
func (m *ScriptedModel) InvokeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Text returns a terminal turn answering with content.
func Text(content string) Turn {
	return Turn{Response: llm.Response{Content: content, FinishReason: "stop"}}
}

// Calls returns a turn requesting the given tool calls.
func Calls(calls ...llm.ToolCall) Turn {
	return Turn{Response: llm.Response{FinishReason: llm.FinishReasonToolCalls, ToolCalls: calls}}
}

// Call is shorthand for a function tool call.
func Call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Name: name, Arguments: args}
}

// Builder returns an llm.Builder handing out tool-enabled and tool-less
// models. When noTools is nil, withTools is used for both.
func Builder(withTools, noTools *ScriptedModel) llm.BuilderFunc {
	return func(_ context.Context, _ llm.Settings, tools []llm.ToolSpec) (llm.ChatModel, error) {
		if len(tools) == 0 && noTools != nil {
			return noTools, nil
		}
		return withTools, nil
	}
}
