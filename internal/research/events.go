package research

import (
	"encoding/json"
	"fmt"
)

// Event is one element of a run's output stream. The set of variants is
// closed: ResearchStepEvent, ToolCallEvent, ToolResultEvent, TextEvent and
// DoneEvent.
type Event interface {
	// Type returns the wire "type" tag.
	Type() string
	isEvent()
}

// Status values carried by step and tool result events.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

type ResearchStepEvent struct {
	Step       int    `json:"step"`
	Total      int    `json:"total"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Step      int    `json:"step,omitempty"`
	Total     int    `json:"total,omitempty"`
}

type ToolResultEvent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

type TextEvent struct {
	Content string `json:"content"`
}

type DoneEvent struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

func (ResearchStepEvent) Type() string { return "research_step" }
func (ToolCallEvent) Type() string     { return "tool_call" }
func (ToolResultEvent) Type() string   { return "tool_result" }
func (TextEvent) Type() string         { return "text" }
func (DoneEvent) Type() string         { return "done" }

func (ResearchStepEvent) isEvent() {}
func (ToolCallEvent) isEvent()     {}
func (ToolResultEvent) isEvent()   {}
func (TextEvent) isEvent()         {}
func (DoneEvent) isEvent()         {}

// The alias types drop the MarshalJSON method so the struct encodes normally
// underneath the type tag.

func (e ResearchStepEvent) MarshalJSON() ([]byte, error) {
	type alias ResearchStepEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ToolCallEvent) MarshalJSON() ([]byte, error) {
	type alias ToolCallEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ToolResultEvent) MarshalJSON() ([]byte, error) {
	type alias ToolResultEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e TextEvent) MarshalJSON() ([]byte, error) {
	type alias TextEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e DoneEvent) MarshalJSON() ([]byte, error) {
	type alias DoneEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

// DecodeEvent parses the wire form produced by MarshalJSON.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var (
		ev  Event
		err error
	)
	switch head.Type {
	case "research_step":
		var e ResearchStepEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "tool_call":
		var e ToolCallEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "tool_result":
		var e ToolResultEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "text":
		var e TextEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "done":
		var e DoneEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, &UnknownEventError{Type: head.Type}
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// UnknownEventError reports a type tag outside the event set.
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

func millis(ms int64) *int64 {
	return &ms
}
