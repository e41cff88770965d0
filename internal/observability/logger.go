package observability

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan       EventType = "plan"
	EventTypeStep       EventType = "step"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypeLLM        EventType = "llm"
	EventTypeHeartbeat  EventType = "heartbeat"
)

// Options configures a Logger.
type Options struct {
	Level string // debug, info, warn, error
	// LogDir holds llm.jsonl. Empty disables the LLM transcript file.
	LogDir string
	Output io.Writer
	// Console renders human-readable lines instead of JSON.
	Console bool
}

// Logger emits typed research events through zerolog and keeps a rotated
// transcript of model exchanges.
type Logger struct {
	zlog       zerolog.Logger
	llmLogPath string
	maxSize    int64
	fileMu     *sync.Mutex
}

func NewLogger(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{
		zlog:    zerolog.New(out).Level(level).With().Timestamp().Logger(),
		maxSize: 10 * 1024 * 1024, // 10MB
		fileMu:  &sync.Mutex{},
	}
	if opts.LogDir != "" {
		l.llmLogPath = filepath.Join(opts.LogDir, "llm.jsonl")
	}
	return l
}

// Nop returns a Logger that drops everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), fileMu: &sync.Mutex{}}
}

// With returns a child logger carrying the run id on every line.
func (l *Logger) With(runID string) *Logger {
	return &Logger{
		zlog:       l.zlog.With().Str("run_id", runID).Logger(),
		llmLogPath: l.llmLogPath,
		maxSize:    l.maxSize,
		fileMu:     l.fileMu,
	}
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

func (l *Logger) event(t EventType, e *zerolog.Event) *zerolog.Event {
	return e.Str("type", string(t))
}

func (l *Logger) LogPlan(goal, questionType string, steps int) {
	l.event(EventTypePlan, l.zlog.Info()).
		Str("goal", goal).
		Str("question_type", questionType).
		Int("steps", steps).
		Msg("plan ready")
}

func (l *Logger) LogStep(step, total int, title, status string, d time.Duration, errMsg string) {
	e := l.zlog.Info()
	if status == "error" {
		e = l.zlog.Warn()
	}
	e = l.event(EventTypeStep, e).
		Int("step", step).
		Int("total", total).
		Str("title", title).
		Str("status", status)
	if d > 0 {
		e = e.Dur("duration", d)
	}
	if errMsg != "" {
		e = e.Str("error", errMsg)
	}
	e.Msg("research step")
}

func (l *Logger) LogToolCall(id, tool, args string) {
	l.event(EventTypeToolCall, l.zlog.Info()).
		Str("id", id).
		Str("tool", tool).
		Str("args", args).
		Msg("tool call")
}

func (l *Logger) LogToolResult(id, tool, status string, d time.Duration, errMsg string) {
	e := l.event(EventTypeToolResult, l.zlog.Info()).
		Str("id", id).
		Str("tool", tool).
		Str("status", status).
		Dur("duration", d)
	if errMsg != "" {
		e = e.Str("error", errMsg)
	}
	e.Msg("tool result")
}

func (l *Logger) LogHeartbeat() {
	l.event(EventTypeHeartbeat, l.zlog.Debug()).Str("status", "alive").Msg("heartbeat")
}

// LogLLM records a model exchange. The full prompt only goes to llm.jsonl.
func (l *Logger) LogLLM(stage string, prompt any, response string, toolCalls any) {
	l.event(EventTypeLLM, l.zlog.Debug()).
		Str("stage", stage).
		Int("response_len", len(response)).
		Msg("llm exchange")

	if l.llmLogPath == "" {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":       EventTypeLLM,
		"stage":      stage,
		"prompt":     prompt,
		"response":   response,
		"tool_calls": toolCalls,
		"timestamp":  time.Now(),
	})
	if err != nil {
		l.zlog.Error().Err(err).Msg("failed to marshal llm event")
		return
	}
	l.writeToFile(data)
}

func (l *Logger) writeToFile(data []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.zlog.Error().Err(err).Msg("failed to create log directory")
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.zlog.Error().Err(err).Msg("failed to open log file")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.zlog.Error().Err(err).Msg("failed to write to log file")
	}
}

// rotateLogs keeps one .old file.
func (l *Logger) rotateLogs() {
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}
