package gateway

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rahul/deepresearch/internal/journal"
	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/research"
)

// MaxMessageLength is Telegram's limit for one text message, in characters.
const MaxMessageLength = 4096

// Messenger defines the interface for communication gateways.
type Messenger interface {
	// Start begins the message listening loop and returns when ctx is done.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Runner starts research runs.
type Runner interface {
	Run(ctx context.Context, req research.Request) iter.Seq2[research.Event, error]
}

const helpText = "Send me a question and I will research it step by step and reply with a cited report.\n" +
	"/academic <question> runs an academic-style study.\n" +
	"/reset forgets this chat's history."

// Session turns chat messages into research runs. It is transport-agnostic;
// replies go through the send callback.
type Session struct {
	Runner Runner
	// Journal keeps chat history and run records. Optional.
	Journal      *journal.Journal
	HistoryLimit int
	Prepare      func(*research.Request)
	Logger       *observability.Logger
}

// Handle answers one incoming message.
func (s *Session) Handle(ctx context.Context, chatID, text string, send func(string) error) error {
	logger := s.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	text = strings.TrimSpace(text)
	researchType := research.TypeGeneral

	switch {
	case text == "" || text == "/start" || text == "/help":
		return send(helpText)
	case text == "/reset":
		if s.Journal != nil {
			if err := s.Journal.ClearHistory(ctx, chatID); err != nil {
				return err
			}
		}
		return send("History cleared.")
	case strings.HasPrefix(text, "/academic"):
		text = strings.TrimSpace(strings.TrimPrefix(text, "/academic"))
		if text == "" {
			return send("Usage: /academic <question>")
		}
		researchType = research.TypeAcademic
	}

	var history []llm.Message
	if s.Journal != nil && s.HistoryLimit > 0 {
		h, err := s.Journal.History(ctx, chatID, s.HistoryLimit)
		if err != nil {
			logger.Warn().Err(err).Str("chat_id", chatID).Msg("load chat history")
		}
		history = h
	}

	req := research.Request{
		RunID:        uuid.NewString(),
		Messages:     append(history, llm.UserMessage(text)),
		Question:     text,
		ResearchType: researchType,
	}
	if s.Prepare != nil {
		s.Prepare(&req)
	}

	seq := s.Runner.Run(ctx, req)
	if s.Journal != nil {
		rec := &journal.Recorder{Journal: s.Journal, Logger: logger}
		seq = rec.Record(ctx, req.RunID, text, researchType, seq)
	}

	var report string
	for ev, err := range seq {
		if err != nil {
			return send("Research failed: " + err.Error())
		}
		switch e := ev.(type) {
		case research.ResearchStepEvent:
			if line := stepLine(e); line != "" {
				if err := send(line); err != nil {
					return err
				}
			}
		case research.DoneEvent:
			report = FormatReport(e)
		}
	}
	if report == "" {
		// Cancelled before the report finished.
		return ctx.Err()
	}

	if s.Journal != nil {
		if err := s.Journal.AddMessage(ctx, chatID, llm.RoleUser, text); err != nil {
			logger.Warn().Err(err).Msg("save user message")
		}
		if err := s.Journal.AddMessage(ctx, chatID, llm.RoleAssistant, report); err != nil {
			logger.Warn().Err(err).Msg("save report")
		}
	}

	for _, part := range SplitMessage(report, MaxMessageLength) {
		if err := send(part); err != nil {
			return err
		}
	}
	return nil
}

func stepLine(e research.ResearchStepEvent) string {
	switch e.Status {
	case research.StatusDone:
		return fmt.Sprintf("✓ Step %d/%d: %s", e.Step, e.Total, e.Title)
	case research.StatusError:
		return fmt.Sprintf("✗ Step %d/%d: %s (%s)", e.Step, e.Total, e.Title, e.Error)
	}
	return ""
}

// FormatReport renders the report followed by its numbered sources.
func FormatReport(done research.DoneEvent) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(done.Content))
	if len(done.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, src := range done.Sources {
			fmt.Fprintf(&b, "[%d] %s %s\n", i+1, src.Title, src.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SplitMessage cuts text into parts of at most limit runes, preferring to
// break after a newline.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
