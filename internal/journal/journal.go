// Package journal persists research runs, their event streams and gateway
// chat history in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/research"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("journal: run not found")

type Journal struct {
	DB *sql.DB
}

// Run is one journaled research run.
type Run struct {
	ID           string     `json:"id"`
	Question     string     `json:"question"`
	ResearchType string     `json:"research_type"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Events       int        `json:"events"`
}

// Entry is one stored element of a run's event stream.
type Entry struct {
	Seq     int             `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Event decodes the entry. Error entries have no Event form.
func (e Entry) Event() (research.Event, error) {
	return research.DecodeEvent(e.Payload)
}

// Open opens (creating if needed) the journal at dbPath. ":memory:" gives a
// private in-memory journal.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			question TEXT,
			research_type TEXT,
			status TEXT,
			started_at INTEGER,
			finished_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT,
			seq INTEGER,
			type TEXT,
			payload TEXT,
			at INTEGER,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			at INTEGER
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	return &Journal{DB: db}, nil
}

func (j *Journal) Close() error {
	return j.DB.Close()
}

func (j *Journal) StartRun(ctx context.Context, runID, question, researchType string) error {
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO runs (id, question, research_type, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, question, researchType, StatusRunning, time.Now().UnixMilli())
	return err
}

// Append stores one event at position seq of the run's stream.
func (j *Journal) Append(ctx context.Context, runID string, seq int, ev research.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return j.insertEvent(ctx, runID, seq, ev.Type(), payload)
}

// AppendError stores a terminal error element.
func (j *Journal) AppendError(ctx context.Context, runID string, seq int, runErr error) error {
	payload, err := json.Marshal(map[string]string{"type": "error", "error": runErr.Error()})
	if err != nil {
		return err
	}
	return j.insertEvent(ctx, runID, seq, "error", payload)
}

func (j *Journal) insertEvent(ctx context.Context, runID string, seq int, typ string, payload []byte) error {
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, type, payload, at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, typ, string(payload), time.Now().UnixMilli())
	return err
}

func (j *Journal) FinishRun(ctx context.Context, runID, status string) error {
	_, err := j.DB.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), runID)
	return err
}

const runColumns = `r.id, r.question, r.research_type, r.status, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)`

// ListRuns returns the most recent runs first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (j *Journal) GetRun(ctx context.Context, runID string) (Run, error) {
	row := j.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Question, &r.ResearchType, &r.Status, &started, &finished, &r.Events); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}

// Events returns the run's stream in order.
func (j *Journal) Events(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.DB.QueryContext(ctx,
		`SELECT seq, type, payload, at FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			at      int64
		)
		if err := rows.Scan(&e.Seq, &e.Type, &payload, &at); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.At = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) AddMessage(ctx context.Context, chatID string, role llm.Role, content string) error {
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, at) VALUES (?, ?, ?, ?)`,
		chatID, string(role), content, time.Now().UnixMilli())
	return err
}

// History returns the last limit messages of a chat in chronological order.
func (j *Journal) History(ctx context.Context, chatID string, limit int) ([]llm.Message, error) {
	rows, err := j.DB.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		r := llm.Role(role)
		switch r {
		case llm.RoleAssistant, llm.RoleSystem:
		default:
			r = llm.RoleUser
		}
		history = append(history, llm.Message{Role: r, Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, k := 0, len(history)-1; i < k; i, k = i+1, k-1 {
		history[i], history[k] = history[k], history[i]
	}
	return history, nil
}

func (j *Journal) ClearHistory(ctx context.Context, chatID string) error {
	_, err := j.DB.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}
