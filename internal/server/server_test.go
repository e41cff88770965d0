package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/deepresearch/internal/journal"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/research"
)

type stubRunner struct {
	events []research.Event
	err    error
	got    research.Request
}

func (s *stubRunner) Run(_ context.Context, req research.Request) iter.Seq2[research.Event, error] {
	s.got = req
	return func(yield func(research.Event, error) bool) {
		for _, ev := range s.events {
			if !yield(ev, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/deep-research", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func frames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "frame %q", chunk)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &m))
		out = append(out, m)
	}
	return out
}

func TestDeepResearch_StreamsEvents(t *testing.T) {
	runner := &stubRunner{events: []research.Event{
		research.ResearchStepEvent{Step: 1, Total: 1, Title: "Look", Status: research.StatusRunning},
		research.TextEvent{Content: "hello"},
		research.DoneEvent{Content: "hello"},
	}}
	s := New(Options{Runner: runner})

	rec := post(t, s, `{"provider":"openai","apiKey":"k","question":"What?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))

	got := frames(t, rec.Body.String())
	require.Len(t, got, 3)
	assert.Equal(t, "research_step", got[0]["type"])
	assert.Equal(t, "text", got[1]["type"])
	assert.Equal(t, "done", got[2]["type"])
	assert.Equal(t, rec.Header().Get("X-Run-ID"), runner.got.RunID)
}

func TestDeepResearch_ErrorFrame(t *testing.T) {
	runner := &stubRunner{events: []research.Event{research.TextEvent{Content: "par"}}, err: errors.New("stream down")}
	s := New(Options{Runner: runner})

	rec := post(t, s, `{"provider":"openai","messages":[{"role":"user","content":"What?"}]}`)
	got := frames(t, rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"type": "error", "error": "stream down"}, got[1])
}

func TestDeepResearch_Validation(t *testing.T) {
	s := New(Options{Runner: &stubRunner{}})

	assert.Equal(t, http.StatusBadRequest, post(t, s, `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, s, `{"provider":"openai"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, s, `{"question":"q"}`).Code)
}

func TestDeepResearch_PrepareFillsDefaults(t *testing.T) {
	runner := &stubRunner{events: []research.Event{research.DoneEvent{}}}
	s := New(Options{Runner: runner, Prepare: func(r *research.Request) {
		if r.Provider == "" {
			r.Provider = "openrouter"
		}
	}})

	rec := post(t, s, `{"question":"q","runId":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "openrouter", runner.got.Provider)
	assert.Equal(t, "fixed", rec.Header().Get("X-Run-ID"))
}

func TestDeepResearch_Journaled(t *testing.T) {
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	runner := &stubRunner{events: []research.Event{research.TextEvent{Content: "x"}, research.DoneEvent{Content: "x"}}}
	s := New(Options{Runner: runner, Journal: j})
	post(t, s, `{"provider":"openai","question":"q","runId":"r1"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run    journal.Run     `json:"run"`
		Events []journal.Entry `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, journal.StatusCompleted, body.Run.Status)
	assert.Len(t, body.Events, 2)

	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
}

func TestHealthAndMetrics(t *testing.T) {
	m := observability.NewMetrics()
	m.RunFinished("completed")
	s := New(Options{Runner: &stubRunner{}, Metrics: m})

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "phase")

	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `deepresearch_runs_total{outcome="completed"} 1`)
}
