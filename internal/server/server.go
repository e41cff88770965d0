// Package server exposes research runs over HTTP as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rahul/deepresearch/internal/journal"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/research"
)

// Runner starts research runs.
type Runner interface {
	Run(ctx context.Context, req research.Request) iter.Seq2[research.Event, error]
}

type Options struct {
	Runner Runner
	// Journal is optional; when set every run is recorded.
	Journal *journal.Journal
	Metrics *observability.Metrics
	Logger  *observability.Logger
	// Prepare fills server-side defaults (provider, key, model) into a request.
	Prepare func(*research.Request)
}

type Server struct {
	Echo *echo.Echo
	opts Options
}

// errorFrame is the SSE payload for a run that ended with an error.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			opts.Logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("http request")
			return nil
		},
	}))

	s := &Server{Echo: e, opts: opts}
	e.POST("/api/deep-research", s.deepResearch)
	e.GET("/healthz", s.health)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	if opts.Journal != nil {
		e.GET("/api/runs", s.listRuns)
		e.GET("/api/runs/:id", s.getRun)
	}
	return s
}

func (s *Server) Start(addr string) error {
	err := s.Echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) deepResearch(c echo.Context) error {
	var req research.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if s.opts.Prepare != nil {
		s.opts.Prepare(&req)
	}
	question := req.ResolvedQuestion()
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question or a user message is required")
	}
	if strings.TrimSpace(req.Provider) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	ctx := c.Request().Context()
	seq := s.opts.Runner.Run(ctx, req)
	if s.opts.Journal != nil {
		rec := &journal.Recorder{Journal: s.opts.Journal, Logger: s.opts.Logger}
		seq = rec.Record(ctx, req.RunID, question, req.ResearchType, seq)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Run-ID", req.RunID)
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	for ev, err := range seq {
		var payload any = ev
		if err != nil {
			payload = errorFrame{Type: "error", Error: err.Error()}
		}
		if werr := writeFrame(resp, payload); werr != nil {
			// Client went away; leaving the loop cancels the run.
			s.opts.Logger.Warn().Err(werr).Str("run_id", req.RunID).Msg("sse write failed")
			break
		}
	}
	return nil
}

// writeFrame writes one "data: <json>\n\n" frame and flushes it.
func writeFrame(resp *echo.Response, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, observability.GetSnapshot())
}

func (s *Server) listRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.opts.Journal.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.opts.Journal.GetRun(ctx, c.Param("id"))
	if errors.Is(err, journal.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	entries, err := s.opts.Journal.Events(ctx, run.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "events": entries})
}
