package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rahul/deepresearch/internal/governance"
	"github.com/rahul/deepresearch/internal/journal"
	"github.com/rahul/deepresearch/internal/llm"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/prompts"
	"github.com/rahul/deepresearch/internal/research"
	"github.com/rahul/deepresearch/internal/tools"
	"github.com/rahul/deepresearch/pkg/config"
)

// app is the wired-up process: config, logging, tools, engine and journal.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *tools.Registry
	prompts  *prompts.Manager
	orch     *research.Orchestrator
	journal  *journal.Journal
	browser  *tools.ChromeRenderer
}

type appOptions struct {
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	Console   bool
	// NoJournal skips opening the journal database.
	NoJournal bool
}

func newApp(cfgPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := observability.NewLogger(observability.Options{
		Level:   cfg.App.LogLevel,
		LogDir:  cfg.App.LogDir,
		Output:  out,
		Console: opts.Console,
	})

	policy, err := governance.FromRules(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	registry := tools.NewRegistry(policy)

	backend, err := tools.NewBackend(cfg.Search.Backend, cfg.Search.TavilyAPIKey, cfg.Search.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search backend: %w", err)
	}
	registry.Register(tools.NewWebSearchTool(backend, cfg.Search.MaxResults))
	registry.Register(tools.NewAcademicSearchTool(backend, cfg.Search.MaxResults))

	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics(), registry: registry}

	var renderer tools.Renderer
	if cfg.Research.Render {
		a.browser = tools.NewChromeRenderer()
		renderer = a.browser
	}
	registry.Register(tools.NewFetchTool(renderer))
	for _, t := range tools.UtilityTools() {
		registry.Register(t)
	}

	a.prompts = prompts.NewManager(cfg.App.PromptsDir)
	if err := a.prompts.Load(); err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}
	if o := a.prompts.Overridden(); len(o) > 0 {
		logger.Info().Strs("templates", o).Msg("prompt overrides loaded")
	}

	if !opts.NoJournal && cfg.Memory.Path != "" {
		a.journal, err = journal.Open(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	a.orch = research.NewOrchestrator(llm.ProviderBuilder{}, registry, a.prompts, logger)
	if cfg.Research.MaxLoops > 0 {
		a.orch.MaxLoops = cfg.Research.MaxLoops
	}
	a.orch.ContextMessageLimit = cfg.Research.ContextMessageLimit
	a.orch.Metrics = a.metrics

	logger.Debug().Strs("tools", registry.Names()).Str("search", cfg.Search.Backend).Msg("engine ready")
	return a, nil
}

// prepare fills request fields the caller left empty from configuration.
func (a *app) prepare(req *research.Request) {
	if strings.TrimSpace(req.Provider) == "" {
		name, p := a.cfg.GetDefaultProvider()
		req.Provider = name
		if req.APIKey == "" {
			req.APIKey = p.APIKey
		}
		if req.Model == "" {
			req.Model = p.Model
		}
		if req.BaseURL == "" {
			req.BaseURL = p.BaseURL
		}
	} else if p, ok := a.cfg.Providers[req.Provider]; ok {
		if req.APIKey == "" {
			req.APIKey = p.APIKey
		}
		if req.Model == "" {
			req.Model = p.Model
		}
		if req.BaseURL == "" {
			req.BaseURL = p.BaseURL
		}
	}
	if req.Temperature == nil {
		req.Temperature = a.cfg.Research.Temperature
	}
	if len(req.ToolIDs) == 0 {
		req.ToolIDs = append([]string(nil), a.cfg.Research.ToolIDs...)
	}
	if req.ResearchType == "" {
		req.ResearchType = a.cfg.Research.ResearchType
	}
	if req.ContextMessageLimit <= 0 {
		req.ContextMessageLimit = a.cfg.Research.ContextMessageLimit
	}
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close journal")
		}
	}
}
