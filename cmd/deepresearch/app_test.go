package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/deepresearch/internal/research"
	"github.com/rahul/deepresearch/pkg/config"
)

func TestPrepare(t *testing.T) {
	temp := 0.3
	a := &app{cfg: &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openrouter": {APIKey: "or", Model: "m1", Enabled: true},
			"anthropic":  {APIKey: "an", Model: "claude"},
		},
		Research: config.ResearchConfig{
			ResearchType:        "academic",
			ContextMessageLimit: 12,
			Temperature:         &temp,
			ToolIDs:             []string{"web_search", "web_fetch"},
		},
	}}

	req := research.Request{Question: "q"}
	a.prepare(&req)
	assert.Equal(t, "openrouter", req.Provider)
	assert.Equal(t, "or", req.APIKey)
	assert.Equal(t, "m1", req.Model)
	assert.Equal(t, "academic", req.ResearchType)
	assert.Equal(t, 12, req.ContextMessageLimit)
	assert.Equal(t, []string{"web_search", "web_fetch"}, req.ToolIDs)
	require.NotNil(t, req.Temperature)

	req = research.Request{Provider: "anthropic", Model: "override", ResearchType: "general", ToolIDs: []string{"web_search"}}
	a.prepare(&req)
	assert.Equal(t, "an", req.APIKey)
	assert.Equal(t, "override", req.Model)
	assert.Equal(t, "general", req.ResearchType)
	assert.Equal(t, []string{"web_search"}, req.ToolIDs)
}

func TestRenderers(t *testing.T) {
	events := []research.Event{
		research.ResearchStepEvent{Step: 1, Total: 1, Title: "Look", Status: research.StatusRunning},
		research.ToolCallEvent{ID: "c1", Name: "web_search", Arguments: `{"query":"x"}`, Step: 1, Total: 1},
		research.TextEvent{Content: "Report"},
		research.DoneEvent{Content: "Report", Sources: []research.Source{{URL: "https://a.com", Title: "A"}}},
	}

	var text bytes.Buffer
	tr := &textRenderer{out: &text}
	for _, ev := range events {
		tr.Event(ev)
	}
	out := text.String()
	assert.Contains(t, out, "Step 1/1  Look")
	assert.Contains(t, out, `web_search {"query":"x"}`)
	assert.Contains(t, out, "Report")
	assert.Contains(t, out, "[1] A https://a.com")

	var lines bytes.Buffer
	jr := &jsonRenderer{enc: json.NewEncoder(&lines)}
	for _, ev := range events {
		jr.Event(ev)
	}
	jr.Fail(errors.New("boom"))
	rows := strings.Split(strings.TrimSpace(lines.String()), "\n")
	require.Len(t, rows, 5)
	assert.Contains(t, rows[0], `"type":"research_step"`)
	assert.JSONEq(t, `{"type":"error","error":"boom"}`, rows[4])
}

func TestNewApp_RegistersTools(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
app:
  log_dir: ""
  prompts_dir: `+filepath.Join(dir, "prompts")+`
search:
  backend: duckduckgo
`), 0o644))

	a, err := newApp(cfgPath, appOptions{LogOutput: io.Discard, NoJournal: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{
		"academic_search", "calculator", "extract_text", "json_repair",
		"local_time", "summarize_text", "web_fetch", "web_search",
	}, a.registry.Names())
	assert.True(t, a.registry.IsSearch("academic_search"))
	assert.False(t, a.registry.IsSearch("calculator"))
}
