package tools

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalMath(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"(2+3)*4/5", 4},
		{"2^10", 1024},
		{"2**3**2", 512},
		{"-2^2", -4},
		{"2^-1", 0.5},
		{"7 // 2", 3},
		{"-7 % 3", 2},
		{"1.5e2 + .5", 150.5},
		{"--3", 3},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := EvalMath(tc.expr)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}

	for _, bad := range []string{"", "  ", "2+", "(1+2", "1/0", "5 % 0", "abs(1)", "1 2", "import os"} {
		_, err := EvalMath(bad)
		assert.ErrorIs(t, err, ErrInvalidExpression, bad)
	}
}

func TestUtilityTools(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	r := NewRegistry(nil)
	for _, tool := range UtilityTools() {
		r.Register(tool)
	}
	r.Register(LocalTimeTool{Now: func() time.Time { return fixed }})
	assert.Equal(t, []string{"calculator", "extract_text", "json_repair", "local_time", "summarize_text"}, r.Names())
	assert.Len(t, r.Definitions([]string{"calculator", "local_time", "summarize_text", "extract_text", "json_repair"}), 5)

	text := "Go is fast. Rust is safe! Go has goroutines? Zig is small。"

	cases := []struct {
		name  string
		tool  string
		input string
		want  any
	}{
		{"calculator", "calculator", `{"expression":"(2+3)*4"}`, map[string]float64{"result": 20}},
		{"local time in zone", "local_time", `{"timezone":"Asia/Tokyo"}`, map[string]string{
			"timezone":  "Asia/Tokyo",
			"locale":    "en-US",
			"formatted": "2026-03-01 21:30:00",
			"iso":       "2026-03-01T21:30:00+09:00",
		}},
		{"summary defaults", "summarize_text", `{"text":"` + text + `"}`, map[string]string{
			"summary": "Go is fast Rust is safe Go has goroutines",
		}},
		{"summary char cap", "summarize_text", `{"text":"` + text + `","max_sentences":1,"max_chars":5}`, map[string]string{
			"summary": "Go is",
		}},
		{"extract by keyword", "extract_text", `{"text":"` + text + `","query":"GO"}`, map[string][]string{
			"extracted": {"Go is fast", "Go has goroutines"},
		}},
		{"extract no match", "extract_text", `{"text":"` + text + `","query":"python"}`, map[string][]string{
			"extracted": {},
		}},
		{"json valid", "json_repair", `{"text":"{\"a\":1}"}`, JSONRepairResult{
			Valid: true, Repaired: `{"a":1}`, Data: map[string]any{"a": float64(1)},
		}},
		{"json trailing commas", "json_repair", `{"text":"{\"a\":[1,2,],}"}`, JSONRepairResult{
			Repaired: `{"a":[1,2]}`, Data: map[string]any{"a": []any{float64(1), float64(2)}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Execute(ctx, tc.tool, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("json beyond repair", func(t *testing.T) {
		got, err := r.Execute(ctx, "json_repair", `{"text":"{a:"}`)
		require.NoError(t, err)
		res := got.(JSONRepairResult)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, "Unable to repair JSON")
	})

	t.Run("unknown zone falls back to host", func(t *testing.T) {
		got, err := r.Execute(ctx, "local_time", `{"timezone":"Mars/Olympus"}`)
		require.NoError(t, err)
		assert.Equal(t, fixed.Local().Format(time.DateTime), got.(map[string]string)["formatted"])
	})

	_, err := r.Execute(ctx, "calculator", `{"expression":"1/0"}`)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}
