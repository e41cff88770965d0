package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Tool: "web_search"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)

	engine.DenyTool("web_fetch")
	res, err = engine.Evaluate(ctx, Request{Tool: "web_fetch"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
	assert.Contains(t, res.Reason, "web_fetch")
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	require.NoError(t, engine.DenyArguments(`(?i)password`))
	require.Error(t, engine.DenyArguments(`(`))

	res, err := engine.Evaluate(context.Background(), Request{
		Tool:      "web_search",
		Arguments: `{"query":"leaked PASSWORD list"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
}

func TestDefaultPolicyEngine_DenyDomain(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	engine.DenyDomain(".example.com")
	ctx := context.Background()

	cases := []struct {
		args string
		want Effect
	}{
		{`{"url":"https://example.com/a"}`, EffectDeny},
		{`{"url":"https://news.EXAMPLE.com/a"}`, EffectDeny},
		{`{"url":"https://notexample.com/a"}`, EffectAllow},
		{`{"query":"example.com"}`, EffectAllow},
		{`not json`, EffectAllow},
	}
	for _, tc := range cases {
		res, err := engine.Evaluate(ctx, Request{Tool: "web_fetch", Arguments: tc.args})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Effect, tc.args)
	}
}

func TestFromRules(t *testing.T) {
	engine, err := FromRules(Rules{
		DenyTools:     []string{"web_fetch"},
		DenyArguments: []string{"secret"},
		DenyDomains:   []string{"internal.corp"},
	})
	require.NoError(t, err)
	assert.True(t, engine.DeniedTools["web_fetch"])
	assert.Len(t, engine.DeniedRegex, 1)
	assert.Equal(t, []string{"internal.corp"}, engine.DeniedDomains)

	_, err = FromRules(Rules{DenyArguments: []string{"[bad"}})
	require.Error(t, err)
}

func TestRunIDContext(t *testing.T) {
	assert.Empty(t, RunIDFrom(context.Background()))
	assert.Equal(t, "r1", RunIDFrom(WithRunID(context.Background(), "r1")))
}
