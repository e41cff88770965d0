package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/rahul/deepresearch/internal/governance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name string
	err  error
}

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return "echo " + e.name }
func (e *echoTool) Parameters() map[string]any { return nil }
func (e *echoTool) Execute(_ context.Context, input string) (any, error) {
	if e.err != nil {
		return nil, e.err
	}
	return map[string]string{"input": input}, nil
}

type fakeBackend struct {
	items []SearchItem
	last  SearchQuery
}

func (f *fakeBackend) Search(_ context.Context, q SearchQuery) ([]SearchItem, error) {
	f.last = q
	return f.items, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "echo"})
	r.Register(NewWebSearchTool(&fakeBackend{}, 5))

	assert.True(t, r.IsLocal("echo"))
	assert.False(t, r.IsLocal("missing"))
	assert.True(t, r.IsSearch("web_search"))
	assert.False(t, r.IsSearch("echo"))
	assert.Equal(t, []string{"echo", "web_search"}, r.Names())

	defs := r.Definitions([]string{"web_search", "missing", "echo"})
	require.Len(t, defs, 2)
	assert.Equal(t, "web_search", defs[0].Name)
	assert.Equal(t, "echo", defs[1].Name)

	out, err := r.Execute(context.Background(), "echo", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"input": `{"a":1}`}, out)

	_, err = r.Execute(context.Background(), "missing", `{}`)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_PolicyDenial(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("echo")
	r := NewRegistry(policy)
	r.Register(&echoTool{name: "echo"})

	_, err := r.Execute(context.Background(), "echo", `{}`)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestRegistry_ToolError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "echo", err: boom})

	_, err := r.Execute(context.Background(), "echo", `{}`)
	assert.ErrorIs(t, err, boom)
}

type recordingPolicy struct {
	seen []governance.Request
}

func (p *recordingPolicy) Evaluate(_ context.Context, req governance.Request) (governance.Result, error) {
	p.seen = append(p.seen, req)
	return governance.Result{Effect: governance.EffectAllow}, nil
}

func TestRegistry_PolicySeesRunID(t *testing.T) {
	policy := &recordingPolicy{}
	r := NewRegistry(policy)
	r.Register(&echoTool{name: "echo"})

	_, err := r.Execute(governance.WithRunID(context.Background(), "run-1"), "echo", `{"q":1}`)
	require.NoError(t, err)
	_, err = r.Execute(context.Background(), "echo", `{}`)
	require.NoError(t, err)

	assert.Equal(t, []governance.Request{
		{Tool: "echo", Arguments: `{"q":1}`, RunID: "run-1"},
		{Tool: "echo", Arguments: `{}`},
	}, policy.seen)
}
