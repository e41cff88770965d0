package research

import (
	"context"
	"fmt"

	"github.com/rahul/deepresearch/internal/llm"
)

type toolFunc func(ctx context.Context, input string) (any, error)

// fakeTools is an in-memory ToolRegistry.
type fakeTools struct {
	fns    map[string]toolFunc
	search map[string]bool
	calls  []string
}

func newFakeTools() *fakeTools {
	return &fakeTools{fns: map[string]toolFunc{}, search: map[string]bool{}}
}

func (f *fakeTools) add(name string, search bool, fn toolFunc) *fakeTools {
	f.fns[name] = fn
	f.search[name] = search
	return f
}

func (f *fakeTools) IsLocal(name string) bool  { _, ok := f.fns[name]; return ok }
func (f *fakeTools) IsSearch(name string) bool { return f.search[name] }

func (f *fakeTools) Execute(ctx context.Context, name, input string) (any, error) {
	f.calls = append(f.calls, name+" "+input)
	fn, ok := f.fns[name]
	if !ok {
		return nil, fmt.Errorf("no tool %s", name)
	}
	return fn(ctx, input)
}

func (f *fakeTools) Definitions(ids []string) []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, id := range ids {
		if f.IsLocal(id) {
			out = append(out, llm.ToolSpec{Name: id})
		}
	}
	return out
}

func staticResult(v any) toolFunc {
	return func(context.Context, string) (any, error) { return v, nil }
}

func collect(events *[]Event) func(Event) bool {
	return func(ev Event) bool {
		*events = append(*events, ev)
		return true
	}
}
