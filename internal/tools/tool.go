package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rahul/deepresearch/internal/governance"
	"github.com/rahul/deepresearch/internal/llm"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrDenied      = errors.New("denied by policy")
)

// Category groups tools whose results the engine treats specially.
type Category string

const (
	CategoryGeneral Category = "general"
	// CategorySearch marks tools returning web results that count as sources.
	CategorySearch Category = "search"
)

// Tool defines the interface for all research capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (any, error)
}

// Categorized is implemented by tools that belong to a non-general category.
type Categorized interface {
	Category() Category
}

// CategoryOf returns the category a tool declares, or CategoryGeneral.
func CategoryOf(t Tool) Category {
	if c, ok := t.(Categorized); ok {
		return c.Category()
	}
	return CategoryGeneral
}

// Registry manages the set of locally executable tools. Every execution is
// checked against the policy engine first.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	policy governance.PolicyEngine
}

func NewRegistry(policy governance.PolicyEngine) *Registry {
	if policy == nil {
		policy = governance.NewDefaultPolicyEngine()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		policy: policy,
	}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) IsLocal(name string) bool {
	return r.Get(name) != nil
}

func (r *Registry) IsSearch(name string) bool {
	t := r.Get(name)
	return t != nil && CategoryOf(t) == CategorySearch
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns specs for ids in order. Unknown ids are skipped.
func (r *Registry) Definitions(ids []string) []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, id := range ids {
		t := r.Get(id)
		if t == nil {
			continue
		}
		out = append(out, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Execute runs a local tool with JSON arguments.
func (r *Registry) Execute(ctx context.Context, name, input string) (any, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	res, err := r.policy.Evaluate(ctx, governance.Request{
		Tool:      name,
		Arguments: input,
		RunID:     governance.RunIDFrom(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("policy evaluation: %w", err)
	}
	if res.Effect == governance.EffectDeny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, res.Reason)
	}

	return t.Execute(ctx, input)
}
