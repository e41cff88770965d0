package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool      string
	Arguments string
	RunID     string
}

type runIDKey struct{}

// WithRunID tags ctx with the research run its tool calls belong to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id set by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Rules is the declarative form of a policy, as loaded from configuration.
type Rules struct {
	DenyTools     []string `mapstructure:"deny_tools" json:"deny_tools"`
	DenyArguments []string `mapstructure:"deny_arguments" json:"deny_arguments"`
	DenyDomains   []string `mapstructure:"deny_domains" json:"deny_domains"`
}

// DefaultPolicyEngine denies by tool name, argument pattern and the host of
// any "url" argument. Everything else is allowed.
type DefaultPolicyEngine struct {
	DeniedTools   map[string]bool
	DeniedRegex   []*regexp.Regexp
	DeniedDomains []string
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// FromRules builds an engine from configuration. Invalid patterns are errors.
func FromRules(r Rules) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, name := range r.DenyTools {
		e.DenyTool(name)
	}
	for _, p := range r.DenyArguments {
		if err := e.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("deny_arguments %q: %w", p, err)
		}
	}
	for _, d := range r.DenyDomains {
		e.DenyDomain(d)
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

// DenyDomain blocks a host and all of its subdomains.
func (e *DefaultPolicyEngine) DenyDomain(domain string) {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if domain != "" {
		e.DeniedDomains = append(e.DeniedDomains, domain)
	}
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if host := argumentHost(req.Arguments); host != "" {
		for _, d := range e.DeniedDomains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("Domain '%s' is restricted by system policy", host),
				}, nil
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

func argumentHost(arguments string) string {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args.URL == "" {
		return ""
	}
	u, err := url.Parse(args.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
