package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// SearchItem is one web result. The field names are what the engine reads
// when collecting sources.
type SearchItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearchResult is the output of the search tools.
type SearchResult struct {
	Query   string       `json:"query"`
	Results []SearchItem `json:"results"`
}

// SearchQuery is passed to a Backend.
type SearchQuery struct {
	Query      string
	MaxResults int
	// Domains restricts results to these hosts when non-empty.
	Domains []string
}

// Backend performs web searches.
type Backend interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchItem, error)
}

// AcademicDomains are the hosts academic_search is restricted to.
var AcademicDomains = []string{
	"arxiv.org",
	"pubmed.ncbi.nlm.nih.gov",
	"ncbi.nlm.nih.gov",
	"semanticscholar.org",
	"scholar.google.com",
	"nature.com",
	"sciencedirect.com",
	"springer.com",
	"ieeexplore.ieee.org",
	"acm.org",
	"jstor.org",
	"researchgate.net",
}

const defaultMaxResults = 10

type SearchTool struct {
	name        string
	description string
	backend     Backend
	domains     []string
	maxResults  int
}

// NewWebSearchTool returns the general web_search tool.
func NewWebSearchTool(backend Backend, maxResults int) *SearchTool {
	return &SearchTool{
		name:        "web_search",
		description: "Search the web for real-time information. Returns a list of results with url, title and content.",
		backend:     backend,
		maxResults:  maxResults,
	}
}

// NewAcademicSearchTool returns academic_search, restricted to scholarly sites.
func NewAcademicSearchTool(backend Backend, maxResults int) *SearchTool {
	return &SearchTool{
		name:        "academic_search",
		description: "Search scholarly sources (arXiv, PubMed, Semantic Scholar, journals) for papers and peer-reviewed evidence.",
		backend:     backend,
		domains:     AcademicDomains,
		maxResults:  maxResults,
	}
}

func (s *SearchTool) Name() string {
	return s.name
}

func (s *SearchTool) Description() string {
	return s.description
}

func (s *SearchTool) Category() Category {
	return CategorySearch
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, input string) (any, error) {
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid input: %v", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}

	max := s.maxResults
	if args.MaxResults > 0 && (max <= 0 || args.MaxResults < max) {
		max = args.MaxResults
	}
	if max <= 0 {
		max = defaultMaxResults
	}

	items, err := s.backend.Search(ctx, SearchQuery{Query: args.Query, MaxResults: max, Domains: s.domains})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(items) > max {
		items = items[:max]
	}
	if items == nil {
		items = []SearchItem{}
	}
	return SearchResult{Query: args.Query, Results: items}, nil
}

// DuckDuckGoBackend searches through the langchaingo DuckDuckGo tool.
type DuckDuckGoBackend struct {
	client *duckduckgo.Tool
}

func NewDuckDuckGoBackend(maxResults int) (*DuckDuckGoBackend, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &DuckDuckGoBackend{client: ddg}, nil
}

func (d *DuckDuckGoBackend) Search(ctx context.Context, q SearchQuery) ([]SearchItem, error) {
	query := q.Query
	if len(q.Domains) > 0 {
		sites := make([]string, len(q.Domains))
		for i, dom := range q.Domains {
			sites[i] = "site:" + dom
		}
		query = fmt.Sprintf("%s (%s)", query, strings.Join(sites, " OR "))
	}
	res, err := d.client.Call(ctx, query)
	if err != nil {
		return nil, err
	}
	return ParseDuckDuckGo(res), nil
}

// ParseDuckDuckGo turns the tool's "Title:/Description:/URL:" text blocks
// into items. Blocks without a URL are dropped.
func ParseDuckDuckGo(text string) []SearchItem {
	var items []SearchItem
	var cur SearchItem
	flush := func() {
		if cur.URL != "" {
			items = append(items, cur)
		}
		cur = SearchItem{}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if cur.URL != "" {
				flush()
			}
		case strings.HasPrefix(line, "Title:"):
			if cur.URL != "" || cur.Title != "" {
				flush()
			}
			cur.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Description:"):
			cur.Content = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
		}
	}
	flush()
	return items
}

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyBackend calls the Tavily search API.
type TavilyBackend struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewTavilyBackend(apiKey string) *TavilyBackend {
	return &TavilyBackend{
		APIKey:   apiKey,
		Endpoint: tavilyEndpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TavilyBackend) Search(ctx context.Context, q SearchQuery) ([]SearchItem, error) {
	payload := map[string]any{
		"api_key":     t.APIKey,
		"query":       q.Query,
		"max_results": q.MaxResults,
	}
	if len(q.Domains) > 0 {
		payload["include_domains"] = q.Domains
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Results []struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}
	items := make([]SearchItem, 0, len(out.Results))
	for _, r := range out.Results {
		items = append(items, SearchItem{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	return items, nil
}

// NewBackend selects a backend by name ("duckduckgo" or "tavily").
func NewBackend(name, tavilyKey string, maxResults int) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "duckduckgo", "ddg":
		return NewDuckDuckGoBackend(maxResults)
	case "tavily":
		if tavilyKey == "" {
			return nil, errors.New("tavily backend requires an api key")
		}
		return NewTavilyBackend(tavilyKey), nil
	}
	return nil, fmt.Errorf("unknown search backend %q", name)
}
