package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	maxFetchContent  = 50000
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// FetchResult is the output of web_fetch.
type FetchResult struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Excerpt   string `json:"excerpt,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Renderer returns the HTML of a page after scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// FetchTool downloads a page and extracts its readable text.
type FetchTool struct {
	UserAgent string
	Client    *http.Client
	// Renderer serves render:true requests. Nil disables rendering.
	Renderer Renderer
}

func NewFetchTool(renderer Renderer) *FetchTool {
	return &FetchTool{
		UserAgent: defaultUserAgent,
		Client:    &http.Client{Timeout: 30 * time.Second},
		Renderer:  renderer,
	}
}

func (f *FetchTool) Name() string {
	return "web_fetch"
}

func (f *FetchTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text. Set render to true for pages that need JavaScript."
}

func (f *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage to read (e.g., https://example.com/article)",
			},
			"render": map[string]any{
				"type":        "boolean",
				"description": "Render the page in a headless browser before extracting text",
			},
		},
		"required": []string{"url"},
	}
}

func (f *FetchTool) Execute(ctx context.Context, input string) (any, error) {
	var args struct {
		URL    string `json:"url"`
		Render bool   `json:"render"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid input: %v", err)
	}

	parsedURL, err := url.Parse(args.URL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid url %q", args.URL)
	}

	var page io.Reader
	if args.Render {
		if f.Renderer == nil {
			return nil, errors.New("rendering is not enabled")
		}
		html, err := f.Renderer.Render(ctx, args.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to render page: %w", err)
		}
		page = strings.NewReader(html)
	} else {
		body, err := f.download(ctx, args.URL)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		page = body
	}

	article, err := readability.FromReader(page, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %v", err)
	}

	p := bluemonday.StrictPolicy()
	content := strings.TrimSpace(p.Sanitize(article.TextContent))

	out := FetchResult{
		URL:     args.URL,
		Title:   article.Title,
		Excerpt: p.Sanitize(article.Excerpt),
	}
	out.Content, out.Truncated = truncateRunes(content, maxFetchContent)
	return out, nil
}

func (f *FetchTool) download(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
