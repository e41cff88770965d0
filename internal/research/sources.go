package research

import (
	"encoding/json"
	"fmt"
)

const (
	defaultSourceTitle = "Unknown Source"
	snippetLength      = 200
)

// Source is a deduplicated evidence reference.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// SourceItem is one raw result item reported by a search tool.
type SourceItem struct {
	URL     string `json:"url"`
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SourceAggregator keeps sources in first-seen order, keyed by exact URL.
// A URL's citation number never changes once assigned.
type SourceAggregator struct {
	order []Source
	index map[string]int
}

func NewSourceAggregator() *SourceAggregator {
	return &SourceAggregator{index: make(map[string]int)}
}

// Add records items. Items without a url or uri are ignored; repeats keep
// the first-seen entry.
func (a *SourceAggregator) Add(items []SourceItem) {
	for _, it := range items {
		key := it.URL
		if key == "" {
			key = it.URI
		}
		if key == "" {
			continue
		}
		if _, seen := a.index[key]; seen {
			continue
		}
		title := it.Title
		if title == "" {
			title = defaultSourceTitle
		}
		a.index[key] = len(a.order)
		a.order = append(a.order, Source{
			URL:     key,
			Title:   title,
			Snippet: firstRunes(it.Content, snippetLength),
		})
	}
}

// List returns a copy of the sources in citation order.
func (a *SourceAggregator) List() []Source {
	out := make([]Source, len(a.order))
	copy(out, a.order)
	return out
}

func (a *SourceAggregator) Len() int {
	return len(a.order)
}

// Index returns the 1-based citation number for url, or 0.
func (a *SourceAggregator) Index(url string) int {
	i, ok := a.index[url]
	if !ok {
		return 0
	}
	return i + 1
}

// CitationLines renders "[n] Title URL" for each source.
func (a *SourceAggregator) CitationLines() []string {
	lines := make([]string, len(a.order))
	for i, s := range a.order {
		lines[i] = fmt.Sprintf("[%d] %s %s", i+1, s.Title, s.URL)
	}
	return lines
}

// ExtractSourceItems pulls result items out of a search tool's output. The
// output may be any JSON-encodable value with a "results" or "sources" list.
func ExtractSourceItems(output any) []SourceItem {
	var raw []byte
	switch v := output.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		raw = b
	}

	var payload struct {
		Results json.RawMessage `json:"results"`
		Sources json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return append(decodeSourceItems(payload.Results), decodeSourceItems(payload.Sources)...)
}

// decodeSourceItems decodes a JSON array item by item, skipping items that
// do not fit SourceItem.
func decodeSourceItems(raw json.RawMessage) []SourceItem {
	var elems []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	var out []SourceItem
	for _, e := range elems {
		var item SourceItem
		if err := json.Unmarshal(e, &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

func firstRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
