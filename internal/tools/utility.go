package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// UtilityTools returns the offline helpers: calculator, local_time,
// summarize_text, extract_text and json_repair.
func UtilityTools() []Tool {
	return []Tool{
		CalculatorTool{},
		LocalTimeTool{Now: time.Now},
		SummarizeTextTool{},
		ExtractTextTool{},
		JSONRepairTool{},
	}
}

func decodeArgs(input string, v any) error {
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid input: %v", err)
	}
	return nil
}

func stringParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// CalculatorTool evaluates arithmetic: + - * / // % ^ ** and parentheses.
type CalculatorTool struct{}

func (CalculatorTool) Name() string        { return "calculator" }
func (CalculatorTool) Description() string { return "Evaluate a math expression safely." }

func (CalculatorTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": stringParam(`Math expression, e.g. "(2+3)*4/5".`),
		},
		"required": []string{"expression"},
	}
}

func (CalculatorTool) Execute(_ context.Context, input string) (any, error) {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return nil, err
	}
	v, err := EvalMath(args.Expression)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"result": v}, nil
}

var ErrInvalidExpression = errors.New("invalid expression")

// EvalMath evaluates an arithmetic expression over float64. "^" is power.
func EvalMath(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, fmt.Errorf("%w: expression is required", ErrInvalidExpression)
	}
	p := &mathParser{src: expr}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidExpression, p.src[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: result is not finite", ErrInvalidExpression)
	}
	return v, nil
}

type mathParser struct {
	src string
	pos int
}

func (p *mathParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// accept consumes tok if it is next.
func (p *mathParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *mathParser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.accept("+"):
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left += right
		case p.accept("-"):
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *mathParser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		var op string
		switch {
		case p.accept("//"):
			op = "//"
		case p.peekMul():
			op = "*"
		case p.accept("/"):
			op = "/"
		case p.accept("%"):
			op = "%"
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		if op != "*" && right == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrInvalidExpression)
		}
		switch op {
		case "*":
			left *= right
		case "/":
			left /= right
		case "//":
			left = math.Floor(left / right)
		case "%":
			// Sign follows the divisor.
			left = left - right*math.Floor(left/right)
		}
	}
}

// peekMul consumes a single "*" but leaves "**" for power.
func (p *mathParser) peekMul() bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], "**") || !strings.HasPrefix(p.src[p.pos:], "*") {
		return false
	}
	p.pos++
	return true
}

func (p *mathParser) unary() (float64, error) {
	switch {
	case p.accept("+"):
		return p.unary()
	case p.accept("-"):
		v, err := p.unary()
		return -v, err
	}
	return p.power()
}

// power is right associative and binds tighter than unary minus on its left.
func (p *mathParser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.accept("**") || p.accept("^") {
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *mathParser) primary() (float64, error) {
	if p.accept("(") {
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if !p.accept(")") {
			return 0, fmt.Errorf("%w: missing )", ErrInvalidExpression)
		}
		return v, nil
	}
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') && p.pos > start {
		p.pos++
		if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
			p.pos++
		}
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
	}
	if start == p.pos {
		if p.pos >= len(p.src) {
			return 0, fmt.Errorf("%w: unexpected end", ErrInvalidExpression)
		}
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidExpression, p.src[p.pos], p.pos)
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrInvalidExpression, p.src[start:p.pos])
	}
	return v, nil
}

// LocalTimeTool reports the current time in an IANA zone. Unknown zones
// fall back to the host zone.
type LocalTimeTool struct {
	Now func() time.Time
}

func (LocalTimeTool) Name() string        { return "local_time" }
func (LocalTimeTool) Description() string { return "Get current local date and time for a timezone." }

func (LocalTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": stringParam(`IANA timezone, e.g. "Asia/Shanghai".`),
			"locale":   stringParam(`Locale for formatting, e.g. "zh-CN".`),
		},
	}
}

func (t LocalTimeTool) Execute(_ context.Context, input string) (any, error) {
	var args struct {
		Timezone string `json:"timezone"`
		Locale   string `json:"locale"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return nil, err
	}
	if args.Timezone == "" {
		args.Timezone = "UTC"
	}
	if args.Locale == "" {
		args.Locale = "en-US"
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	at := now()
	if loc, err := time.LoadLocation(args.Timezone); err == nil {
		at = at.In(loc)
	} else {
		at = at.Local()
	}
	return map[string]string{
		"timezone":  args.Timezone,
		"locale":    args.Locale,
		"formatted": at.Format(time.DateTime),
		"iso":       at.Format(time.RFC3339Nano),
	}, nil
}

var sentenceBreak = regexp.MustCompile(`[.!?\x{3002}\x{FF01}\x{FF1F}]+`)

// SplitSentences splits on terminal punctuation and drops empty pieces.
func SplitSentences(text string) []string {
	var out []string
	for _, s := range sentenceBreak.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SummarizeTextTool keeps the leading sentences of a text.
type SummarizeTextTool struct{}

func (SummarizeTextTool) Name() string { return "summarize_text" }
func (SummarizeTextTool) Description() string {
	return "Summarize text by extracting leading sentences."
}

func (SummarizeTextTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":          stringParam("Text to summarize."),
			"max_sentences": map[string]any{"type": "integer", "description": "Maximum number of sentences to return."},
			"max_chars":     map[string]any{"type": "integer", "description": "Maximum length of the summary."},
		},
		"required": []string{"text"},
	}
}

func (SummarizeTextTool) Execute(_ context.Context, input string) (any, error) {
	args := struct {
		Text         string `json:"text"`
		MaxSentences int    `json:"max_sentences"`
		MaxChars     int    `json:"max_chars"`
	}{MaxSentences: 3, MaxChars: 600}
	if err := decodeArgs(input, &args); err != nil {
		return nil, err
	}
	sentences := SplitSentences(args.Text)
	if args.MaxSentences >= 0 && len(sentences) > args.MaxSentences {
		sentences = sentences[:args.MaxSentences]
	}
	summary := strings.Join(sentences, " ")
	if r := []rune(summary); args.MaxChars >= 0 && len(r) > args.MaxChars {
		summary = strings.TrimSpace(string(r[:args.MaxChars]))
	}
	return map[string]string{"summary": summary}, nil
}

// ExtractTextTool returns the sentences containing a keyword, case-insensitively.
type ExtractTextTool struct{}

func (ExtractTextTool) Name() string        { return "extract_text" }
func (ExtractTextTool) Description() string { return "Extract relevant sentences by query keyword." }

func (ExtractTextTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":          stringParam("Text to extract from."),
			"query":         stringParam("Keyword or phrase to match."),
			"max_sentences": map[string]any{"type": "integer", "description": "Maximum number of sentences to return."},
		},
		"required": []string{"text"},
	}
}

func (ExtractTextTool) Execute(_ context.Context, input string) (any, error) {
	args := struct {
		Text         string `json:"text"`
		Query        string `json:"query"`
		MaxSentences int    `json:"max_sentences"`
	}{MaxSentences: 5}
	if err := decodeArgs(input, &args); err != nil {
		return nil, err
	}
	query := strings.ToLower(args.Query)
	matches := []string{}
	for _, s := range SplitSentences(args.Text) {
		if query == "" || strings.Contains(strings.ToLower(s), query) {
			matches = append(matches, s)
		}
	}
	if args.MaxSentences >= 0 && len(matches) > args.MaxSentences {
		matches = matches[:args.MaxSentences]
	}
	return map[string][]string{"extracted": matches}, nil
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// JSONRepairResult is the output of json_repair.
type JSONRepairResult struct {
	Valid    bool   `json:"valid"`
	Repaired string `json:"repaired,omitempty"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JSONRepairTool validates JSON and strips trailing commas when it does not parse.
type JSONRepairTool struct{}

func (JSONRepairTool) Name() string        { return "json_repair" }
func (JSONRepairTool) Description() string { return "Validate and repair JSON text." }

func (JSONRepairTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": stringParam("JSON string to validate or repair."),
		},
		"required": []string{"text"},
	}
}

func (JSONRepairTool) Execute(_ context.Context, input string) (any, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := decodeArgs(input, &args); err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal([]byte(args.Text), &data); err == nil {
		return JSONRepairResult{Valid: true, Repaired: args.Text, Data: data}, nil
	}
	repaired := trailingComma.ReplaceAllString(strings.TrimSpace(args.Text), "$1")
	if err := json.Unmarshal([]byte(repaired), &data); err != nil {
		return JSONRepairResult{Error: "Unable to repair JSON: " + err.Error()}, nil
	}
	return JSONRepairResult{Repaired: repaired, Data: data}, nil
}
