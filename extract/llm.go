package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
)

// ErrUnknownProvider is returned when no base URL is known for a provider.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ErrNoBlocks is returned when no chunk produced a usable payload.
var ErrNoBlocks = errors.New("model returned no usable blocks")

var providerBaseURLs = map[string]string{
	"groq":     "https://api.groq.com/openai/v1",
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com/v1",
}

var (
	thinkPattern  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	blocksPattern = regexp.MustCompile(`(?s)<blocks>(.*?)</blocks>`)
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion request failed with status %d: %s", e.StatusCode, e.Body)
}

// LLMOptions configures an LLMStrategy.
type LLMOptions struct {
	Provider           string // provider/model, e.g. groq/deepseek-r1-distill-llama-70b
	BaseURL            string // overrides the provider's default endpoint
	APIKey             string
	Instruction        string
	ChunkWordThreshold int
	HTTPClient         *http.Client
}

// Usage is the token accounting for one completion request.
type Usage struct {
	Page             string `json:"-"`
	Chunk            int    `json:"-"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// LLMStrategy extracts records through an OpenAI-compatible chat completion API.
type LLMStrategy struct {
	client      *resty.Client
	model       string
	instruction string
	schema      string
	threshold   int

	mu    sync.Mutex
	usage []Usage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// NewLLMStrategy builds a strategy for the given provider.
func NewLLMStrategy(opts LLMOptions) (*LLMStrategy, error) {
	provider, model, ok := strings.Cut(opts.Provider, "/")
	if !ok || model == "" {
		return nil, fmt.Errorf("parse provider %q: expected provider/model", opts.Provider)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[provider]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("content-type", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	instruction := opts.Instruction
	if instruction == "" {
		instruction = DefaultInstruction
	}
	threshold := opts.ChunkWordThreshold
	if threshold <= 0 {
		threshold = 1500
	}

	return &LLMStrategy{
		client:      client,
		model:       model,
		instruction: instruction,
		schema:      Schema(),
		threshold:   threshold,
	}, nil
}

// Name implements Strategy.
func (s *LLMStrategy) Name() string {
	return "llm"
}

// Extract sends the page in word-bounded chunks and concatenates the records
// each chunk yields. A chunk whose answer cannot be parsed is logged and
// skipped; the call fails only when every chunk does.
func (s *LLMStrategy) Extract(ctx context.Context, page Page) (string, error) {
	chunks := ChunkWords(page.Content, s.threshold)
	if len(chunks) == 0 {
		return "", nil
	}

	items := make([]json.RawMessage, 0)
	var lastErr error
	parsed := 0
	for i, chunk := range chunks {
		answer, err := s.complete(ctx, page, i, chunk)
		if err != nil {
			return "", fmt.Errorf("extract chunk %d of %s: %w", i, page.URL, err)
		}
		blocks, err := parseBlocks(answer)
		if err != nil {
			slog.Warn("discarding unparseable chunk",
				slog.String("url", page.URL),
				slog.Int("chunk", i),
				slog.Any("error", err),
			)
			lastErr = err
			continue
		}
		parsed++
		items = append(items, blocks...)
	}

	if parsed == 0 {
		return "", fmt.Errorf("%w: %v", ErrNoBlocks, lastErr)
	}
	out, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode blocks: %w", err)
	}
	return string(out), nil
}

func (s *LLMStrategy) complete(ctx context.Context, page Page, index int, chunk string) (string, error) {
	body := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: s.systemPrompt()},
			{Role: "user", Content: userPrompt(page.URL, chunk)},
		},
	}

	var out chatResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("post completion: %w", err)
	}
	if res.IsError() {
		return "", &StatusError{StatusCode: res.StatusCode(), Body: strings.TrimSpace(res.String())}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	usage := out.Usage
	usage.Page = page.URL
	usage.Chunk = index
	s.mu.Lock()
	s.usage = append(s.usage, usage)
	s.mu.Unlock()

	slog.Debug("completion received",
		slog.String("url", page.URL),
		slog.Int("chunk", index),
		slog.Int("total_tokens", usage.TotalTokens),
	)
	return out.Choices[0].Message.Content, nil
}

func (s *LLMStrategy) systemPrompt() string {
	var b strings.Builder
	b.WriteString(s.instruction)
	b.WriteString("\n\nEach object must follow this JSON schema:\n")
	b.WriteString(s.schema)
	b.WriteString("\n\nAnswer with a JSON array of objects wrapped in <blocks></blocks> and nothing else.")
	return b.String()
}

func userPrompt(url, chunk string) string {
	return fmt.Sprintf("Here is the content from the URL: <url>%s</url>\n\n<url_content>\n%s\n</url_content>", url, chunk)
}

// Usage returns a copy of the per-request token accounting.
func (s *LLMStrategy) Usage() []Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Usage(nil), s.usage...)
}

// ReportUsage prints per-request token usage and totals.
func (s *LLMStrategy) ReportUsage(w io.Writer) {
	usage := s.Usage()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("LLM token usage (%s)", s.model)
	t.AppendHeader(table.Row{"#", "Page", "Chunk", "Prompt", "Completion", "Total"})

	var prompt, completion, total int
	for i, u := range usage {
		t.AppendRow(table.Row{i + 1, u.Page, u.Chunk, u.PromptTokens, u.CompletionTokens, u.TotalTokens})
		prompt += u.PromptTokens
		completion += u.CompletionTokens
		total += u.TotalTokens
	}
	t.AppendFooter(table.Row{len(usage), "Total", "", prompt, completion, total})
	t.Render()
}

// ChunkWords splits content on line boundaries into pieces of at most
// threshold words. A single line longer than threshold forms its own chunk.
func ChunkWords(content string, threshold int) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var (
		chunks  []string
		current []string
		words   int
	)
	for _, line := range strings.Split(content, "\n") {
		n := len(strings.Fields(line))
		if words > 0 && words+n > threshold {
			chunks = append(chunks, strings.Join(current, "\n"))
			current, words = nil, 0
		}
		current = append(current, line)
		words += n
	}
	if words > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// CleanAnswer strips reasoning, block wrappers and code fences from a model answer.
func CleanAnswer(answer string) string {
	answer = thinkPattern.ReplaceAllString(answer, "")
	if i := strings.LastIndex(answer, "</think>"); i >= 0 {
		answer = answer[i+len("</think>"):]
	}
	if m := blocksPattern.FindStringSubmatch(answer); m != nil {
		answer = m[1]
	}
	answer = strings.TrimSpace(answer)
	if m := fencePattern.FindStringSubmatch(answer); m != nil {
		answer = m[1]
	}
	return strings.TrimSpace(answer)
}

func parseBlocks(answer string) ([]json.RawMessage, error) {
	cleaned := []byte(CleanAnswer(answer))
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("empty answer")
	}
	switch cleaned[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(cleaned, &items); err != nil {
			return nil, fmt.Errorf("decode block array: %w", err)
		}
		return items, nil
	case '{':
		if !json.Valid(cleaned) {
			return nil, fmt.Errorf("decode block object: invalid JSON")
		}
		return []json.RawMessage{bytes.Clone(cleaned)}, nil
	default:
		return nil, fmt.Errorf("answer is not JSON: %.40q", cleaned)
	}
}
