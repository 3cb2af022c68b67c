package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
)

const testEndpoint = "https://llm.test/v1/chat/completions"

func completion(content string, total int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     total - 10,
			"completion_tokens": 10,
			"total_tokens":      total,
		},
	}
}

func newTestStrategy(t *testing.T, threshold int, responder httpmock.Responder) (*LLMStrategy, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, testEndpoint, responder)
	s, err := NewLLMStrategy(LLMOptions{
		Provider:           "groq/test-model",
		BaseURL:            "https://llm.test/v1/",
		APIKey:             "secret",
		ChunkWordThreshold: threshold,
		HTTPClient:         &http.Client{Transport: mock},
	})
	if err != nil {
		t.Fatalf("NewLLMStrategy: %v", err)
	}
	return s, mock
}

func TestLLMStrategyExtract(t *testing.T) {
	answer := "<think>the page lists two visas</think>\n<blocks>\n```json\n" +
		`[{"visa_type":"Student","fees":"75 EUR"},{"visa_type":"Work","fees":"80 EUR"}]` +
		"\n```\n</blocks>"

	var got chatRequest
	var auth string
	s, mock := newTestStrategy(t, 1500, func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		return httpmock.NewJsonResponse(http.StatusOK, completion(answer, 120))
	})

	payload, err := s.Extract(context.Background(), Page{
		URL:     "https://example.com/visas/germany",
		Country: "germany",
		Content: "# Germany\nStudent visa costs 75 EUR.",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var records []map[string]string
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		t.Fatalf("payload is not a JSON array: %v (%s)", err, payload)
	}
	want := []map[string]string{
		{"visa_type": "Student", "fees": "75 EUR"},
		{"visa_type": "Work", "fees": "80 EUR"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	if mock.GetTotalCallCount() != 1 {
		t.Fatalf("expected one completion call, got %d", mock.GetTotalCallCount())
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(got.Messages[0].Content, "visa_type") {
		t.Fatalf("system prompt should carry the schema")
	}
	if !strings.Contains(got.Messages[1].Content, "Student visa costs 75 EUR.") {
		t.Fatalf("user prompt should carry the page content")
	}

	usage := s.Usage()
	if len(usage) != 1 || usage[0].TotalTokens != 120 || usage[0].Page != "https://example.com/visas/germany" {
		t.Fatalf("unexpected usage %+v", usage)
	}

	var buf bytes.Buffer
	s.ReportUsage(&buf)
	if !strings.Contains(buf.String(), "120") || !strings.Contains(strings.ToUpper(buf.String()), "TOTAL") {
		t.Fatalf("usage report missing totals:\n%s", buf.String())
	}
}

func TestLLMStrategyChunksAndConcatenates(t *testing.T) {
	answers := []string{
		`[{"visa_type":"Student"}]`,
		`{"visa_type":"Work"}`,
	}
	call := 0
	s, mock := newTestStrategy(t, 3, func(req *http.Request) (*http.Response, error) {
		answer := answers[call%len(answers)]
		call++
		return httpmock.NewJsonResponse(http.StatusOK, completion(answer, 50))
	})

	payload, err := s.Extract(context.Background(), Page{URL: "u", Content: "one two\nthree four\nfive"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if mock.GetTotalCallCount() != 2 {
		t.Fatalf("expected two chunks, got %d calls", mock.GetTotalCallCount())
	}
	if payload != `[{"visa_type":"Student"},{"visa_type":"Work"}]` {
		t.Fatalf("unexpected payload %s", payload)
	}
	if len(s.Usage()) != 2 {
		t.Fatalf("expected usage per chunk, got %d", len(s.Usage()))
	}
}

func TestLLMStrategySkipsBadChunk(t *testing.T) {
	answers := []string{"I could not find anything.", `[{"visa_type":"Work"}]`}
	call := 0
	s, _ := newTestStrategy(t, 2, func(req *http.Request) (*http.Response, error) {
		answer := answers[call%len(answers)]
		call++
		return httpmock.NewJsonResponse(http.StatusOK, completion(answer, 20))
	})

	payload, err := s.Extract(context.Background(), Page{URL: "u", Content: "a b\nc d"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if payload != `[{"visa_type":"Work"}]` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestLLMStrategyNoUsableBlocks(t *testing.T) {
	s, _ := newTestStrategy(t, 100, httpmock.NewJsonResponderOrPanic(http.StatusOK, completion("no json here", 5)))

	_, err := s.Extract(context.Background(), Page{URL: "u", Content: "text"})
	if !errors.Is(err, ErrNoBlocks) {
		t.Fatalf("expected ErrNoBlocks, got %v", err)
	}
}

func TestLLMStrategyStatusError(t *testing.T) {
	s, _ := newTestStrategy(t, 100, httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"))

	_, err := s.Extract(context.Background(), Page{URL: "u", Content: "text"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func TestLLMStrategyEmptyContent(t *testing.T) {
	s, mock := newTestStrategy(t, 100, httpmock.NewStringResponder(http.StatusOK, "{}"))

	payload, err := s.Extract(context.Background(), Page{URL: "u", Content: "  \n "})
	if err != nil || payload != "" {
		t.Fatalf("expected empty payload, got %q, %v", payload, err)
	}
	if mock.GetTotalCallCount() != 0 {
		t.Fatalf("no request should be sent for empty content")
	}
}

func TestNewLLMStrategyProviders(t *testing.T) {
	if _, err := NewLLMStrategy(LLMOptions{Provider: "acme/model"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := NewLLMStrategy(LLMOptions{Provider: "groq"}); err == nil {
		t.Fatalf("expected error for provider without model")
	}
	s, err := NewLLMStrategy(LLMOptions{Provider: "groq/deepseek-r1-distill-llama-70b"})
	if err != nil {
		t.Fatalf("groq provider should resolve: %v", err)
	}
	if s.model != "deepseek-r1-distill-llama-70b" || s.threshold != 1500 {
		t.Fatalf("unexpected defaults model=%q threshold=%d", s.model, s.threshold)
	}
}

func TestChunkWords(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		threshold int
		want      []string
	}{
		{name: "empty", content: " \n", threshold: 5, want: nil},
		{name: "fits", content: "a b c", threshold: 5, want: []string{"a b c"}},
		{name: "splits on lines", content: "a b\nc d\ne", threshold: 3, want: []string{"a b", "c d\ne"}},
		{name: "long line alone", content: "a b c d\ne", threshold: 2, want: []string{"a b c d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ChunkWords(tt.content, tt.threshold)); diff != "" {
				t.Fatalf("ChunkWords mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{name: "plain", answer: ` [{"a":1}] `, want: `[{"a":1}]`},
		{name: "think block", answer: "<think>hmm</think>[1]", want: "[1]"},
		{name: "dangling think close", answer: "reasoning...</think>\n{\"a\":1}", want: `{"a":1}`},
		{name: "blocks wrapper", answer: "sure <blocks>[2]</blocks> done", want: "[2]"},
		{name: "code fence", answer: "```json\n[3]\n```", want: "[3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanAnswer(tt.answer); got != tt.want {
				t.Fatalf("CleanAnswer(%q) = %q, want %q", tt.answer, got, tt.want)
			}
		})
	}
}

func TestSchemaListsFields(t *testing.T) {
	var schema struct {
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal([]byte(Schema()), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if len(schema.Properties) != 10 || len(schema.Required) != 8 {
		t.Fatalf("unexpected schema shape: %d properties, %d required", len(schema.Properties), len(schema.Required))
	}
	if schema.Properties["requirements"]["type"] != "array" {
		t.Fatalf("requirements should be an array")
	}
}

func TestMustJSONPanicsOnUnencodableValue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an unencodable value")
		}
	}()
	mustJSON(map[string]any{"bad": make(chan int)})
}
