package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/shahryar908/visa-scraper/config"
)

const visaPage = `<html><head><title>Testland visas</title></head><body>
<nav>Menu</nav>
<div class="country-data-container"><h2>Student Visa</h2><p>Fee: 75 EUR</p></div>
<footer>Footer links</footer>
</body></html>`

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
}

func newTestFetcher(t *testing.T, cacheMode string, transport http.RoundTripper) *CollyFetcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheMode = cacheMode
	f, err := NewCollyFetcher(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("NewCollyFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCollyFetcherScopesSelector(t *testing.T) {
	const pageURL = "https://example.test/visas/testland"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, pageURL, htmlResponder(visaPage))

	f := newTestFetcher(t, config.CacheBypass, transport)
	res, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Selector: ".country-data-container", Bypass: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if !strings.Contains(res.Scoped, `class="country-data-container"`) || strings.Contains(res.Scoped, "Footer") {
		t.Fatalf("scoped html should only hold the container: %q", res.Scoped)
	}
	if !strings.Contains(res.Content, "Student Visa") || !strings.Contains(res.Content, "75 EUR") {
		t.Fatalf("markdown missing page text: %q", res.Content)
	}
	if strings.Contains(res.Content, "Footer links") {
		t.Fatalf("markdown should not include content outside the selector: %q", res.Content)
	}
}

func TestCollyFetcherClassifiesStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			const pageURL = "https://example.test/visas/x"
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, pageURL, httpmock.NewStringResponder(tt.status, ""))

			f := newTestFetcher(t, config.CacheBypass, transport)
			_, err := f.Fetch(context.Background(), FetchRequest{URL: pageURL, Bypass: true})
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (%v)", got, tt.expected, err)
			}
		})
	}
}

func TestCollyFetcherCache(t *testing.T) {
	const pageURL = "https://example.test/visas/testland"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, pageURL, htmlResponder(visaPage))

	f := newTestFetcher(t, config.CacheEnabled, transport)
	req := FetchRequest{URL: pageURL, Selector: ".country-data-container"}
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), req); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("cached fetch should hit the network once, got %d", got)
	}

	req.Bypass = true
	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("bypass Fetch: %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("bypass should refetch, got %d calls", got)
	}
}

func TestCollyFetcherBypassModeHasNoCache(t *testing.T) {
	const pageURL = "https://example.test/visas/testland"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, pageURL, htmlResponder(visaPage))

	f := newTestFetcher(t, config.CacheBypass, transport)
	req := FetchRequest{URL: pageURL, Selector: ".country-data-container"}
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), req); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("bypass mode should always fetch, got %d calls", got)
	}
}

func TestCollyFetcherCancelledContext(t *testing.T) {
	f := newTestFetcher(t, config.CacheBypass, httpmock.NewMockTransport())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx, FetchRequest{URL: "https://example.test/"}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScopeHTML(t *testing.T) {
	scoped, err := scopeHTML(visaPage, ".country-data-container")
	if err != nil {
		t.Fatalf("scopeHTML: %v", err)
	}
	if !strings.HasPrefix(scoped, `<div class="country-data-container">`) || strings.Contains(scoped, "Menu") {
		t.Fatalf("unexpected scoped html %q", scoped)
	}

	missing, err := scopeHTML(visaPage, ".absent")
	if err != nil || missing != "" {
		t.Fatalf("expected empty scope, got %q, %v", missing, err)
	}

	whole, _ := scopeHTML(visaPage, "")
	if whole != visaPage {
		t.Fatalf("empty selector should keep the page")
	}
}

func TestRenderContentEmptyPage(t *testing.T) {
	content, err := renderContent("https://example.test/", "", "")
	if err != nil || content != "" {
		t.Fatalf("expected empty content, got %q, %v", content, err)
	}
}

func TestRenderContentFallsBackWhenSelectorMisses(t *testing.T) {
	if _, err := renderContent("https://example.test/", "", visaPage); err != nil {
		t.Fatalf("fallback render failed: %v", err)
	}
}

func TestChromedpFetcherCloseWithoutLaunch(t *testing.T) {
	f := NewChromedpFetcher(config.DefaultConfig())
	if f.Sessions() != 0 {
		t.Fatalf("no tabs should exist before the first fetch")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestChromedpFetcherReusesSessionTab(t *testing.T) {
	found := false
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chromium binary on PATH")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(visaPage))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Timeout = 20 * time.Second
	f := NewChromedpFetcher(cfg)
	defer f.Close()

	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL, Selector: cfg.CSSSelector, SessionID: "session_testland"})
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if !strings.Contains(res.Scoped, "Student Visa") {
			t.Fatalf("fetch %d scoped = %q", i, res.Scoped)
		}
	}
	if f.Sessions() != 1 {
		t.Fatalf("sessions = %d, want 1", f.Sessions())
	}
}
