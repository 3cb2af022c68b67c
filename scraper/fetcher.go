package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/motemen/go-loghttp"
)

// FetchRequest describes one page fetch.
type FetchRequest struct {
	URL       string
	Selector  string
	SessionID string
	Bypass    bool // skip any cached copy
}

// FetchResult is a fetched page scoped to the request's selector.
type FetchResult struct {
	URL        string
	StatusCode int
	Scoped     string // outer HTML of the selector matches
	Content    string // markdown handed to the extraction strategy
}

// Fetcher retrieves pages for the extraction step.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
	Close() error
}

// ResolveURL returns the override for country when one is configured, as
// given, otherwise baseURL + "/" + country.
func ResolveURL(country, baseURL string, overrides map[string]string) string {
	if source, ok := overrides[country]; ok {
		return source
	}
	return baseURL + "/" + country
}

// NewLoggingTransport wraps base so every request and response is logged at
// debug level.
func NewLoggingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loghttp.Transport{
		Transport: base,
		LogRequest: func(req *http.Request) {
			slog.Debug("HTTP request",
				slog.String("method", req.Method),
				slog.String("url", req.URL.String()),
			)
		},
		LogResponse: func(resp *http.Response) {
			slog.Debug("HTTP response",
				slog.String("method", resp.Request.Method),
				slog.String("url", resp.Request.URL.String()),
				slog.Int("status_code", resp.StatusCode),
			)
		},
	}
}

func cacheKey(req FetchRequest) string {
	return strings.Join([]string{req.URL, req.Selector}, "\x00")
}
