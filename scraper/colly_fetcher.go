package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shahryar908/visa-scraper/config"
)

// CollyFetcher fetches pages over plain HTTP with colly.
type CollyFetcher struct {
	userAgent     string
	timeout       time.Duration
	respectRobots bool
	transport     http.RoundTripper
	cache         *lru.Cache[string, *FetchResult]
}

// CollyOption customises a CollyFetcher.
type CollyOption func(*CollyFetcher)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) CollyOption {
	return func(f *CollyFetcher) {
		f.transport = rt
	}
}

// NewCollyFetcher builds a fetcher from cfg. A page cache is only created
// when cfg.CacheMode is enabled.
func NewCollyFetcher(cfg *config.Config, opts ...CollyOption) (*CollyFetcher, error) {
	f := &CollyFetcher{
		userAgent:     cfg.UserAgent,
		timeout:       cfg.Timeout,
		respectRobots: cfg.RespectRobotsTxt,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if cfg.Verbose {
		f.transport = NewLoggingTransport(f.transport)
	}

	if cfg.CacheMode == config.CacheEnabled {
		cache, err := lru.New[string, *FetchResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create page cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

// Fetch visits req.URL and returns the content matched by req.Selector.
func (f *CollyFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := cacheKey(req)
	if f.cache != nil && !req.Bypass {
		if cached, ok := f.cache.Get(key); ok {
			slog.Debug("page cache hit", slog.String("url", req.URL))
			return cached, nil
		}
	}

	collector := colly.NewCollector(colly.UserAgent(f.userAgent))
	collector.SetRequestTimeout(f.timeout)
	collector.IgnoreRobotsTxt = !f.respectRobots
	collector.WithTransport(f.transport)

	var (
		fragments []string
		body      []byte
		status    int
		fetchErr  error
	)
	if req.Selector != "" {
		collector.OnHTML(req.Selector, func(e *colly.HTMLElement) {
			html, err := goquery.OuterHtml(e.DOM)
			if err != nil {
				slog.Debug("skip unrenderable fragment", slog.Any("error", err))
				return
			}
			fragments = append(fragments, html)
		})
	}
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	err := collector.Visit(req.URL)
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetch %s: %w", req.URL, classifyError(err, status))
	}

	scoped := string(body)
	if req.Selector != "" {
		scoped = strings.Join(fragments, "\n")
	}
	content, err := renderContent(req.URL, scoped, string(body))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", req.URL, err)
	}

	result := &FetchResult{
		URL:        req.URL,
		StatusCode: status,
		Scoped:     scoped,
		Content:    content,
	}
	if f.cache != nil {
		f.cache.Add(key, result)
	}
	return result, nil
}

// Close implements Fetcher.
func (f *CollyFetcher) Close() error {
	if f.cache != nil {
		f.cache.Purge()
	}
	return nil
}
