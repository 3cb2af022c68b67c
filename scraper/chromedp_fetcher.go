package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/shahryar908/visa-scraper/config"
)

// ChromedpFetcher renders pages in headless Chromium. Each session id keeps
// its own tab for the life of the fetcher.
type ChromedpFetcher struct {
	timeout time.Duration

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	tabs    map[string]chromeTab
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChromedpFetcher prepares a browser allocator. Chromium is launched
// lazily on the first fetch.
func NewChromedpFetcher(cfg *config.Config) *ChromedpFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))

	return &ChromedpFetcher{
		timeout:       cfg.Timeout,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[string]chromeTab),
	}
}

// Fetch navigates the session's tab to req.URL and scopes the rendered DOM.
func (f *ChromedpFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, err := f.tab(req.SessionID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(tabCtx, f.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var page string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("render %s: %w", req.URL, classifyError(err, 0))
	}

	scoped, err := scopeHTML(page, req.Selector)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", req.URL, err)
	}
	content, err := renderContent(req.URL, scoped, page)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", req.URL, err)
	}
	return &FetchResult{URL: req.URL, Scoped: scoped, Content: content}, nil
}

func (f *ChromedpFetcher) tab(sessionID string) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		if err := chromedp.Run(f.browserCtx); err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		f.started = true
	}
	if t, ok := f.tabs[sessionID]; ok {
		return t.ctx, nil
	}
	ctx, cancel := chromedp.NewContext(f.browserCtx)
	// The target is bound to the context of its first Run, so open it here
	// rather than under a per-fetch timeout.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab for %s: %w", sessionID, err)
	}
	f.tabs[sessionID] = chromeTab{ctx: ctx, cancel: cancel}
	slog.Debug("opened browser tab", slog.String("session_id", sessionID))
	return ctx, nil
}

// Sessions returns the number of open tabs.
func (f *ChromedpFetcher) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tabs)
}

// Close shuts every tab and the browser.
func (f *ChromedpFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tabs {
		t.cancel()
		delete(f.tabs, id)
	}
	f.browserCancel()
	f.allocCancel()
	return nil
}
