package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FixtureStrategy serves recorded payloads from {Dir}/{country}.json instead
// of calling a model.
type FixtureStrategy struct {
	Dir string

	mu     sync.Mutex
	served []string
}

// NewFixtureStrategy returns a strategy reading payloads from dir.
func NewFixtureStrategy(dir string) *FixtureStrategy {
	return &FixtureStrategy{Dir: dir}
}

// Name implements Strategy.
func (f *FixtureStrategy) Name() string {
	return "fixture"
}

// Extract returns the fixture recorded for the page's country.
func (f *FixtureStrategy) Extract(ctx context.Context, page Page) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(f.Dir, page.Country+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read fixture %s: %w", path, err)
	}
	f.mu.Lock()
	f.served = append(f.served, path)
	f.mu.Unlock()
	return string(data), nil
}

// ReportUsage lists the fixtures served during the run.
func (f *FixtureStrategy) ReportUsage(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(w, "fixture strategy served %d payload(s) from %s\n", len(f.served), f.Dir)
	for _, path := range f.served {
		fmt.Fprintf(w, "  %s\n", path)
	}
}
