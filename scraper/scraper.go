package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shahryar908/visa-scraper/config"
	"github.com/shahryar908/visa-scraper/extract"
	"github.com/shahryar908/visa-scraper/models"
	"github.com/shahryar908/visa-scraper/parser"
	"github.com/shahryar908/visa-scraper/pipeline"
)

// RecordStore persists accepted records keyed by (country, visa type).
type RecordStore interface {
	UpsertVisaRecord(ctx context.Context, rec *models.VisaRecord) (existed bool, err error)
}

// Scraper drives the per-country fetch, extract and pipeline steps.
type Scraper struct {
	cfg      *config.Config
	fetcher  Fetcher
	strategy extract.Strategy
	store    RecordStore
	usageOut io.Writer
	Metrics  *Metrics

	mu              sync.Mutex
	failedCountries []string
	errorsByType    map[string]int
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithStore upserts every accepted record into store.
func WithStore(store RecordStore) Option {
	return func(s *Scraper) {
		s.store = store
	}
}

// WithUsageOutput sets where the strategy's usage report is printed.
func WithUsageOutput(w io.Writer) Option {
	return func(s *Scraper) {
		s.usageOut = w
	}
}

// NewScraper builds a scraper over the given fetcher and strategy.
func NewScraper(cfg *config.Config, fetcher Fetcher, strategy extract.Strategy, opts ...Option) (*Scraper, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if strategy == nil {
		return nil, errors.New("extraction strategy is required")
	}

	s := &Scraper{
		cfg:          cfg,
		fetcher:      fetcher,
		strategy:     strategy,
		usageOut:     os.Stdout,
		Metrics:      NewMetrics(),
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run crawls every configured country in order, writes the per-country and
// combined outputs, and reports extraction usage. Write and store failures
// abort the run. When ctx is cancelled the records accepted so far are still
// written, and the result is returned together with ctx's error.
func (s *Scraper) Run(ctx context.Context) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.failedCountries = nil
	s.errorsByType = make(map[string]int)
	s.mu.Unlock()

	state := pipeline.NewRunState()
	p := pipeline.NewPipeline(state, s.cfg.RequiredFields)
	result := &models.RunResult{StartTime: time.Now()}

	var stopErr error
	for i, country := range s.cfg.Countries {
		records, countryResult, err := s.FetchAndProcessCountry(ctx, country, p)
		if err != nil {
			stopErr = err
			break
		}
		result.Countries = append(result.Countries, countryResult)
		state.Accumulate(records...)

		if len(records) > 0 {
			if err := pipeline.NewJSONWriter(s.cfg.CountryFile(country)).Write(records); err != nil {
				return nil, fmt.Errorf("write %s output: %w", country, err)
			}
			inserted, updated, err := s.persist(ctx, records)
			if err != nil {
				return nil, err
			}
			result.StoredInserted += inserted
			result.StoredUpdated += updated
		}

		if i < len(s.cfg.Countries)-1 {
			if err := sleepContext(ctx, s.cfg.Delay); err != nil {
				stopErr = err
				break
			}
		}
	}
	if stopErr != nil {
		slog.Warn("crawl interrupted, saving records collected so far",
			slog.Int("countries_done", len(result.Countries)),
			slog.Any("error", stopErr),
		)
	}

	result.Records = state.Records()
	if len(result.Records) > 0 {
		csvPath, jsonPath := s.cfg.CombinedFiles()
		writer := pipeline.NewDualWriter(csvPath, jsonPath)
		if err := writer.Write(result.Records); err != nil {
			return nil, fmt.Errorf("write combined output: %w", err)
		}
		slog.Info("saved visa entries to output files",
			slog.Int("records", len(result.Records)),
			slog.String("csv", csvPath),
			slog.String("json", jsonPath),
		)
	} else {
		slog.Info("no visa information was found during the crawl")
	}

	s.strategy.ReportUsage(s.usageOut)

	result.EndTime = time.Now()
	result.FailedCountries = s.snapshotFailedCountries()
	result.ErrorsByType = s.snapshotErrors()
	result.ErrorCount = len(result.FailedCountries)

	slog.Debug("pipeline counters", slog.Any("pipeline", p.GetMetrics()))
	return result, stopErr
}

// FetchAndProcessCountry fetches and extracts one country's page and routes
// the records through p. Fetch, extraction and parse failures are logged and
// yield no records; the returned error is non-nil only when ctx is done.
func (s *Scraper) FetchAndProcessCountry(ctx context.Context, country string, p *pipeline.Pipeline) ([]*models.VisaRecord, models.CountryResult, error) {
	url := ResolveURL(country, s.cfg.BaseURL, s.cfg.CountrySources)
	result := models.CountryResult{Country: country, URL: url}

	slog.Info("loading visa information",
		slog.String("country", strings.ToUpper(country)),
		slog.String("url", url),
	)
	s.Metrics.IncRequest("started")
	start := time.Now()

	payload, err := s.fetchAndExtract(ctx, country, url)
	s.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, result, ctxErr
		}
		s.recordFailure(&result, err, "error fetching visa information")
		return nil, result, nil
	}
	if strings.TrimSpace(payload) == "" {
		s.recordFailure(&result, ErrExtraction{Err: errors.New("no extracted content")}, "error fetching visa information")
		return nil, result, nil
	}

	raws, err := parser.ParseExtracted(payload)
	if err != nil {
		s.recordFailure(&result, ErrExtraction{Err: err}, "error parsing extracted content")
		return nil, result, nil
	}
	s.Metrics.IncRequest("succeeded")
	if len(raws) == 0 {
		slog.Info("no visa information found", slog.String("country", country))
		return nil, result, nil
	}

	records, outcome := p.Process(country, raws)
	result.Accepted = outcome.Accepted
	result.Incomplete = outcome.Incomplete
	result.Duplicates = outcome.Duplicates
	s.Metrics.AddAccepted(outcome.Accepted)
	s.Metrics.AddRejected(pipeline.ReasonIncomplete, outcome.Incomplete)
	s.Metrics.AddRejected(pipeline.ReasonDuplicate, outcome.Duplicates)
	s.Metrics.AddRejected(pipeline.ReasonDecode, outcome.Undecodable)

	slog.Info("extracted visa entries",
		slog.String("country", country),
		slog.Int("accepted", outcome.Accepted),
		slog.Int("incomplete", outcome.Incomplete),
		slog.Int("duplicates", outcome.Duplicates),
	)
	return records, result, nil
}

// fetchAndExtract converts any panic from the collaborators into ErrPanic so
// one bad page cannot abort the run.
func (s *Scraper) fetchAndExtract(ctx context.Context, country, url string) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPanic{Value: r}
		}
	}()

	sessionID := fmt.Sprintf("%s_%s", s.cfg.SessionID, country)
	page, err := s.fetcher.Fetch(ctx, FetchRequest{
		URL:       url,
		Selector:  s.cfg.CSSSelector,
		SessionID: sessionID,
		Bypass:    s.cfg.CacheMode != config.CacheEnabled,
	})
	if err != nil {
		return "", err
	}

	payload, err = s.strategy.Extract(ctx, extract.Page{
		URL:       page.URL,
		Country:   country,
		SessionID: sessionID,
		Content:   page.Content,
	})
	if err != nil {
		return "", ErrExtraction{Err: classifyError(err, 0)}
	}
	return payload, nil
}

func (s *Scraper) persist(ctx context.Context, records []*models.VisaRecord) (int, int, error) {
	if s.store == nil {
		return 0, 0, nil
	}
	var inserted, updated int
	for _, rec := range records {
		existed, err := s.store.UpsertVisaRecord(ctx, rec)
		if err != nil {
			return inserted, updated, fmt.Errorf("store %s/%s: %w", rec.Country, rec.VisaType, err)
		}
		if existed {
			updated++
		} else {
			inserted++
		}
	}
	return inserted, updated, nil
}

func (s *Scraper) recordFailure(result *models.CountryResult, err error, msg string) {
	category := errorTypeLabel(err)
	result.ErrorType = category
	result.Error = err.Error()

	s.mu.Lock()
	s.errorsByType[category]++
	s.failedCountries = append(s.failedCountries, result.Country)
	s.mu.Unlock()

	s.Metrics.IncRequest("failed")
	s.Metrics.IncError(category)
	slog.Error(msg,
		slog.String("country", result.Country),
		slog.String("url", result.URL),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (s *Scraper) snapshotFailedCountries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedCountries))
	copy(out, s.failedCountries)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
