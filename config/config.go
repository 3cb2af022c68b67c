// Package config holds the scraper's run configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shahryar908/visa-scraper/models"
)

// Fetch and cache modes.
const (
	FetcherColly    = "colly"
	FetcherChromedp = "chromedp"

	CacheBypass  = "bypass"
	CacheEnabled = "enabled"

	StrategyLLM     = "llm"
	StrategyFixture = "fixture"

	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Configuration validation errors.
var (
	ErrNoCountries     = errors.New("at least one country is required")
	ErrEmptyCountry    = errors.New("country identifier cannot be empty")
	ErrNoRequired      = errors.New("at least one required field is needed")
	ErrMissingAPIKey   = errors.New("llm strategy needs an API key (GROQ_API_KEY)")
	ErrMissingFixtures = errors.New("fixture strategy needs a fixtures directory")
	ErrMissingStoreDSN = errors.New("store needs a DSN")
)

// Config holds scraper configuration.
type Config struct {
	BaseURL        string            `yaml:"base_url"`
	CSSSelector    string            `yaml:"css_selector"`
	Countries      []string          `yaml:"countries"`
	CountrySources map[string]string `yaml:"country_sources"`
	RequiredFields []string          `yaml:"required_fields"`
	SessionID      string            `yaml:"session_id"`
	Delay          time.Duration     `yaml:"delay"`
	Timeout        time.Duration     `yaml:"timeout"`
	OutputDir      string            `yaml:"output_dir"`

	Fetcher          string `yaml:"fetcher"`    // colly or chromedp
	CacheMode        string `yaml:"cache_mode"` // bypass or enabled
	CacheSize        int    `yaml:"cache_size"`
	UserAgent        string `yaml:"user_agent"`
	RespectRobotsTxt bool   `yaml:"respect_robots"`

	Strategy           string `yaml:"strategy"` // llm or fixture
	FixturesDir        string `yaml:"fixtures_dir"`
	LLMProvider        string `yaml:"llm_provider"`
	LLMBaseURL         string `yaml:"llm_base_url"`
	LLMAPIKey          string `yaml:"-"`
	ChunkWordThreshold int    `yaml:"chunk_word_threshold"`

	Store    string `yaml:"store"` // none, sqlite, postgres or redis
	StoreDSN string `yaml:"store_dsn"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults the crawler ships with.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://www.visahq.com/citizens/United-States",
		CSSSelector: ".country-data-container",
		Countries:   []string{"germany"},
		CountrySources: map[string]string{
			"germany": "https://www.germany-visa.org/student-visa/student-visa-visum-zu-studienzwecken/",
		},
		RequiredFields:     append([]string(nil), models.DefaultRequiredFields...),
		SessionID:          "visa_info_crawl_session",
		Delay:              3 * time.Second,
		Timeout:            60 * time.Second,
		OutputDir:          "output",
		Fetcher:            FetcherColly,
		CacheMode:          CacheBypass,
		CacheSize:          64,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Strategy:           StrategyLLM,
		LLMProvider:        "groq/deepseek-r1-distill-llama-70b",
		ChunkWordThreshold: 1500,
		Store:              StoreNone,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Countries) == 0 {
		return ErrNoCountries
	}
	for i, country := range c.Countries {
		if strings.TrimSpace(country) == "" {
			return fmt.Errorf("%w: countries[%d]", ErrEmptyCountry, i)
		}
	}
	for country, source := range c.CountrySources {
		u, err := url.Parse(source)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid source URL for %s: %q", country, source)
		}
	}
	if len(c.RequiredFields) == 0 {
		return ErrNoRequired
	}

	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	if c.Fetcher != FetcherColly && c.Fetcher != FetcherChromedp {
		return fmt.Errorf("fetcher must be colly or chromedp")
	}
	if c.CacheMode != CacheBypass && c.CacheMode != CacheEnabled {
		return fmt.Errorf("cache mode must be bypass or enabled")
	}
	if c.CacheMode == CacheEnabled && c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.Strategy {
	case StrategyLLM:
		if c.LLMAPIKey == "" {
			return ErrMissingAPIKey
		}
		if !strings.Contains(c.LLMProvider, "/") {
			return fmt.Errorf("llm provider must look like provider/model, got %q", c.LLMProvider)
		}
		if c.ChunkWordThreshold <= 0 {
			return fmt.Errorf("chunk word threshold must be positive")
		}
	case StrategyFixture:
		if c.FixturesDir == "" {
			return ErrMissingFixtures
		}
	default:
		return fmt.Errorf("strategy must be llm or fixture")
	}

	switch c.Store {
	case StoreNone:
	case StoreSQLite, StorePostgres, StoreRedis:
		if c.StoreDSN == "" {
			return fmt.Errorf("%w: %s", ErrMissingStoreDSN, c.Store)
		}
	default:
		return fmt.Errorf("store must be none, sqlite, postgres or redis")
	}

	return nil
}

// CountryFile is the per-country JSON output path.
func (c *Config) CountryFile(country string) string {
	return fmt.Sprintf("%s/%s_visa_info.json", c.OutputDir, country)
}

// CombinedFiles returns the combined CSV and JSON output paths.
func (c *Config) CombinedFiles() (string, string) {
	return c.OutputDir + "/all_visa_info.csv", c.OutputDir + "/all_visa_info.json"
}
