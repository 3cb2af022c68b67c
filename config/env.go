package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env reads settings from the process environment and an optional .env file.
// Process variables win over the file.
type Env struct {
	v *viper.Viper
}

// LoadEnv reads file when it exists. A missing file is not an error so the
// scraper can be configured purely through the environment; a file that
// exists but does not parse is.
func LoadEnv(file string) (*Env, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", file, err)
		}
	}
	v.AutomaticEnv()
	return &Env{v: v}, nil
}

// String returns the value for key or def when unset.
func (e *Env) String(key, def string) string {
	if !e.isSet(key) {
		return def
	}
	return e.v.GetString(key)
}

// Int returns the value for key or def when unset or not a number.
func (e *Env) Int(key string, def int) int {
	if !e.isSet(key) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(e.v.GetString(key)))
	if err != nil {
		return def
	}
	return n
}

// Bool returns the value for key or def when unset or not a boolean.
func (e *Env) Bool(key string, def bool) bool {
	if !e.isSet(key) {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(e.v.GetString(key)))
	if err != nil {
		return def
	}
	return b
}

// Duration accepts Go duration strings ("3s") or a bare number of seconds.
func (e *Env) Duration(key string, def time.Duration) time.Duration {
	if !e.isSet(key) {
		return def
	}
	raw := strings.TrimSpace(e.v.GetString(key))
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func (e *Env) isSet(key string) bool {
	if e == nil || e.v == nil {
		return false
	}
	return e.v.IsSet(key) && e.v.GetString(key) != ""
}

// Strings splits a comma-separated value, dropping blanks.
func (e *Env) Strings(key string, def []string) []string {
	if !e.isSet(key) {
		return def
	}
	var out []string
	for _, part := range strings.Split(e.v.GetString(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// ApplyEnv overrides c with any SCRAPER_* variables set in env. The LLM key
// comes from GROQ_API_KEY unless SCRAPER_LLM_API_KEY is set.
func (c *Config) ApplyEnv(env *Env) {
	c.BaseURL = env.String("SCRAPER_BASE_URL", c.BaseURL)
	c.CSSSelector = env.String("SCRAPER_CSS_SELECTOR", c.CSSSelector)
	c.Countries = env.Strings("SCRAPER_COUNTRIES", c.Countries)
	c.RequiredFields = env.Strings("SCRAPER_REQUIRED_FIELDS", c.RequiredFields)
	c.SessionID = env.String("SCRAPER_SESSION_ID", c.SessionID)
	c.Delay = env.Duration("SCRAPER_DELAY", c.Delay)
	c.Timeout = env.Duration("SCRAPER_TIMEOUT", c.Timeout)
	c.OutputDir = env.String("SCRAPER_OUTPUT_DIR", c.OutputDir)
	c.Fetcher = env.String("SCRAPER_FETCHER", c.Fetcher)
	c.CacheMode = env.String("SCRAPER_CACHE_MODE", c.CacheMode)
	c.CacheSize = env.Int("SCRAPER_CACHE_SIZE", c.CacheSize)
	c.UserAgent = env.String("SCRAPER_USER_AGENT", c.UserAgent)
	c.RespectRobotsTxt = env.Bool("SCRAPER_RESPECT_ROBOTS", c.RespectRobotsTxt)
	c.Strategy = env.String("SCRAPER_STRATEGY", c.Strategy)
	c.FixturesDir = env.String("SCRAPER_FIXTURES_DIR", c.FixturesDir)
	c.LLMProvider = env.String("SCRAPER_LLM_PROVIDER", c.LLMProvider)
	c.LLMBaseURL = env.String("SCRAPER_LLM_BASE_URL", c.LLMBaseURL)
	c.LLMAPIKey = env.String("SCRAPER_LLM_API_KEY", env.String("GROQ_API_KEY", c.LLMAPIKey))
	c.ChunkWordThreshold = env.Int("SCRAPER_CHUNK_WORDS", c.ChunkWordThreshold)
	c.Store = env.String("SCRAPER_STORE", c.Store)
	c.StoreDSN = env.String("SCRAPER_STORE_DSN", c.StoreDSN)
	c.MetricsAddr = env.String("SCRAPER_METRICS_ADDR", c.MetricsAddr)
	c.Verbose = env.Bool("SCRAPER_VERBOSE", c.Verbose)
}
