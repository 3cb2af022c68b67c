package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shahryar908/visa-scraper/config"
	"github.com/shahryar908/visa-scraper/extract"
	"github.com/shahryar908/visa-scraper/models"
	"github.com/shahryar908/visa-scraper/scraper"
	"github.com/shahryar908/visa-scraper/storage"
)

// Version information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// cliFlags holds raw flag values. Only flags the user actually set are
// copied onto the resolved config.
type cliFlags struct {
	configPath string
	envFile    string
	values     config.Config
	sources    map[string]string
	country    string
}

func newRootCmd() *cobra.Command {
	root, _ := buildRootCmd()
	return root
}

func buildRootCmd() (*cobra.Command, *cliFlags) {
	flags := &cliFlags{values: *config.DefaultConfig()}

	root := &cobra.Command{
		Use:           "visa-scraper",
		Short:         "Crawl visa requirement pages into CSV, JSON and a database",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}

	persistent := root.PersistentFlags()
	persistent.StringVar(&flags.configPath, "config", "", "YAML run file (a sibling .local.yaml is merged over it)")
	persistent.StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file")
	persistent.BoolVarP(&flags.values.Verbose, "verbose", "v", false, "Enable verbose logging")
	persistent.StringVar(&flags.values.Store, "store", flags.values.Store, "Record store: none, sqlite, postgres or redis")
	persistent.StringVar(&flags.values.StoreDSN, "store-dsn", "", "Store DSN (file path, libsql://, postgres:// or redis address)")

	f := root.Flags()
	f.StringVar(&flags.values.BaseURL, "base-url", flags.values.BaseURL, "Base URL; country pages are {base-url}/{country}")
	f.StringVar(&flags.values.CSSSelector, "selector", flags.values.CSSSelector, "CSS selector scoping the extracted content")
	f.StringSliceVar(&flags.values.Countries, "countries", flags.values.Countries, "Countries to crawl, in order")
	f.StringToStringVar(&flags.sources, "source", nil, "Per-country source URL override (country=url)")
	f.StringSliceVar(&flags.values.RequiredFields, "required", flags.values.RequiredFields, "Fields a record must carry to be kept")
	f.StringVar(&flags.values.SessionID, "session-id", flags.values.SessionID, "Session id prefix for fetches")
	f.DurationVar(&flags.values.Delay, "delay", flags.values.Delay, "Pause between countries")
	f.DurationVar(&flags.values.Timeout, "timeout", flags.values.Timeout, "Per-request timeout")
	f.StringVar(&flags.values.OutputDir, "output-dir", flags.values.OutputDir, "Directory for CSV and JSON output")
	f.StringVar(&flags.values.Fetcher, "fetcher", flags.values.Fetcher, "Page fetcher: colly or chromedp")
	f.StringVar(&flags.values.CacheMode, "cache-mode", flags.values.CacheMode, "Page cache: bypass or enabled")
	f.IntVar(&flags.values.CacheSize, "cache-size", flags.values.CacheSize, "Pages kept when the cache is enabled")
	f.BoolVar(&flags.values.RespectRobotsTxt, "respect-robots", false, "Respect robots.txt directives")
	f.StringVar(&flags.values.Strategy, "strategy", flags.values.Strategy, "Extraction strategy: llm or fixture")
	f.StringVar(&flags.values.FixturesDir, "fixtures-dir", "", "Directory of {country}.json payloads for the fixture strategy")
	f.StringVar(&flags.values.LLMProvider, "llm-provider", flags.values.LLMProvider, "LLM provider/model")
	f.StringVar(&flags.values.LLMBaseURL, "llm-base-url", "", "Override the provider's API base URL")
	f.IntVar(&flags.values.ChunkWordThreshold, "chunk-words", flags.values.ChunkWordThreshold, "Words per extraction request")
	f.StringVar(&flags.values.MetricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	root.AddCommand(newRecordsCmd(flags), newVersionCmd())
	return root, flags
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "visa-scraper version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", Date)
		},
	}
}

// resolveConfig layers defaults, the YAML run file, the environment and
// explicitly set flags, in that order, and installs the logger.
func resolveConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		if err := config.LoadFile(flags.configPath, cfg); err != nil {
			return nil, err
		}
	}
	env, err := config.LoadEnv(flags.envFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(env)
	applyFlags(cmd.Flags(), &flags.values, flags.sources, cfg)

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, values *config.Config, sources map[string]string, cfg *config.Config) {
	setters := map[string]func(){
		"verbose":        func() { cfg.Verbose = values.Verbose },
		"store":          func() { cfg.Store = values.Store },
		"store-dsn":      func() { cfg.StoreDSN = values.StoreDSN },
		"base-url":       func() { cfg.BaseURL = values.BaseURL },
		"selector":       func() { cfg.CSSSelector = values.CSSSelector },
		"countries":      func() { cfg.Countries = values.Countries },
		"required":       func() { cfg.RequiredFields = values.RequiredFields },
		"session-id":     func() { cfg.SessionID = values.SessionID },
		"delay":          func() { cfg.Delay = values.Delay },
		"timeout":        func() { cfg.Timeout = values.Timeout },
		"output-dir":     func() { cfg.OutputDir = values.OutputDir },
		"fetcher":        func() { cfg.Fetcher = values.Fetcher },
		"cache-mode":     func() { cfg.CacheMode = values.CacheMode },
		"cache-size":     func() { cfg.CacheSize = values.CacheSize },
		"respect-robots": func() { cfg.RespectRobotsTxt = values.RespectRobotsTxt },
		"strategy":       func() { cfg.Strategy = values.Strategy },
		"fixtures-dir":   func() { cfg.FixturesDir = values.FixturesDir },
		"llm-provider":   func() { cfg.LLMProvider = values.LLMProvider },
		"llm-base-url":   func() { cfg.LLMBaseURL = values.LLMBaseURL },
		"chunk-words":    func() { cfg.ChunkWordThreshold = values.ChunkWordThreshold },
		"metrics-addr":   func() { cfg.MetricsAddr = values.MetricsAddr },
		"source": func() {
			if cfg.CountrySources == nil {
				cfg.CountrySources = make(map[string]string, len(sources))
			}
			for country, url := range sources {
				cfg.CountrySources[country] = url
			}
		},
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := setters[f.Name]; ok {
			apply()
		}
	})
}

func runCrawl(parent context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, saving records collected so far")
		case <-done:
		}
	}()

	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Any("countries", cfg.Countries),
		slog.String("fetcher", cfg.Fetcher),
		slog.String("strategy", cfg.Strategy),
		slog.String("store", cfg.Store),
	)

	strategy, err := newStrategy(cfg)
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	var opts []scraper.Option
	if cfg.Store != config.StoreNone {
		store, err := storage.Open(ctx, cfg.Store, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		defer store.Close()
		opts = append(opts, scraper.WithStore(store))
	}

	s, err := scraper.NewScraper(cfg, fetcher, strategy, opts...)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}

	if cfg.MetricsAddr != "" {
		shutdown := startMetricsServer(cfg.MetricsAddr, s.Metrics)
		defer shutdown()
	}

	startTime := time.Now()
	result, err := s.Run(ctx)
	if result != nil {
		printSummary(result, time.Since(startTime), cfg)
	}
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	return nil
}

func newHTTPClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Verbose {
		client.Transport = scraper.NewLoggingTransport(http.DefaultTransport)
	}
	return client
}

func newStrategy(cfg *config.Config) (extract.Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyFixture:
		return extract.NewFixtureStrategy(cfg.FixturesDir), nil
	default:
		strategy, err := extract.NewLLMStrategy(extract.LLMOptions{
			Provider:           cfg.LLMProvider,
			BaseURL:            cfg.LLMBaseURL,
			APIKey:             cfg.LLMAPIKey,
			ChunkWordThreshold: cfg.ChunkWordThreshold,
			HTTPClient:         newHTTPClient(cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("create llm strategy: %w", err)
		}
		return strategy, nil
	}
}

func newFetcher(cfg *config.Config) (scraper.Fetcher, error) {
	if cfg.Fetcher == config.FetcherChromedp {
		return scraper.NewChromedpFetcher(cfg), nil
	}
	fetcher, err := scraper.NewCollyFetcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	return fetcher, nil
}

func printSummary(result *models.RunResult, duration time.Duration, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	fmt.Printf("  Countries:     %d\n", len(result.Countries))
	fmt.Printf("  Records:       %d\n", len(result.Records))
	fmt.Printf("  Failed:        %d\n", result.ErrorCount)
	if len(result.FailedCountries) > 0 {
		fmt.Printf("  Failed list:   %v\n", result.FailedCountries)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	var incomplete, duplicates int
	for _, c := range result.Countries {
		incomplete += c.Incomplete
		duplicates += c.Duplicates
	}
	fmt.Printf("  Incomplete:    %d\n", incomplete)
	fmt.Printf("  Duplicates:    %d\n", duplicates)
	if cfg.Store != config.StoreNone {
		fmt.Printf("  Stored:        %d new, %d updated (%s)\n", result.StoredInserted, result.StoredUpdated, cfg.Store)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Output dir:    %s\n", cfg.OutputDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
