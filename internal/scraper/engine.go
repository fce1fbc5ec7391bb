package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/browser"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/compliance"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/extract"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fetcher"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fingerprint"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/pipeline"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/proxy"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/storage"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// Engine wires the scraper's collaborators together and drives a run: the
// compliance gate, proxy pool, fingerprint generator, browser launcher,
// extractor, stores, and the pipeline on top of them.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	pool     *proxy.Pool
	csv      *storage.IncrementalWriter
	sqlStore *storage.SQLStore
	sink     storage.MultiSink
	pipe     *pipeline.Pipeline

	closers   []func() error
	closeOnce sync.Once
}

// RunOptions selects what a run scrapes.
type RunOptions struct {
	// URLs are the search or listing targets. Empty means the configured
	// default search.
	URLs []string
	// DeepOnly re-scrapes stored rows that lack deep data instead of
	// visiting search pages.
	DeepOnly bool
}

// NewEngine builds a scraper engine from configuration.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent: cfg.Compliance.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}

	gate := compliance.NewGate(cfg.Compliance, httpFetcher.Client(), logger)

	var pool *proxy.Pool
	if cfg.Proxy.Enabled {
		specs, err := proxy.Load(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		pool = proxy.New(cfg.Proxy, logger)
		pool.AddAll(specs)
		logger.Info("proxy pool ready", "endpoints", pool.Size())
	}

	csv, err := storage.NewIncrementalWriter(cfg.Output.Dir, cfg.Output.File, logger)
	if err != nil {
		return nil, fmt.Errorf("csv store: %w", err)
	}

	var closers []func() error
	var sqlStore *storage.SQLStore
	sinks := []storage.RecordSink{csv}
	if cfg.DB.MirrorEnabled() {
		sqlStore, err = storage.NewSQLStore(cfg.DB)
		if err != nil {
			return nil, err
		}
		closers = append(closers, sqlStore.Close)
		sinks = append(sinks, sqlStore)
		logger.Info("sql mirror enabled", "driver", cfg.DB.Driver)
	}
	sink := storage.NewMultiSink(sinks...)

	deps := pipeline.Deps{
		Gate:         gate,
		Fingerprints: fingerprint.NewGenerator(cfg.Fingerprint),
		Launcher:     sessionLauncher{browser.NewLauncher(cfg.Browser, logger)},
		Extractor:    extract.NewExtractor(cfg.Pacing, logger),
		Sink:         sink,
	}
	if pool != nil {
		deps.Proxies = pool
	}
	if cfg.Output.SaveImages {
		media, err := storage.NewMediaStore(cfg.Output, httpFetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("media store: %w", err)
		}
		deps.Media = media
	}

	pipe, err := pipeline.New(cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		csv:      csv,
		sqlStore: sqlStore,
		sink:     sink,
		pipe:     pipe,
		closers:  closers,
	}, nil
}

// Run scrapes the selected targets until completion or context cancellation,
// then reconciles the store and logs the run summary.
func (e *Engine) Run(ctx context.Context, opts RunOptions) error {
	defer e.Close()

	urls := opts.URLs
	if opts.DeepOnly {
		targets, err := e.deepScrapeTargets(ctx)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			e.logger.Info("no stored rows need deep scraping")
			return nil
		}
		e.logger.Info("re-scraping rows without deep data", "listings", len(targets))
		urls = targets
	} else if len(urls) == 0 {
		urls = []string{e.cfg.Scrape.DefaultSearchURL}
		e.logger.Info("no urls given, scraping default search", "url", urls[0])
	}

	start := time.Now()
	e.logger.Info("starting run", "urls", len(urls), "max_concurrent", e.cfg.Scrape.MaxConcurrent)

	results, runErr := e.pipe.Run(ctx, urls)

	// Final pass: one upsert of everything collected so rows scattered over
	// incremental appends end up merged.
	var all []types.Record
	for _, res := range results {
		all = append(all, res.Records...)
	}
	if len(all) > 0 {
		if err := e.sink.UpsertMany(ctx, all); err != nil {
			e.logger.Warn("final reconciliation failed", "error", err)
		}
	}

	stats := e.pipe.Stats()
	e.logger.Info("run complete",
		"duration", time.Since(start).Round(time.Millisecond).String(),
		"urls", stats.Total,
		"listings", stats.Success,
		"failed", stats.Failed,
		"blocked", stats.Blocked,
		"skipped", stats.Skipped,
	)
	if e.pool != nil {
		poolStats := e.pool.Stats()
		e.logger.Info("proxy pool", "active", poolStats.Active, "total", poolStats.Total)
	}
	if e.sqlStore != nil {
		if n, err := e.sqlStore.CountListings(ctx); err == nil {
			e.logger.Info("sql mirror", "listings", n)
		}
	}

	if runErr != nil {
		e.logger.Warn("run interrupted", "error", runErr)
	}
	return runErr
}

// Stats exposes the pipeline counters, for callers that want the summary
// programmatically.
func (e *Engine) Stats() pipeline.Stats {
	return e.pipe.Stats()
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				if err == nil {
					err = cerr
				} else {
					err = errors.Join(err, cerr)
				}
			}
		}
	})
	return err
}

// deepScrapeTargets lists stored listing URLs still missing deep data,
// preferring the CSV and falling back to the SQL mirror when the CSV has
// nothing.
func (e *Engine) deepScrapeTargets(ctx context.Context) ([]string, error) {
	urls, err := e.csv.MissingDeepURLs()
	if err != nil {
		return nil, fmt.Errorf("scan csv for deep re-scrape: %w", err)
	}
	if len(urls) == 0 && e.sqlStore != nil {
		urls, err = e.sqlStore.MissingDeepURLs(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan sql mirror for deep re-scrape: %w", err)
		}
	}
	return urls, nil
}

// sessionLauncher adapts the concrete browser launcher to the pipeline's
// Launcher interface.
type sessionLauncher struct {
	launcher *browser.Launcher
}

func (l sessionLauncher) Acquire(ctx context.Context, spec browser.SessionSpec) (pipeline.Session, error) {
	sess, err := l.launcher.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
