package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/browser"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/extract"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fingerprint"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/proxy"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// Gate filters URLs and spaces requests per domain.
type Gate interface {
	IsPublicData(url string) bool
	CanFetch(ctx context.Context, url, userAgent string) bool
	WaitForRateLimit(ctx context.Context, url string, minDelay time.Duration) error
}

// ProxySource hands out proxy endpoints and records their outcomes.
type ProxySource interface {
	Get(preferredType string) *proxy.Endpoint
	MarkSuccess(ep *proxy.Endpoint)
	MarkFailure(ep *proxy.Endpoint)
}

// Fingerprints supplies a fresh browser identity per session.
type Fingerprints interface {
	Generate() fingerprint.Profile
}

// Session is one live browser the extractor can drive.
type Session interface {
	extract.Page
	Proxy() *proxy.Endpoint
	Close() error
}

// Launcher opens configured browser sessions.
type Launcher interface {
	Acquire(ctx context.Context, spec browser.SessionSpec) (Session, error)
}

// Extractor pulls listing data out of loaded pages.
type Extractor interface {
	TotalPages(ctx context.Context, page extract.Page, searchURL string) (int, error)
	SearchPage(ctx context.Context, page extract.Page, pageURL string) ([]types.Record, error)
	Listing(ctx context.Context, page extract.Page, listingURL string) (types.Record, error)
}

// Sink persists records as the scrape produces them.
type Sink interface {
	AppendPage(ctx context.Context, records []types.Record) error
	UpsertOne(ctx context.Context, rec types.Record) error
	UpsertMany(ctx context.Context, records []types.Record) error
}

// Media downloads a record's listing photos.
type Media interface {
	SaveListingImages(ctx context.Context, rec types.Record) (int, error)
}

// Deps bundles the pipeline's injected collaborators. Proxies and Media are
// optional; the rest are required.
type Deps struct {
	Gate         Gate
	Proxies      ProxySource
	Fingerprints Fingerprints
	Launcher     Launcher
	Extractor    Extractor
	Sink         Sink
	Media        Media
}

// Stats counts per-URL outcomes for a run. Success counts listings, not
// URLs: a search URL contributes one success per listing it produced.
type Stats struct {
	Total   int
	Success int
	Failed  int
	Blocked int
	Skipped int
}

// Result is the outcome of one submitted URL.
type Result struct {
	URL     string
	Records []types.Record
	Err     error
}

// Pipeline drives the scrape: per-URL compliance checks, retries with fresh
// browser identities, paginated search extraction, the sequential deep pass,
// and persistence through the configured sink.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New constructs a pipeline. The required collaborators must all be present.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("pipeline requires a compliance gate")
	case deps.Fingerprints == nil:
		return nil, errors.New("pipeline requires a fingerprint generator")
	case deps.Launcher == nil:
		return nil, errors.New("pipeline requires a session launcher")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline requires an extractor")
	case deps.Sink == nil:
		return nil, errors.New("pipeline requires a record sink")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "pipeline"),
	}, nil
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run scrapes every URL with bounded concurrency and returns per-URL results
// in completion order.
func (p *Pipeline) Run(ctx context.Context, urls []string) ([]Result, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	p.update(func(s *Stats) { s.Total += len(urls) })

	workers := p.cfg.Scrape.MaxConcurrent
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	results := make(chan Result, len(urls))

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				p.update(func(s *Stats) { s.Failed++ })
				results <- Result{URL: target, Err: err}
				return
			}
			defer sem.Release(1)
			results <- p.process(ctx, target)
		}(u)
	}
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(urls))
	for res := range results {
		out = append(out, res)
	}
	return out, ctx.Err()
}

// process runs the full per-URL state machine: compliance, rate limiting,
// then up to 1+MaxRetries attempts with a fresh session and identity each.
func (p *Pipeline) process(ctx context.Context, target string) (res Result) {
	res.URL = target
	defer func() {
		if r := recover(); r != nil {
			p.update(func(s *Stats) { s.Failed++ })
			res.Err = fmt.Errorf("panic scraping %s: %v", target, r)
			p.logger.Error("recovered panic", "url", target, "panic", r)
		}
	}()

	if !p.deps.Gate.IsPublicData(target) || !p.deps.Gate.CanFetch(ctx, target, p.cfg.Compliance.UserAgent) {
		p.update(func(s *Stats) { s.Skipped++ })
		p.logger.Warn("url skipped by compliance", "url", target)
		return res
	}
	if err := p.deps.Gate.WaitForRateLimit(ctx, target, p.cfg.Pacing.MinPageDelay.Duration); err != nil {
		p.update(func(s *Stats) { s.Failed++ })
		res.Err = fmt.Errorf("rate limit wait: %w", err)
		return res
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		records, err := p.attempt(ctx, target)
		if err == nil {
			p.update(func(s *Stats) { s.Success += len(records) })
			res.Records = records
			return res
		}
		lastErr = err

		if isBlockedErr(err) {
			// The next attempt generates a new fingerprint and draws a new
			// proxy, so rotation needs no extra work here.
			p.update(func(s *Stats) { s.Blocked++ })
			p.logger.Warn("blocking response detected", "url", target, "attempt", attempt+1, "error", err)
		} else {
			p.logger.Warn("scrape attempt failed", "url", target, "attempt", attempt+1, "error", err)
		}

		if attempt < p.cfg.Retry.MaxRetries {
			delay := backoffDelay(p.cfg.Retry, attempt)
			p.logger.Info("retrying", "url", target, "next_attempt", attempt+2, "delay", delay.String())
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = p.cfg.Retry.MaxRetries
			case <-time.After(delay):
			}
		}
	}

	p.update(func(s *Stats) { s.Failed++ })
	res.Err = fmt.Errorf("scrape %s: %w", target, lastErr)
	return res
}

// attempt opens one session and scrapes the URL as either a search or a
// single listing. The session closes unconditionally; its proxy is scored by
// the outcome.
func (p *Pipeline) attempt(ctx context.Context, target string) (records []types.Record, err error) {
	var ep *proxy.Endpoint
	if p.deps.Proxies != nil {
		ep = p.deps.Proxies.Get(p.cfg.Proxy.PreferredType)
	}

	sess, err := p.deps.Launcher.Acquire(ctx, browser.SessionSpec{
		Profile: p.deps.Fingerprints.Generate(),
		Proxy:   ep,
	})
	if err != nil {
		if ep != nil {
			p.deps.Proxies.MarkFailure(ep)
		}
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Close()

	if p.isSearchURL(target) {
		records, err = p.scrapeSearch(ctx, sess, target)
	} else {
		records, err = p.scrapeListing(ctx, sess, target)
	}

	if ep != nil {
		if err != nil {
			p.deps.Proxies.MarkFailure(ep)
		} else {
			p.deps.Proxies.MarkSuccess(ep)
		}
	}
	return records, err
}

// scrapeSearch walks the result pages collecting card records, appending each
// page to the sink, then deep-scrapes every collected listing in sequence on
// the same session.
func (p *Pipeline) scrapeSearch(ctx context.Context, sess Session, searchURL string) ([]types.Record, error) {
	detected, err := p.deps.Extractor.TotalPages(ctx, sess, searchURL)
	if err != nil {
		return nil, err
	}
	total := detected
	if max := p.cfg.Scrape.MaxPages; max > 0 && detected > max {
		total = max
		p.logger.Info("limiting pagination", "detected", detected, "max_pages", max)
	}

	var all []types.Record
	if page, ok := extract.PageFromURL(searchURL); ok {
		// The caller asked for one specific page; scrape it as given.
		p.logger.Info("scraping specific page", "url", searchURL, "page", page)
		records, err := p.scrapeResultsPage(ctx, sess, searchURL, page)
		if err != nil {
			return nil, err
		}
		all = records
	} else {
		for page := 1; page <= total; page++ {
			if err := ctx.Err(); err != nil {
				return all, err
			}
			pageURL := extract.BuildPageURL(searchURL, page)
			p.logger.Info("scraping results page", "page", page, "total", total, "url", pageURL)
			records, err := p.scrapeResultsPage(ctx, sess, pageURL, page)
			if err != nil {
				p.logger.Warn("results page failed", "url", pageURL, "error", err)
				continue
			}
			all = append(all, records...)
		}
	}

	if err := p.deepScrape(ctx, sess, all); err != nil {
		return all, err
	}
	return all, nil
}

// scrapeResultsPage extracts one page of cards and appends them to the sink.
func (p *Pipeline) scrapeResultsPage(ctx context.Context, sess Session, pageURL string, page int) ([]types.Record, error) {
	records, err := p.deps.Extractor.SearchPage(ctx, sess, pageURL)
	if err != nil {
		return nil, err
	}
	p.logger.Info("results page scraped", "page", page, "listings", len(records))
	if len(records) > 0 {
		if err := p.deps.Sink.AppendPage(ctx, records); err != nil {
			p.logger.Error("append page failed", "page", page, "error", err)
		}
	}
	return records, nil
}

// deepScrape visits each collected listing, merges the full page data over
// the card data, saves the record, and paces between visits. A listing whose
// deep extraction fails keeps its card data and is still saved and paced.
func (p *Pipeline) deepScrape(ctx context.Context, sess Session, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	p.logger.Info("starting deep scrape", "listings", len(records))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		listingURL := rec.URL()
		if listingURL == "" {
			p.logger.Warn("listing without url, skipping deep scrape", "index", i+1)
			continue
		}

		p.logger.Info("deep scraping listing", "index", i+1, "count", len(records), "url", listingURL)
		deep, err := p.deps.Extractor.Listing(ctx, sess, listingURL)
		if err != nil {
			p.logger.Warn("deep scrape failed, keeping card data", "url", listingURL, "error", err)
		} else {
			rec.Merge(deep)
		}

		p.saveListing(ctx, rec)

		if i < len(records)-1 {
			if err := p.listingPause(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// scrapeListing handles a URL pointing straight at one listing page.
func (p *Pipeline) scrapeListing(ctx context.Context, sess Session, listingURL string) ([]types.Record, error) {
	rec, err := p.deps.Extractor.Listing(ctx, sess, listingURL)
	if err != nil {
		return nil, err
	}
	p.saveListing(ctx, rec)
	return []types.Record{rec}, nil
}

// saveListing downloads the record's images first so the saved row carries
// the local paths, then upserts it. Persistence problems are logged, not
// fatal: the record still rides out through the run results.
func (p *Pipeline) saveListing(ctx context.Context, rec types.Record) {
	if p.deps.Media != nil {
		if _, err := p.deps.Media.SaveListingImages(ctx, rec); err != nil {
			p.logger.Warn("image download failed", "url", rec.URL(), "error", err)
		}
	}
	if err := p.deps.Sink.UpsertOne(ctx, rec); err != nil {
		p.logger.Error("save listing failed", "url", rec.URL(), "error", err)
	}
}

// listingPause sleeps a random interval between deep visits.
func (p *Pipeline) listingPause(ctx context.Context) error {
	delay := randomDelay(p.cfg.Pacing.MinListingDelay.Duration, p.cfg.Pacing.MaxListingDelay.Duration)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (p *Pipeline) isSearchURL(target string) bool {
	lower := strings.ToLower(target)
	for _, indicator := range p.cfg.Scrape.SearchIndicators {
		if indicator != "" && strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func (p *Pipeline) update(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// isBlockedErr spots responses that indicate the scraper was detected.
func isBlockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "403") || strings.Contains(msg, "429")
}

func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	base := cfg.Delay.Duration
	if base <= 0 {
		return 0
	}
	factor := cfg.Backoff
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
