package compliance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

const maxRobotsBytes = 512 * 1024

// URL substrings that suggest authenticated or account-scoped pages.
var privateIndicators = []string{"/login", "/auth", "/account", "/profile", "/dashboard", "/admin"}

// Gate evaluates robots.txt rules with memory and disk caching, filters
// URLs that look private, and enforces per-domain request spacing.
type Gate struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	cacheDir  string
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]robotsEntry

	rlMu    sync.Mutex
	domains map[string]*domainState
}

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// NewGate constructs a compliance gate from configuration.
func NewGate(cfg config.ComplianceConfig, client *http.Client, logger *slog.Logger) *Gate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "compliance_gate")

	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = time.Hour
	}

	cacheDir := strings.TrimSpace(cfg.CacheDir)
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logger.Warn("robots cache directory unavailable, disk cache disabled", "dir", cacheDir, "error", err)
			cacheDir = ""
		}
	}

	return &Gate{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.RespectRobots,
		cacheDir:  cacheDir,
		logger:    logger,
		cache:     make(map[string]robotsEntry),
		domains:   make(map[string]*domainState),
	}
}

// IsPublicData reports whether the URL looks like publicly available data.
// URLs whose path suggests authentication or account pages are rejected.
// Advisory only.
func (g *Gate) IsPublicData(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, indicator := range privateIndicators {
		if strings.Contains(lower, indicator) {
			g.logger.Warn("url may reference private data", "url", rawURL, "indicator", indicator)
			return false
		}
	}
	return true
}

// CanFetch reports whether robots.txt permits the given agent to fetch the
// URL. Fails open when the robots source is unreachable or unparsable.
func (g *Gate) CanFetch(ctx context.Context, rawURL, userAgent string) bool {
	if !g.respect {
		return true
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return true
	}
	if userAgent == "" {
		userAgent = g.userAgent
	}

	rules, err := g.rules(ctx, u)
	if err != nil {
		// Fail-open on robots errors (common industry practice).
		g.logger.Debug("robots unavailable, allowing access", "url", rawURL, "error", err)
		return true
	}

	group := rules.FindGroup(userAgent)
	if group == nil {
		group = rules.FindGroup("*")
		if group == nil {
			return true
		}
	}

	allowed := group.Test(robotsPath(u))
	if !allowed {
		g.logger.Warn("robots.txt disallows access", "url", rawURL, "user_agent", userAgent)
	}
	return allowed
}

// CrawlDelay returns the robots-declared crawl delay for the URL's domain,
// or zero when absent, disabled, or unreachable.
func (g *Gate) CrawlDelay(ctx context.Context, rawURL, userAgent string) time.Duration {
	if !g.respect {
		return 0
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return 0
	}
	if userAgent == "" {
		userAgent = g.userAgent
	}

	rules, err := g.rules(ctx, u)
	if err != nil {
		return 0
	}

	group := rules.FindGroup(userAgent)
	if group == nil {
		group = rules.FindGroup("*")
	}
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (g *Gate) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)
	origin := target.Scheme + "://" + target.Host

	g.mu.RLock()
	entry, ok := g.cache[host]
	if ok && time.Since(entry.fetched) < g.ttl {
		g.mu.RUnlock()
		return entry.rules, nil
	}
	g.mu.RUnlock()

	if data, fetched, ok := g.loadFromDisk(origin); ok {
		g.mu.Lock()
		g.cache[host] = robotsEntry{fetched: fetched, rules: data}
		g.mu.Unlock()
		return data, nil
	}

	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	g.storeToDisk(origin, body)

	g.mu.Lock()
	g.cache[host] = robotsEntry{fetched: time.Now(), rules: data}
	g.mu.Unlock()

	return data, nil
}

func (g *Gate) loadFromDisk(origin string) (*robotstxt.RobotsData, time.Time, bool) {
	if g.cacheDir == "" {
		return nil, time.Time{}, false
	}

	path := g.cachePath(origin)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	if time.Since(info.ModTime()) >= g.ttl {
		return nil, time.Time{}, false
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, info.ModTime(), true
}

func (g *Gate) storeToDisk(origin string, body []byte) {
	if g.cacheDir == "" {
		return
	}
	path := g.cachePath(origin)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		g.logger.Warn("failed to cache robots.txt on disk", "path", path, "error", err)
	}
}

// cachePath builds one file name per domain, eg.
// "https_www.example.com_robots.txt".
func (g *Gate) cachePath(origin string) string {
	name := strings.NewReplacer("://", "_", "/", "_").Replace(origin) + "_robots.txt"
	return filepath.Join(g.cacheDir, name)
}

// Purge evicts cached robots rules for a host.
func (g *Gate) Purge(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	g.mu.Lock()
	delete(g.cache, host)
	g.mu.Unlock()
}

func robotsPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
