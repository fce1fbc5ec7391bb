package proxy

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

// Proxy type and protocol values understood by the pool.
const (
	TypeResidential = "residential"
	TypeMobile      = "mobile"
	TypeDatacenter  = "datacenter"
	TypeRotating    = "rotating"

	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSOCKS5 = "socks5"
)

// Spec declares a proxy endpoint to add to the pool.
type Spec struct {
	Host     string
	Port     int
	Username string
	Password string
	Type     string
	Protocol string
}

// Endpoint is one upstream proxy together with its health counters. The
// identity fields are immutable after Add; the counters are owned by the
// pool and only move under its lock.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	Type     string
	Protocol string

	successCount int
	failureCount int
	active       bool
	lastUsed     time.Time
}

// ServerURL renders the endpoint as protocol://host:port, the form browser
// and transport layers expect.
func (e *Endpoint) ServerURL() string {
	return fmt.Sprintf("%s://%s:%d", e.Protocol, e.Host, e.Port)
}

// HasCredentials reports whether the endpoint requires authentication.
func (e *Endpoint) HasCredentials() bool {
	return e.Username != ""
}

func (e *Endpoint) successRate() float64 {
	total := e.successCount + e.failureCount
	if total == 0 {
		return 1.0
	}
	return float64(e.successCount) / float64(total)
}

// Pool rotates proxy endpoints across scrape attempts. Every mutation of an
// endpoint's health state happens under the pool's single mutex; no I/O is
// ever performed while it is held.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	index     int

	strategy    string
	maxFailures int
	cooldown    time.Duration
	logger      *slog.Logger
}

// New constructs an empty pool from configuration.
func New(cfg config.ProxyConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Pool{
		strategy:    strings.ToLower(strings.TrimSpace(cfg.RotationStrategy)),
		maxFailures: maxFailures,
		cooldown:    cfg.Cooldown.Duration,
		logger:      logger.With("component", "proxy_pool"),
	}
}

// Add registers an endpoint with zeroed counters in the active state.
func (p *Pool) Add(spec Spec) *Endpoint {
	ep := &Endpoint{
		Host:     strings.TrimSpace(spec.Host),
		Port:     spec.Port,
		Username: spec.Username,
		Password: spec.Password,
		Type:     strings.ToLower(strings.TrimSpace(spec.Type)),
		Protocol: strings.ToLower(strings.TrimSpace(spec.Protocol)),
		active:   true,
	}
	if ep.Type == "" {
		ep.Type = TypeDatacenter
	}
	if ep.Protocol == "" {
		ep.Protocol = ProtocolHTTP
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, ep)
	p.mu.Unlock()

	p.logger.Debug("proxy added", "server", ep.ServerURL(), "type", ep.Type)
	return ep
}

// AddAll registers a batch of endpoints.
func (p *Pool) AddAll(specs []Spec) {
	for _, spec := range specs {
		p.Add(spec)
	}
}

// Size returns the number of registered endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Get selects the next endpoint according to the rotation strategy,
// optionally restricted to a proxy type. Endpoints that finished their
// cooldown are reactivated with a clean failure count first. Returns nil
// when no endpoint qualifies.
func (p *Pool) Get(preferredType string) *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	candidates := p.activeLocked(now, strings.ToLower(strings.TrimSpace(preferredType)))
	if len(candidates) == 0 {
		return nil
	}

	var chosen *Endpoint
	switch p.strategy {
	case config.StrategyRoundRobin:
		// One cursor shared across all type filters, so alternating filtered
		// and unfiltered calls keep advancing the same rotation.
		chosen = candidates[p.index%len(candidates)]
		p.index++
	case config.StrategyLeastUsed:
		chosen = candidates[0]
		for _, ep := range candidates[1:] {
			if ep.successCount+ep.failureCount < chosen.successCount+chosen.failureCount {
				chosen = ep
			}
		}
	case config.StrategyBestPerformance:
		chosen = candidates[0]
		for _, ep := range candidates[1:] {
			if ep.successRate() > chosen.successRate() {
				chosen = ep
			}
		}
	case config.StrategyRandom:
		chosen = candidates[rand.Intn(len(candidates))]
	default:
		chosen = candidates[rand.Intn(len(candidates))]
	}

	chosen.lastUsed = now
	return chosen
}

func (p *Pool) activeLocked(now time.Time, preferredType string) []*Endpoint {
	for _, ep := range p.endpoints {
		if !ep.active && p.cooldown > 0 && now.Sub(ep.lastUsed) > p.cooldown {
			ep.active = true
			ep.failureCount = 0
			p.logger.Info("proxy reactivated after cooldown", "server", ep.ServerURL())
		}
	}
	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if !ep.active {
			continue
		}
		if preferredType != "" && ep.Type != preferredType {
			continue
		}
		candidates = append(candidates, ep)
	}
	return candidates
}

// MarkSuccess records a successful scrape through the endpoint and restores
// it to the active state.
func (p *Pool) MarkSuccess(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	ep.successCount++
	ep.active = true
	p.mu.Unlock()
}

// MarkFailure records a failed scrape through the endpoint, deactivating it
// once the failure threshold is reached. The cooldown runs from the moment
// of deactivation.
func (p *Pool) MarkFailure(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	ep.failureCount++
	deactivated := false
	if ep.failureCount >= p.maxFailures {
		ep.active = false
		ep.lastUsed = time.Now()
		deactivated = true
	}
	p.mu.Unlock()

	if deactivated {
		p.logger.Warn("proxy deactivated", "server", ep.ServerURL(), "failures", p.maxFailures)
	}
}

// TypeStats aggregates health for one proxy type.
type TypeStats struct {
	Total          int
	Active         int
	AvgSuccessRate float64
}

// Stats is a point-in-time snapshot of pool health.
type Stats struct {
	Total    int
	Active   int
	Inactive int
	ByType   map[string]TypeStats
}

// Stats returns a best-effort snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Total:  len(p.endpoints),
		ByType: make(map[string]TypeStats),
	}
	rateSums := make(map[string]float64)
	for _, ep := range p.endpoints {
		if ep.active {
			stats.Active++
		} else {
			stats.Inactive++
		}
		ts := stats.ByType[ep.Type]
		ts.Total++
		if ep.active {
			ts.Active++
		}
		stats.ByType[ep.Type] = ts
		rateSums[ep.Type] += ep.successRate()
	}
	for proxyType, ts := range stats.ByType {
		if ts.Total > 0 {
			ts.AvgSuccessRate = rateSums[proxyType] / float64(ts.Total)
			stats.ByType[proxyType] = ts
		}
	}
	return stats
}
