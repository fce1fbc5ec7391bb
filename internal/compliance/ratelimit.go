package compliance

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const historyLimit = 100

type domainState struct {
	limiter     *rate.Limiter
	delay       time.Duration
	lastRequest time.Time
	history     []time.Time
}

// DomainStats summarises observed request spacing for one domain.
type DomainStats struct {
	TotalRequests int
	AvgInterval   time.Duration
	MinInterval   time.Duration
	MaxInterval   time.Duration
	CurrentDelay  time.Duration
}

// WaitForRateLimit blocks until the domain of the URL may be requested
// again. The effective spacing is the larger of minDelay and the domain's
// robots crawl-delay. Returns early with an error only when the context is
// cancelled.
func (g *Gate) WaitForRateLimit(ctx context.Context, rawURL string, minDelay time.Duration) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	domain := strings.ToLower(u.Host)
	if domain == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}

	effective := minDelay
	if crawl := g.CrawlDelay(ctx, rawURL, g.userAgent); crawl > effective {
		effective = crawl
	}

	g.rlMu.Lock()
	st, ok := g.domains[domain]
	if !ok {
		st = &domainState{
			limiter: rate.NewLimiter(rate.Every(effective), 1),
			delay:   effective,
		}
		g.domains[domain] = st
	} else if st.delay != effective {
		st.delay = effective
		st.limiter.SetLimit(rate.Every(effective))
	}
	limiter := st.limiter
	g.rlMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	now := time.Now()
	g.rlMu.Lock()
	st.lastRequest = now
	st.history = append(st.history, now)
	if len(st.history) > historyLimit {
		st.history = st.history[len(st.history)-historyLimit:]
	}
	g.rlMu.Unlock()

	return nil
}

// RequestStats reports request spacing statistics. With an empty domain it
// covers every domain seen so far.
func (g *Gate) RequestStats(domain string) map[string]DomainStats {
	g.rlMu.Lock()
	defer g.rlMu.Unlock()

	out := make(map[string]DomainStats)
	for dom, st := range g.domains {
		if domain != "" && dom != strings.ToLower(domain) {
			continue
		}
		if len(st.history) == 0 {
			continue
		}

		stats := DomainStats{
			TotalRequests: len(st.history),
			CurrentDelay:  st.delay,
		}
		if len(st.history) > 1 {
			var sum time.Duration
			minI := time.Duration(-1)
			var maxI time.Duration
			for i := 1; i < len(st.history); i++ {
				interval := st.history[i].Sub(st.history[i-1])
				sum += interval
				if minI < 0 || interval < minI {
					minI = interval
				}
				if interval > maxI {
					maxI = interval
				}
			}
			stats.AvgInterval = sum / time.Duration(len(st.history)-1)
			stats.MinInterval = minI
			stats.MaxInterval = maxI
		}
		out[dom] = stats
	}
	return out
}
