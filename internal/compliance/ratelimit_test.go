package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

func TestWaitForRateLimitEnforcesMinDelay(t *testing.T) {
	g := testGate(t, config.ComplianceConfig{RespectRobots: false}, nil)
	ctx := context.Background()
	minDelay := 150 * time.Millisecond

	start := time.Now()
	if err := g.WaitForRateLimit(ctx, "https://example.com/page/1", minDelay); err != nil {
		t.Fatalf("first wait returned error: %v", err)
	}
	if err := g.WaitForRateLimit(ctx, "https://example.com/page/2", minDelay); err != nil {
		t.Fatalf("second wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < minDelay {
		t.Fatalf("consecutive waits separated by %v, want at least %v", elapsed, minDelay)
	}
}

func TestWaitForRateLimitIsPerDomain(t *testing.T) {
	g := testGate(t, config.ComplianceConfig{RespectRobots: false}, nil)
	ctx := context.Background()
	minDelay := 300 * time.Millisecond

	if err := g.WaitForRateLimit(ctx, "https://one.example.com/", minDelay); err != nil {
		t.Fatalf("wait returned error: %v", err)
	}

	start := time.Now()
	if err := g.WaitForRateLimit(ctx, "https://two.example.com/", minDelay); err != nil {
		t.Fatalf("wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= minDelay {
		t.Fatalf("fresh domain waited %v, want immediate admission", elapsed)
	}
}

func TestWaitForRateLimitUsesCrawlDelayWhenLarger(t *testing.T) {
	var hits int32
	server := robotsServer(t, "User-agent: *\nCrawl-delay: 0.3\n", &hits)
	defer server.Close()

	cfg := config.ComplianceConfig{
		RespectRobots: true,
		CacheTTL:      config.DurationFrom(time.Hour),
		UserAgent:     "test-bot",
	}
	g := testGate(t, cfg, nil)
	ctx := context.Background()

	start := time.Now()
	if err := g.WaitForRateLimit(ctx, server.URL+"/a", 10*time.Millisecond); err != nil {
		t.Fatalf("first wait returned error: %v", err)
	}
	if err := g.WaitForRateLimit(ctx, server.URL+"/b", 10*time.Millisecond); err != nil {
		t.Fatalf("second wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 280*time.Millisecond {
		t.Fatalf("consecutive waits separated by %v, want crawl-delay spacing (~300ms)", elapsed)
	}
}

func TestWaitForRateLimitHonorsContextCancel(t *testing.T) {
	g := testGate(t, config.ComplianceConfig{RespectRobots: false}, nil)

	if err := g.WaitForRateLimit(context.Background(), "https://example.com/", time.Minute); err != nil {
		t.Fatalf("first wait returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.WaitForRateLimit(ctx, "https://example.com/", time.Minute); err == nil {
		t.Fatal("expected error when context is cancelled during wait")
	}
}

func TestWaitForRateLimitRejectsHostlessURL(t *testing.T) {
	g := testGate(t, config.ComplianceConfig{RespectRobots: false}, nil)
	if err := g.WaitForRateLimit(context.Background(), "/relative/path", time.Millisecond); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestRequestStatsTracksIntervals(t *testing.T) {
	g := testGate(t, config.ComplianceConfig{RespectRobots: false}, nil)
	ctx := context.Background()
	minDelay := 20 * time.Millisecond

	for i := 0; i < 3; i++ {
		if err := g.WaitForRateLimit(ctx, "https://example.com/", minDelay); err != nil {
			t.Fatalf("wait %d returned error: %v", i, err)
		}
	}

	stats := g.RequestStats("example.com")
	ds, ok := stats["example.com"]
	if !ok {
		t.Fatalf("no stats recorded for example.com: %v", stats)
	}
	if ds.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", ds.TotalRequests)
	}
	if ds.CurrentDelay != minDelay {
		t.Fatalf("CurrentDelay = %v, want %v", ds.CurrentDelay, minDelay)
	}
	if ds.MinInterval > ds.AvgInterval || ds.AvgInterval > ds.MaxInterval {
		t.Fatalf("interval ordering broken: min=%v avg=%v max=%v", ds.MinInterval, ds.AvgInterval, ds.MaxInterval)
	}

	all := g.RequestStats("")
	if len(all) != 1 {
		t.Fatalf("RequestStats(\"\") returned %d domains, want 1", len(all))
	}
}
