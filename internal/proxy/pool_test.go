package proxy

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func poolWith(strategy string, maxFailures int, cooldown time.Duration) *Pool {
	return New(config.ProxyConfig{
		RotationStrategy: strategy,
		MaxFailures:      maxFailures,
		Cooldown:         config.DurationFrom(cooldown),
	}, testLogger())
}

func TestGetEmptyPoolReturnsNil(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 3, time.Minute)
	if ep := pool.Get(""); ep != nil {
		t.Fatalf("expected nil from empty pool, got %v", ep)
	}
}

func TestRoundRobinCyclesFairly(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 3, time.Minute)
	pool.Add(Spec{Host: "p1.example.com", Port: 8080})
	pool.Add(Spec{Host: "p2.example.com", Port: 8080})
	pool.Add(Spec{Host: "p3.example.com", Port: 8080})

	var first []string
	for i := 0; i < 3; i++ {
		ep := pool.Get("")
		if ep == nil {
			t.Fatal("unexpected nil endpoint")
		}
		first = append(first, ep.Host)
	}
	seen := map[string]bool{}
	for _, host := range first {
		seen[host] = true
	}
	if len(seen) != 3 {
		t.Fatalf("first cycle should visit all endpoints once, got %v", first)
	}
	for i := 0; i < 3; i++ {
		ep := pool.Get("")
		if ep.Host != first[i] {
			t.Fatalf("second cycle diverged at %d: got %s, want %s", i, ep.Host, first[i])
		}
	}
}

func TestMarkFailureDeactivatesAtThreshold(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 3, time.Hour)
	ep := pool.Add(Spec{Host: "p1.example.com", Port: 8080})

	pool.MarkFailure(ep)
	pool.MarkFailure(ep)
	if got := pool.Get(""); got == nil {
		t.Fatal("endpoint should stay active below the failure threshold")
	}

	pool.MarkFailure(ep)
	if got := pool.Get(""); got != nil {
		t.Fatalf("endpoint should be deactivated at the threshold, got %v", got)
	}

	stats := pool.Stats()
	if stats.Inactive != 1 || stats.Active != 0 {
		t.Fatalf("stats after deactivation = %+v", stats)
	}
}

func TestCooldownReactivationResetsFailures(t *testing.T) {
	cooldown := time.Minute
	pool := poolWith(config.StrategyRoundRobin, 2, cooldown)
	ep := pool.Add(Spec{Host: "p1.example.com", Port: 8080})

	pool.MarkFailure(ep)
	pool.MarkFailure(ep)
	if got := pool.Get(""); got != nil {
		t.Fatal("endpoint should be inactive after hitting the threshold")
	}

	// Push its last use beyond the cooldown window.
	pool.mu.Lock()
	ep.lastUsed = time.Now().Add(-cooldown - time.Second)
	pool.mu.Unlock()

	got := pool.Get("")
	if got == nil {
		t.Fatal("endpoint should be reactivated after its cooldown")
	}
	pool.mu.Lock()
	failures, active := got.failureCount, got.active
	pool.mu.Unlock()
	if failures != 0 {
		t.Fatalf("reactivation should reset the failure count, got %d", failures)
	}
	if !active {
		t.Fatal("reactivated endpoint should be marked active")
	}
}

func TestMarkSuccessReactivates(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 1, time.Hour)
	ep := pool.Add(Spec{Host: "p1.example.com", Port: 8080})

	pool.MarkFailure(ep)
	if got := pool.Get(""); got != nil {
		t.Fatal("endpoint should be inactive")
	}
	pool.MarkSuccess(ep)
	if got := pool.Get(""); got == nil {
		t.Fatal("a success should reactivate the endpoint")
	}
}

func TestGetFiltersByType(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 3, time.Minute)
	pool.Add(Spec{Host: "dc.example.com", Port: 8080, Type: TypeDatacenter})
	residential := pool.Add(Spec{Host: "res.example.com", Port: 8080, Type: TypeResidential})

	for i := 0; i < 4; i++ {
		ep := pool.Get(TypeResidential)
		if ep != residential {
			t.Fatalf("type filter returned %v", ep)
		}
	}
	if ep := pool.Get(TypeMobile); ep != nil {
		t.Fatalf("no mobile endpoints registered, got %v", ep)
	}
}

func TestLeastUsedPicksColdestEndpoint(t *testing.T) {
	pool := poolWith(config.StrategyLeastUsed, 5, time.Minute)
	busy := pool.Add(Spec{Host: "busy.example.com", Port: 8080})
	cold := pool.Add(Spec{Host: "cold.example.com", Port: 8080})

	pool.MarkSuccess(busy)
	pool.MarkSuccess(busy)
	pool.MarkFailure(busy)

	if ep := pool.Get(""); ep != cold {
		t.Fatalf("least_used should pick the untouched endpoint, got %s", ep.Host)
	}
}

func TestBestPerformanceTreatsFreshAsPerfect(t *testing.T) {
	pool := poolWith(config.StrategyBestPerformance, 5, time.Minute)
	seasoned := pool.Add(Spec{Host: "seasoned.example.com", Port: 8080})
	fresh := pool.Add(Spec{Host: "fresh.example.com", Port: 8080})

	pool.MarkSuccess(seasoned)
	pool.MarkFailure(seasoned)

	// A fresh endpoint has no attempts and therefore a 1.0 success rate,
	// beating the seasoned endpoint's 0.5.
	if ep := pool.Get(""); ep != fresh {
		t.Fatalf("best_performance should pick the fresh endpoint, got %s", ep.Host)
	}
}

func TestUnknownStrategyStillSelects(t *testing.T) {
	pool := poolWith("fastest", 3, time.Minute)
	pool.Add(Spec{Host: "p1.example.com", Port: 8080})
	if ep := pool.Get(""); ep == nil {
		t.Fatal("unknown strategies should fall back to random selection")
	}
}

func TestStatsSnapshot(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 1, time.Hour)
	pool.Add(Spec{Host: "dc1.example.com", Port: 8080, Type: TypeDatacenter})
	dc2 := pool.Add(Spec{Host: "dc2.example.com", Port: 8080, Type: TypeDatacenter})
	pool.Add(Spec{Host: "res.example.com", Port: 8080, Type: TypeResidential})

	pool.MarkFailure(dc2)

	stats := pool.Stats()
	if stats.Total != 3 || stats.Active != 2 || stats.Inactive != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	dc := stats.ByType[TypeDatacenter]
	if dc.Total != 2 || dc.Active != 1 {
		t.Fatalf("unexpected datacenter stats: %+v", dc)
	}
	// dc1 has no attempts (1.0), dc2 failed once (0.0).
	if dc.AvgSuccessRate != 0.5 {
		t.Fatalf("datacenter avg success rate = %v, want 0.5", dc.AvgSuccessRate)
	}
	res := stats.ByType[TypeResidential]
	if res.AvgSuccessRate != 1.0 {
		t.Fatalf("fresh residential rate = %v, want 1.0", res.AvgSuccessRate)
	}
}

func TestDefaultsAppliedOnAdd(t *testing.T) {
	pool := poolWith(config.StrategyRoundRobin, 3, time.Minute)
	ep := pool.Add(Spec{Host: "p1.example.com", Port: 3128})
	if ep.Type != TypeDatacenter {
		t.Errorf("default type = %q, want datacenter", ep.Type)
	}
	if ep.Protocol != ProtocolHTTP {
		t.Errorf("default protocol = %q, want http", ep.Protocol)
	}
	if got := ep.ServerURL(); got != "http://p1.example.com:3128" {
		t.Errorf("ServerURL() = %q", got)
	}
}
