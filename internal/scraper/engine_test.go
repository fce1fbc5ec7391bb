package scraper

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/storage"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

func testEngineConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Compliance.CacheDir = filepath.Join(t.TempDir(), "robots")
	cfg.DB.DSN = ""
	return cfg
}

func TestNewEngineDefaults(t *testing.T) {
	engine, err := NewEngine(testEngineConfig(t))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	if engine.pool != nil {
		t.Fatal("expected no proxy pool when proxies are disabled")
	}
	if engine.sqlStore != nil {
		t.Fatal("expected no sql mirror without a dsn")
	}
	if engine.csv == nil {
		t.Fatal("expected csv store")
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestNewEngineRejectsBadLogLevel(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.Logging.Level = "verbose"
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for unsupported log level, got nil")
	}
}

func TestBuildLogger(t *testing.T) {
	logger, err := buildLogger(config.LoggingConfig{Level: "debug", Structured: true})
	if err != nil {
		t.Fatalf("buildLogger returned error: %v", err)
	}
	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("expected JSON handler, got %T", logger.Handler())
	}

	logger, err = buildLogger(config.LoggingConfig{Level: ""})
	if err != nil {
		t.Fatalf("empty level should default to info: %v", err)
	}
	if _, ok := logger.Handler().(*slog.TextHandler); !ok {
		t.Fatalf("expected text handler, got %T", logger.Handler())
	}

	if _, err := buildLogger(config.LoggingConfig{Level: "verbose"}); err == nil {
		t.Fatal("expected error for unsupported level, got nil")
	}
}

func TestDeepScrapeTargets(t *testing.T) {
	cfg := testEngineConfig(t)

	seed, err := storage.NewIncrementalWriter(cfg.Output.Dir, cfg.Output.File, nil)
	if err != nil {
		t.Fatalf("seed writer: %v", err)
	}
	err = seed.AppendPage(context.Background(), []types.Record{
		{
			types.FieldURL:            "https://example.com/imovel/id-1/",
			types.FieldFullAddress:    "Rua A, 1",
			types.FieldAdvertiserName: "Corretora Sul",
		},
		{types.FieldURL: "https://example.com/imovel/id-2/", types.FieldTitle: "Casa B"},
		{types.FieldURL: "https://example.com/imovel/id-3/", types.FieldTitle: "Casa C"},
	})
	if err != nil {
		t.Fatalf("seed append: %v", err)
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	defer engine.Close()

	got, err := engine.deepScrapeTargets(context.Background())
	if err != nil {
		t.Fatalf("deepScrapeTargets returned error: %v", err)
	}
	want := []string{"https://example.com/imovel/id-2/", "https://example.com/imovel/id-3/"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRunDeepOnlyWithEmptyStore(t *testing.T) {
	engine, err := NewEngine(testEngineConfig(t))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	if err := engine.Run(context.Background(), RunOptions{DeepOnly: true}); err != nil {
		t.Fatalf("deep-only run on empty store should succeed, got %v", err)
	}
}
