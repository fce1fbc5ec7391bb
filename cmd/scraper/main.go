package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/scraper"
)

// version is stamped by the build.
var version = "dev"

// urlFlags collects repeated -url values.
type urlFlags []string

func (u *urlFlags) String() string { return strings.Join(*u, ",") }

func (u *urlFlags) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("url must not be empty")
	}
	*u = append(*u, value)
	return nil
}

func main() {
	var urls urlFlags
	cfgPath := flag.String("config", "", "Path to YAML configuration file (built-in defaults when empty)")
	flag.Var(&urls, "url", "Search or listing URL to scrape (repeatable)")
	output := flag.String("output", "", "Override the output directory")
	maxPages := flag.Int("max-pages", -1, "Limit search pagination (0 scrapes every page)")
	deepOnly := flag.Bool("deep-only", false, "Re-scrape stored rows that lack deep data instead of searching")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("realestate-scraper " + version)
		return
	}

	// PROXY_n entries and DB_DSN may live in a local .env file.
	_ = godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.Output.Dir = *output
	}
	if *maxPages >= 0 {
		cfg.Scrape.MaxPages = *maxPages
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" && cfg.DB.DSN == "" {
		cfg.DB.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	engine, err := scraper.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise scraper: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx, scraper.RunOptions{URLs: urls, DeepOnly: *deepOnly}); err != nil {
		fmt.Fprintf(os.Stderr, "scraper stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}
