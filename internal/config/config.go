package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the scraper.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Retry       RetryConfig       `yaml:"retry"`
	Pacing      PacingConfig      `yaml:"pacing"`
	Scrape      ScrapeConfig      `yaml:"scrape"`
	Output      OutputConfig      `yaml:"output"`
	DB          SQLConfig         `yaml:"db"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BrowserConfig controls the headless Chrome sessions.
type BrowserConfig struct {
	Headless          bool     `yaml:"headless"`
	NavigationTimeout Duration `yaml:"navigation_timeout"`
	MaxSessions       int      `yaml:"max_sessions"`
	ExecPath          string   `yaml:"exec_path"`
}

// ProxyConfig controls the rotating proxy pool.
type ProxyConfig struct {
	Enabled          bool     `yaml:"enabled"`
	RotationStrategy string   `yaml:"rotation_strategy"`
	PreferredType    string   `yaml:"preferred_type"`
	MaxFailures      int      `yaml:"max_failures"`
	Cooldown         Duration `yaml:"cooldown"`
	File             string   `yaml:"file"`
}

// FingerprintConfig selects the locale region for generated browser profiles.
type FingerprintConfig struct {
	Region string `yaml:"region"`
}

// ComplianceConfig controls robots.txt handling and per-domain rate limiting.
type ComplianceConfig struct {
	RespectRobots bool     `yaml:"respect_robots"`
	CacheDir      string   `yaml:"cache_dir"`
	CacheTTL      Duration `yaml:"cache_ttl"`
	UserAgent     string   `yaml:"user_agent"`
}

// RetryConfig controls per-URL retry behaviour.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	Delay      Duration `yaml:"delay"`
	Backoff    float64  `yaml:"backoff"`
}

// PacingConfig spaces page visits and listing visits like a human reader.
type PacingConfig struct {
	MinPageDelay    Duration `yaml:"min_page_delay"`
	MaxPageDelay    Duration `yaml:"max_page_delay"`
	MinListingDelay Duration `yaml:"min_listing_delay"`
	MaxListingDelay Duration `yaml:"max_listing_delay"`
}

// ScrapeConfig controls the orchestration of a run.
type ScrapeConfig struct {
	MaxConcurrent    int      `yaml:"max_concurrent"`
	MaxPages         int      `yaml:"max_pages"`
	SearchIndicators []string `yaml:"search_indicators"`
	DefaultSearchURL string   `yaml:"default_search_url"`
	BaseURL          string   `yaml:"base_url"`
}

// OutputConfig controls where results and downloaded media land.
type OutputConfig struct {
	Dir        string   `yaml:"dir"`
	File       string   `yaml:"file"`
	SaveImages bool     `yaml:"save_images"`
	ImagesDir  string   `yaml:"images_dir"`
	MaxImages  int      `yaml:"max_images"`
	ImageDelay Duration `yaml:"image_delay"`
}

// SQLConfig describes an optional relational mirror of the CSV store.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Strategy and proxy type values accepted by proxy.rotation_strategy and
// proxy.preferred_type.
const (
	StrategyRoundRobin      = "round_robin"
	StrategyRandom          = "random"
	StrategyLeastUsed       = "least_used"
	StrategyBestPerformance = "best_performance"
)

// DefaultUserAgent is presented to robots.txt endpoints and plain HTTP
// fetches. Browser sessions carry their own generated user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: DurationFrom(30 * time.Second),
			MaxSessions:       3,
		},
		Proxy: ProxyConfig{
			Enabled:          false,
			RotationStrategy: StrategyRoundRobin,
			MaxFailures:      3,
			Cooldown:         DurationFrom(5 * time.Minute),
		},
		Fingerprint: FingerprintConfig{
			Region: "US",
		},
		Compliance: ComplianceConfig{
			RespectRobots: true,
			CacheDir:      ".cache/robots",
			CacheTTL:      DurationFrom(time.Hour),
			UserAgent:     DefaultUserAgent,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      DurationFrom(2 * time.Second),
			Backoff:    2.0,
		},
		Pacing: PacingConfig{
			MinPageDelay:    DurationFrom(2 * time.Second),
			MaxPageDelay:    DurationFrom(5 * time.Second),
			MinListingDelay: DurationFrom(3 * time.Second),
			MaxListingDelay: DurationFrom(5 * time.Second),
		},
		Scrape: ScrapeConfig{
			MaxConcurrent:    3,
			MaxPages:         0,
			SearchIndicators: []string{"/venda/"},
			DefaultSearchURL: "https://www.zapimoveis.com.br/venda/",
			BaseURL:          "https://www.zapimoveis.com.br",
		},
		Output: OutputConfig{
			Dir:        "data",
			File:       "listings.csv",
			SaveImages: true,
			ImagesDir:  "images",
			MaxImages:  20,
			ImageDelay: DurationFrom(200 * time.Millisecond),
		},
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the scraper configuration.
func (c Config) Validate() error {
	if c.Browser.NavigationTimeout.Duration <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0 (got %s)", c.Browser.NavigationTimeout)
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0 (got %d)", c.Browser.MaxSessions)
	}
	switch c.Proxy.RotationStrategy {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyBestPerformance:
	case "":
		return errors.New("proxy.rotation_strategy must be set")
	default:
		// Unknown strategies degrade to random selection at runtime, but the
		// file is still rejected so typos surface early.
		return fmt.Errorf("unsupported proxy.rotation_strategy %q", c.Proxy.RotationStrategy)
	}
	if c.Proxy.MaxFailures <= 0 {
		return fmt.Errorf("proxy.max_failures must be > 0 (got %d)", c.Proxy.MaxFailures)
	}
	if c.Proxy.Cooldown.Duration < 0 {
		return fmt.Errorf("proxy.cooldown must be >= 0 (got %s)", c.Proxy.Cooldown)
	}
	if strings.TrimSpace(c.Compliance.UserAgent) == "" {
		return errors.New("compliance.user_agent must be set")
	}
	if c.Compliance.CacheTTL.Duration <= 0 {
		return fmt.Errorf("compliance.cache_ttl must be > 0 (got %s)", c.Compliance.CacheTTL)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0 (got %d)", c.Retry.MaxRetries)
	}
	if c.Retry.Backoff < 1 {
		return fmt.Errorf("retry.backoff must be >= 1 (got %g)", c.Retry.Backoff)
	}
	if c.Pacing.MinPageDelay.Duration > c.Pacing.MaxPageDelay.Duration {
		return fmt.Errorf("pacing.min_page_delay %s exceeds pacing.max_page_delay %s",
			c.Pacing.MinPageDelay, c.Pacing.MaxPageDelay)
	}
	if c.Pacing.MinListingDelay.Duration > c.Pacing.MaxListingDelay.Duration {
		return fmt.Errorf("pacing.min_listing_delay %s exceeds pacing.max_listing_delay %s",
			c.Pacing.MinListingDelay, c.Pacing.MaxListingDelay)
	}
	if c.Scrape.MaxConcurrent <= 0 {
		return fmt.Errorf("scrape.max_concurrent must be > 0 (got %d)", c.Scrape.MaxConcurrent)
	}
	if c.Scrape.MaxPages < 0 {
		return fmt.Errorf("scrape.max_pages must be >= 0 (got %d)", c.Scrape.MaxPages)
	}
	if len(c.Scrape.SearchIndicators) == 0 {
		return errors.New("scrape.search_indicators must include at least one path substring")
	}
	if strings.TrimSpace(c.Scrape.BaseURL) == "" {
		return errors.New("scrape.base_url must be set")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir must be set")
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return errors.New("output.file must be set")
	}
	if c.Output.SaveImages {
		if strings.TrimSpace(c.Output.ImagesDir) == "" {
			return errors.New("output.images_dir must be set when output.save_images is true")
		}
		if c.Output.MaxImages <= 0 {
			return fmt.Errorf("output.max_images must be > 0 (got %d)", c.Output.MaxImages)
		}
	}
	return nil
}

func (c *Config) normalise() {
	c.Proxy.RotationStrategy = strings.ToLower(strings.TrimSpace(c.Proxy.RotationStrategy))
	c.Proxy.PreferredType = strings.ToLower(strings.TrimSpace(c.Proxy.PreferredType))
	c.Proxy.File = strings.TrimSpace(c.Proxy.File)
	c.Fingerprint.Region = strings.ToUpper(strings.TrimSpace(c.Fingerprint.Region))
	c.Compliance.UserAgent = strings.TrimSpace(c.Compliance.UserAgent)
	c.Compliance.CacheDir = strings.TrimSpace(c.Compliance.CacheDir)
	c.Scrape.BaseURL = strings.TrimRight(strings.TrimSpace(c.Scrape.BaseURL), "/")
	c.Scrape.DefaultSearchURL = strings.TrimSpace(c.Scrape.DefaultSearchURL)
	c.Output.Dir = strings.TrimSpace(c.Output.Dir)
	c.Output.File = strings.TrimSpace(c.Output.File)
	c.Output.ImagesDir = strings.TrimSpace(c.Output.ImagesDir)
	c.Browser.ExecPath = strings.TrimSpace(c.Browser.ExecPath)

	if len(c.Scrape.SearchIndicators) > 0 {
		c.Scrape.SearchIndicators = dedupeLower(c.Scrape.SearchIndicators)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// MirrorEnabled reports whether the relational mirror should be opened.
func (s SQLConfig) MirrorEnabled() bool {
	return strings.TrimSpace(s.Driver) != "" && strings.TrimSpace(s.DSN) != ""
}
