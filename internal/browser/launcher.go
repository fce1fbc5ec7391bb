package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fingerprint"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/proxy"
)

// SessionSpec describes the identity a browser session presents.
type SessionSpec struct {
	Profile fingerprint.Profile
	Proxy   *proxy.Endpoint
}

// Launcher creates browser sessions with bounded concurrency. Slots are
// acquired on session start and released when the session closes.
type Launcher struct {
	cfg       config.BrowserConfig
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewLauncher constructs a launcher from configuration.
func NewLauncher(cfg config.BrowserConfig, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	sessions := cfg.MaxSessions
	if sessions <= 0 {
		sessions = 1
	}
	return &Launcher{
		cfg:       cfg,
		semaphore: make(chan struct{}, sessions),
		logger:    logger.With("component", "browser"),
	}
}

// Acquire blocks until a session slot frees, then launches a configured
// browser session. The session must be closed to release the slot.
func (l *Launcher) Acquire(ctx context.Context, spec SessionSpec) (*Session, error) {
	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess, err := newSession(ctx, l, spec)
	if err != nil {
		<-l.semaphore
		return nil, err
	}
	return sess, nil
}

// ActiveSessions reports how many session slots are currently held.
func (l *Launcher) ActiveSessions() int {
	return len(l.semaphore)
}

// chromeFlags builds the Chrome command-line flag set for one session.
func chromeFlags(cfg config.BrowserConfig, spec SessionSpec) map[string]any {
	headless := cfg.Headless
	if runningInContainer() {
		headless = true
	}

	flags := map[string]any{
		"headless":               headless,
		"disable-gpu":            true,
		"disable-dev-shm-usage":  true,
		"no-sandbox":             true,
		"disable-setuid-sandbox": true,
		"disable-blink-features": "AutomationControlled",
		"disable-infobars":       true,
		"disable-notifications":  true,
		"disable-popup-blocking": true,
	}
	if headless {
		flags["disable-extensions"] = true
	}

	p := spec.Profile
	if p.Locale != "" && p.Language != "" {
		flags["lang"] = p.Locale + "," + p.Language
	}
	if p.ScreenWidth > 0 && p.ScreenHeight > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", p.ScreenWidth, p.ScreenHeight)
	}
	if ua := strings.TrimSpace(p.UserAgent); ua != "" {
		flags["user-agent"] = ua
	}
	if spec.Proxy != nil {
		flags["proxy-server"] = spec.Proxy.ServerURL()
	}
	return flags
}

func allocatorOptions(cfg config.BrowserConfig, spec SessionSpec) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
	)
	for name, value := range chromeFlags(cfg, spec) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if path := strings.TrimSpace(cfg.ExecPath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// runningInContainer reports whether the process runs inside Docker, where
// headed Chrome cannot work.
func runningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return os.Getenv("DOCKER_CONTAINER") == "true"
}
