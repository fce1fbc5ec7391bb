package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fingerprint"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/proxy"
)

// Session is one configured browser instance. It applies the fingerprint
// profile (viewport, timezone, locale, headers, init script) before the
// first navigation and answers proxy auth challenges when the endpoint
// carries credentials.
type Session struct {
	launcher    *Launcher
	spec        SessionSpec
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration

	closeOnce sync.Once
}

func newSession(parent context.Context, l *Launcher, spec SessionSpec) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocatorOptions(l.cfg, spec)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	timeout := l.cfg.NavigationTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Session{
		launcher:    l,
		spec:        spec,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		timeout:     timeout,
	}

	if err := s.configure(); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) configure() error {
	actions := []chromedp.Action{network.Enable()}

	if s.spec.Proxy != nil && s.spec.Proxy.HasCredentials() {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
		s.listenForAuthChallenges()
	}

	p := s.spec.Profile
	if p.ViewportWidth > 0 && p.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(p.ViewportWidth), int64(p.ViewportHeight)))
	}
	if p.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if headers := p.Headers(); len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}
	if script := p.InitScript(); script != "" {
		actions = append(actions, addInitScript(script))
	}

	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("configure browser session: %w", err)
	}
	return nil
}

// listenForAuthChallenges answers proxy 407 challenges with the endpoint's
// credentials. Chrome has no flag for authenticated proxies, so the fetch
// domain intercepts requests instead.
func (s *Session) listenForAuthChallenges() {
	username := s.spec.Proxy.Username
	password := s.spec.Proxy.Password

	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(s.ctx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(s.ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		}
	})
}

func addInitScript(source string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	})
}

// Navigate loads the URL and waits for the document to become interactive.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("navigate URL is empty")
	}
	err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// HTML returns the current outer HTML of the document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

// Evaluate runs a JavaScript expression. A nil out discards the result.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Location reports the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// run executes chromedp actions on the session's browser context, bounded
// by the navigation timeout and the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Proxy returns the endpoint this session routes through, or nil.
func (s *Session) Proxy() *proxy.Endpoint {
	return s.spec.Proxy
}

// Profile returns the fingerprint profile the session presents.
func (s *Session) Profile() fingerprint.Profile {
	return s.spec.Profile
}

// Close shuts the browser down and releases the launcher slot. Safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		<-s.launcher.semaphore
	})
	return nil
}
