package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

const (
	maxScrollRounds   = 5
	scrollStagnantMax = 2
	scrollSettle      = 50 * time.Millisecond
)

const countCardsScript = `document.querySelectorAll('li[data-cy="rp-property-cd"]').length`

// Page is the minimal rendered-page surface the extractor drives. A browser
// session implements it; tests substitute canned HTML.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string, out any) error
	Location(ctx context.Context) (string, error)
}

// Extractor turns rendered pages into records. It owns the page-level
// pacing: every search page and listing visit is padded to a randomized
// duration so the site never sees machine cadence.
type Extractor struct {
	pacing config.PacingConfig
	logger *slog.Logger
}

func NewExtractor(pacing config.PacingConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		pacing: pacing,
		logger: logger.With("component", "extract"),
	}
}

// TotalPages navigates to a search URL and reports how many result pages it
// advertises.
func (e *Extractor) TotalPages(ctx context.Context, page Page, searchURL string) (int, error) {
	if err := page.Navigate(ctx, searchURL); err != nil {
		return 0, fmt.Errorf("open search page: %w", err)
	}
	doc, err := e.document(ctx, page)
	if err != nil {
		return 0, err
	}
	return TotalPages(doc), nil
}

// SearchPage scrapes one page of search results: navigate, scroll until the
// card list stops growing, then read the basic field set off every card.
func (e *Extractor) SearchPage(ctx context.Context, page Page, pageURL string) ([]types.Record, error) {
	start := time.Now()
	if err := page.Navigate(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("open results page: %w", err)
	}
	e.scrollToLoadCards(ctx, page)
	doc, err := e.document(ctx, page)
	if err != nil {
		return nil, err
	}
	records := SearchCards(doc)
	e.logger.Debug("search page scraped", "url", pageURL, "cards", len(records))
	e.pace(ctx, start)
	return records, nil
}

// Listing visits one listing page and extracts the full field set, deep
// fields layered over the basic ones.
func (e *Extractor) Listing(ctx context.Context, page Page, listingURL string) (types.Record, error) {
	start := time.Now()
	if err := page.Navigate(ctx, listingURL); err != nil {
		return nil, fmt.Errorf("open listing page: %w", err)
	}
	doc, err := e.document(ctx, page)
	if err != nil {
		return nil, err
	}
	rec := BasicListing(doc, listingURL)
	rec.Merge(DeepListing(doc))
	e.logger.Debug("listing scraped", "url", listingURL, "fields", len(rec))
	e.pace(ctx, start)
	return rec, nil
}

func (e *Extractor) document(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// scrollToLoadCards nudges the infinite-scroll card list, stopping once the
// count stagnates twice or the rounds run out. Scrolling is best effort; a
// script error just means we extract what already rendered.
func (e *Extractor) scrollToLoadCards(ctx context.Context, page Page) {
	last, stagnant := 0, 0
	for round := 0; round < maxScrollRounds; round++ {
		var count int
		if err := page.Evaluate(ctx, countCardsScript, &count); err != nil {
			e.logger.Debug("card count failed", "error", err)
			return
		}
		if count == last {
			stagnant++
			if stagnant >= scrollStagnantMax {
				return
			}
		} else {
			stagnant = 0
		}
		last = count
		step := fmt.Sprintf("window.scrollBy(0, %d)", 500+rand.Intn(301))
		if err := page.Evaluate(ctx, step, nil); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(scrollSettle):
		}
	}
}

// pace pads the elapsed visit time up to a random target in
// [MinPageDelay, MaxPageDelay]. Pages that took longer than the target are
// not delayed further.
func (e *Extractor) pace(ctx context.Context, start time.Time) {
	lo := e.pacing.MinPageDelay.Duration
	hi := e.pacing.MaxPageDelay.Duration
	if hi <= 0 || hi < lo {
		return
	}
	target := lo
	if hi > lo {
		target += time.Duration(rand.Int63n(int64(hi - lo)))
	}
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}
	e.logger.Debug("pacing visit", "sleep", remaining.Round(time.Millisecond))
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}
