package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	pageNumberRe = regexp.MustCompile(pageParam + `(\d+)`)
	pageDigitsRe = regexp.MustCompile(`\b(\d+)\b`)
)

var paginationSelectors = []string{
	`[data-cy="pagination"]`,
	".pagination",
	`[class*="pagination"]`,
	`nav[aria-label*="pagination"]`,
	`nav[aria-label*="Pagination"]`,
}

var nextButtonSelectors = []string{
	`a[aria-label*="Próxima"]`,
	`a[aria-label*="próxima"]`,
	`a[aria-label*="Next"]`,
	`a[aria-label*="next"]`,
	`button[aria-label*="Próxima"]`,
	`button[aria-label*="Next"]`,
}

// BuildPageURL points a search URL at the given result page, replacing any
// page parameter already present.
func BuildPageURL(searchURL string, page int) string {
	searchURL = BaseURL(searchURL)
	sep := "?"
	if strings.Contains(searchURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s%d", searchURL, sep, pageParam, page)
}

// PageFromURL reports the page number a URL explicitly requests, if any.
func PageFromURL(url string) (int, bool) {
	if !strings.Contains(url, pageParam) {
		return 0, false
	}
	m := pageNumberRe.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// BaseURL strips the page parameter from a search URL, keeping every other
// query parameter in place.
func BaseURL(searchURL string) string {
	base, query, ok := strings.Cut(searchURL, "?")
	if !ok {
		return searchURL
	}
	var kept []string
	for _, param := range strings.Split(query, "&") {
		if !strings.HasPrefix(param, pageParam) {
			kept = append(kept, param)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

// TotalPages detects how many result pages a search document advertises.
// It reads the numbered pagination links when present, falls back to the
// largest number in the pagination text when only a next button exists, and
// assumes a single page otherwise.
func TotalPages(doc *goquery.Document) int {
	if box := findPagination(doc); box != nil {
		if pages := maxPageFromLinks(box); pages > 1 {
			return pages
		}
	}
	if pages := pagesNearNextButton(doc); pages > 1 {
		return pages
	}
	return 1
}

func findPagination(doc *goquery.Document) *goquery.Selection {
	for _, sel := range paginationSelectors {
		if box := doc.Find(sel).First(); box.Length() > 0 {
			return box
		}
	}
	return nil
}

func maxPageFromLinks(box *goquery.Selection) int {
	maxPage := 1
	box.Find("a, button").Each(func(_ int, link *goquery.Selection) {
		if n, ok := pageFromLink(link); ok && n > maxPage {
			maxPage = n
		}
	})
	return maxPage
}

func pageFromLink(link *goquery.Selection) (int, bool) {
	if n, ok := FirstNumber(nodeText(link)); ok {
		return n, true
	}
	if href, ok := link.Attr("href"); ok && strings.Contains(href, pageParam) {
		if m := pageNumberRe.FindStringSubmatch(href); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
	}
	return 0, false
}

func pagesNearNextButton(doc *goquery.Document) int {
	if !hasNextButton(doc) {
		return 0
	}
	text := nodeText(doc.Find(`[data-cy="pagination"], .pagination, [class*="pagination"]`).First())
	maxPage := 0
	for _, m := range pageDigitsRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxPage {
			maxPage = n
		}
	}
	return maxPage
}

func hasNextButton(doc *goquery.Document) bool {
	for _, sel := range nextButtonSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	// Some layouts label the next control only with visible text or a bare
	// arrow glyph.
	found := false
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := nodeText(a)
		if strings.Contains(strings.ToLower(text), "próxima") || strings.Contains(text, ">") {
			found = true
			return false
		}
		return true
	})
	return found
}
