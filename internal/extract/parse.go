package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	numberRe       = regexp.MustCompile(`\d+`)
	priceDigitsRe  = regexp.MustCompile(`[\d.]+`)
	monthSuffixRe  = regexp.MustCompile(`(?i)/\s*m[êe]s`)
	areaRe         = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*m²`)
	contentPriceRe = regexp.MustCompile(`R\$\s*([\d.,]+)`)
	floorRe        = regexp.MustCompile(`(?i)(\d+)\s*andar`)
)

// ParsePrice converts Brazilian currency text ("R$ 1.234.567,89") to a
// float. Dots are thousands separators and the comma is the decimal mark.
// With allowSmall the accepted range suits recurring fees (condo, IPTU);
// without it only plausible sale prices pass.
func ParsePrice(text string, allowSmall bool) (float64, bool) {
	if !strings.Contains(text, "R$") {
		return 0, false
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(text, "R$", ""))
	cleaned = monthSuffixRe.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	match := priceDigitsRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}

	if allowSmall {
		if value >= 0 && value <= 10_000_000 {
			return value, true
		}
		return 0, false
	}
	if value >= 10_000 && value <= 1_000_000_000 {
		return value, true
	}
	return 0, false
}

// PriceFromContent scans raw HTML for the first plausible sale price.
func PriceFromContent(content string) (float64, bool) {
	for _, m := range contentPriceRe.FindAllStringSubmatch(content, -1) {
		cleaned := strings.ReplaceAll(m[1], ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
		value, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		if value >= 10_000 && value <= 1_000_000_000 {
			return value, true
		}
	}
	return 0, false
}

// ParseArea extracts a square-meter figure from text like "56 m²".
func ParseArea(text string) (float64, bool) {
	if !strings.Contains(text, "m²") {
		return 0, false
	}
	m := areaRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FirstNumber returns the first integer that appears in text.
func FirstNumber(text string) (int, bool) {
	m := numberRe.FindString(text)
	if m == "" {
		return 0, false
	}
	value, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return value, true
}

// nodeText returns the normalized text content of the first matched node.
func nodeText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	return textContent(sel.Nodes[0])
}

// textContent collects all text under a node and collapses whitespace.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeWhitespace(sb.String())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
