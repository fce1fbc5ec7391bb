package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// NormalizeListingURL makes a card href absolute.
func NormalizeListingURL(href string) string {
	href = strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(href, "/"):
		return siteOrigin + href
	case href != "" && !strings.HasPrefix(href, "http"):
		return siteOrigin + "/" + href
	}
	return href
}

// CleanListingURL drops every query parameter except id.
func CleanListingURL(href string) string {
	base, query, ok := strings.Cut(href, "?")
	if !ok {
		return href
	}
	for _, param := range strings.Split(query, "&") {
		if strings.HasPrefix(param, "id=") {
			return base + "?" + param
		}
	}
	return base
}

func normalizeImageURL(src string) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return siteOrigin + src
	}
	return src
}

// cleanImageURL strips resize parameters so the stored URL points at the
// original asset.
func cleanImageURL(src string) string {
	if strings.Contains(src, "?") && strings.Contains(src, "dimension=") {
		base, _, _ := strings.Cut(src, "?")
		return base
	}
	return src
}

// SearchCards extracts one basic record per property card in a search
// results document. Cards without a listing link are skipped.
func SearchCards(doc *goquery.Document) []types.Record {
	var records []types.Record
	doc.Find(selPropertyCard).Each(func(_ int, card *goquery.Selection) {
		if rec := cardRecord(card); rec != nil {
			records = append(records, rec)
		}
	})
	return records
}

func cardRecord(card *goquery.Selection) types.Record {
	href, ok := card.Find(`a[href*="` + listingPathPrefix + `"]`).First().Attr("href")
	if !ok || !strings.Contains(href, listingPathPrefix) {
		return nil
	}
	rec := types.NewRecord(CleanListingURL(NormalizeListingURL(href)))

	if title := cardTitle(card); title != "" {
		rec[types.FieldTitle] = title
	}
	if price, ok := cardPrice(card); ok {
		rec[types.FieldPrice] = price
	}
	if loc := cardLocation(card); loc != "" {
		rec[types.FieldLocation] = loc
	}
	if area, ok := ParseArea(nodeText(card.Find(selCardArea).First())); ok {
		rec[types.FieldArea] = area
	}
	if n, ok := FirstNumber(nodeText(card.Find(selCardBedrooms).First())); ok {
		rec[types.FieldBedrooms] = n
	}
	if n, ok := FirstNumber(nodeText(card.Find(selCardBathrooms).First())); ok {
		rec[types.FieldBathrooms] = n
	}
	if n, ok := FirstNumber(nodeText(card.Find(selCardParking).First())); ok {
		rec[types.FieldParkingSpaces] = n
	}
	if img := cardImage(card); img != "" {
		rec[types.FieldImages] = []string{img}
	}
	return rec
}

// cardTitle keeps the part before " em ": the location element reads like
// "Apartamento para alugar em Pinheiros", property first, place second.
func cardTitle(card *goquery.Selection) string {
	text := nodeText(card.Find(selCardLocation).First())
	if text == "" {
		return ""
	}
	if idx := strings.Index(text, " em "); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func cardPrice(card *goquery.Selection) (float64, bool) {
	sel := card.Find(selCardPrice + " p.text-2-25").First()
	if sel.Length() == 0 {
		sel = card.Find(selCardPrice + " p").First()
	}
	return ParsePrice(nodeText(sel), false)
}

func cardLocation(card *goquery.Selection) string {
	var parts []string
	if text := nodeText(card.Find(selCardLocation).First()); text != "" {
		if idx := strings.LastIndex(text, " em "); idx >= 0 {
			parts = append(parts, strings.TrimSpace(text[idx+4:]))
		}
	}
	if street := nodeText(card.Find(selCardStreet).First()); street != "" {
		parts = append(parts, street)
	}
	return strings.Join(parts, ", ")
}

func cardImage(card *goquery.Selection) string {
	sel := card.Find(selCardImage + " img").First()
	if sel.Length() == 0 {
		sel = card.Find(`img[src*="resizedimgs.zapimoveis.com.br"]`).First()
	}
	src, ok := sel.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return ""
	}
	return cleanImageURL(normalizeImageURL(strings.TrimSpace(src)))
}
