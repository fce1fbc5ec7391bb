package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

var (
	creciRe       = regexp.MustCompile(`(?i)Creci[:\s]*([\w-]+)`)
	ratingRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)/\d+`)
	ratingCountRe = regexp.MustCompile(`(?i)\((\d+)\s*classificação`)
	propertiesRe  = regexp.MustCompile(`(?i)([\d.]+)\s*imóveis`)
	advCodeRe     = regexp.MustCompile(`(?i)Código do anunciante[:\s]*([\w-]+)`)
	zapCodeRe     = regexp.MustCompile(`(?i)Código no\s*Zap[:\s]*([\d-]+)`)
	createdRe     = regexp.MustCompile(`(?i)criado em\s*([^,]+)`)
	updatedRe     = regexp.MustCompile(`(?i)atualizado\s+(.+)`)
	phoneRe       = regexp.MustCompile(`\([\d]+\)\s*[\d-]+`)
	hiResImageRe  = regexp.MustCompile(`https://[^\s]+dimension=870x707`)
	srcsetURLRe   = regexp.MustCompile(`https://[^\s]+`)
)

// amenityFlags maps the site's itemprop amenity codes to boolean record
// fields. Every deep-scraped record carries all of them, defaulting to false.
var amenityFlags = map[string]string{
	"GYM":              "has_gym",
	"GATED_COMMUNITY":  "has_gated_community",
	"PARTY_HALL":       "has_party_hall",
	"GOURMET_SPACE":    "has_gourmet_space",
	"PLAYGROUND":       "has_playground",
	"SPA":              "has_spa",
	"POOL":             "has_pool",
	"BALCONY":          "has_balcony",
	"GOURMET_BALCONY":  "has_gourmet_balcony",
	"ELEVATOR":         "has_elevator",
	"BARBECUE_GRILL":   "has_barbecue",
	"GARDEN":           "has_garden",
	"DEPOSIT":          "has_deposit",
	"SPORTS_COURT":     "has_sports_court",
	"ALARM_SYSTEM":     "has_alarm_system",
	"INTERCOM":         "has_intercom",
	"CABLE_TV":         "has_cable_tv",
	"KITCHEN":          "has_kitchen",
	"DINNER_ROOM":      "has_dinner_room",
	"AIR_CONDITIONING": "has_air_conditioning",
	"SERVICE_AREA":     "has_service_area",
	"LARGE_WINDOW":     "has_large_window",
	"INTERNET_ACCESS":  "has_internet_access",
	"KITCHEN_CABINETS": "has_kitchen_cabinets",
	"BUILTIN_WARDROBE": "has_builtin_wardrobe",
	"PETS_ALLOWED":     "pets_allowed",
}

// BasicListing extracts the card-level field set from a rendered listing
// page. Fields the page does not expose are simply absent from the record.
func BasicListing(doc *goquery.Document, pageURL string) types.Record {
	rec := types.NewRecord(pageURL)
	if title := listingTitle(doc); title != "" {
		rec[types.FieldTitle] = title
	}
	if price, ok := listingPrice(doc); ok {
		rec[types.FieldPrice] = price
	}
	if loc := listingLocation(doc); loc != "" {
		rec[types.FieldLocation] = loc
	}
	if pt := firstText(doc, `[data-testid="property-type"]`, `[class*="property-type"]`, `[class*="tipo"]`); pt != "" {
		rec[types.FieldPropertyType] = pt
	}
	if area, ok := listingArea(doc); ok {
		rec[types.FieldArea] = area
	}
	if n, ok := listingCount(doc, selCardBedrooms); ok {
		rec[types.FieldBedrooms] = n
	}
	if n, ok := listingCount(doc, selCardBathrooms); ok {
		rec[types.FieldBathrooms] = n
	}
	if n, ok := listingCount(doc, selCardParking); ok {
		rec[types.FieldParkingSpaces] = n
	}
	if imgs := listingImages(doc); len(imgs) > 0 {
		rec[types.FieldImages] = imgs
	}
	if desc := listingDescription(doc); desc != "" {
		rec[types.FieldDescription] = desc
	}
	if am := listingAmenities(doc); len(am) > 0 {
		rec[types.FieldAmenities] = am
	}
	return rec
}

func listingTitle(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := normalizeWhitespace(content); title != "" {
			return title
		}
	}
	for _, sel := range []string{"h1", `[data-testid="title"]`, `[class*="title"]`, `[class*="Title"]`} {
		if title := nodeText(doc.Find(sel).First()); title != "" {
			return title
		}
	}
	// The document title is a last resort; the site's own name means the
	// page carries no listing-specific headline.
	if title := nodeText(doc.Find("title").First()); title != "" && !strings.Contains(title, "Zap Imóveis") {
		return title
	}
	return ""
}

func listingPrice(doc *goquery.Document) (float64, bool) {
	selectors := []string{
		selCardPrice + " p.text-2-25",
		selCardPrice + " p",
		selCardPrice,
		"p.text-2-25.text-neutral-120.font-semibold",
	}
	for _, sel := range selectors {
		if price, ok := ParsePrice(nodeText(doc.Find(sel).First()), false); ok {
			return price, true
		}
	}
	// The headline price often sits in an unclassed <p>; try the first one
	// mentioning R$.
	var candidate string
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if text := nodeText(p); strings.Contains(text, "R$") {
			candidate = text
			return false
		}
		return true
	})
	if price, ok := ParsePrice(candidate, false); ok {
		return price, true
	}
	// Last resort: scan the serialized page for any plausible amount.
	if html, err := doc.Html(); err == nil {
		if price, ok := PriceFromContent(html); ok {
			return price, true
		}
	}
	return 0, false
}

func listingLocation(doc *goquery.Document) string {
	var parts []string
	if text := nodeText(doc.Find(selCardLocation).First()); text != "" {
		parts = append(parts, text)
	}
	if street := nodeText(doc.Find(selCardStreet).First()); street != "" {
		parts = append(parts, street)
	}
	return strings.Join(parts, ", ")
}

func listingArea(doc *goquery.Document) (float64, bool) {
	for _, sel := range []string{selCardArea, selCardArea + " h3"} {
		if area, ok := ParseArea(nodeText(doc.Find(sel).First())); ok {
			return area, true
		}
	}
	return 0, false
}

func listingCount(doc *goquery.Document, base string) (int, bool) {
	for _, sel := range []string{base, base + " h3"} {
		if n, ok := FirstNumber(nodeText(doc.Find(sel).First())); ok {
			return n, true
		}
	}
	return 0, false
}

func listingDescription(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		if desc := normalizeWhitespace(content); desc != "" {
			return desc
		}
	}
	return firstText(doc, `[data-testid="description"]`, `[class*="description"]`, `[class*="descricao"]`)
}

func listingAmenities(doc *goquery.Document) []string {
	var amenities []string
	selectors := []string{
		`[data-testid="amenity"]`,
		`[class*="amenity"]`,
		`[class*="feature"]`,
		`[class*="caracteristica"]`,
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if text := nodeText(el); text != "" {
				amenities = append(amenities, text)
			}
		})
	}
	if len(amenities) > 30 {
		amenities = amenities[:30]
	}
	return amenities
}

func listingImages(doc *goquery.Document) []string {
	var urls []string
	seen := make(map[string]bool)
	selectors := []string{
		selCardImage + " img",
		".olx-core-carousel img",
		`img[src*="resizedimgs.zapimoveis.com.br"]`,
		`img[src*="zapimoveis"]`,
		`img[alt*="Quartos"]`,
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("src")
			if !ok || strings.TrimSpace(src) == "" {
				return
			}
			u := cleanImageURL(normalizeImageURL(strings.TrimSpace(src)))
			if seen[u] {
				return
			}
			seen[u] = true
			urls = append(urls, u)
		})
	}
	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		if content = strings.TrimSpace(content); content != "" && !seen[content] {
			urls = append(urls, content)
		}
	}
	if len(urls) > 20 {
		urls = urls[:20]
	}
	return urls
}

// DeepListing extracts the detail-page field set: price breakdown,
// structured characteristics, advertiser block, codes, dates, contact, and
// the photo carousel. The result overlays a basic record via Merge, so the
// absent fields stay nil and never erase card data.
func DeepListing(doc *goquery.Document) types.Record {
	rec := types.Record{}
	deepPrices(doc, rec)
	deepCharacteristics(doc, rec)
	if addr := firstText(doc, selFullAddress, selAddressAlt); addr != "" {
		rec[types.FieldFullAddress] = addr
	}
	if desc := firstText(doc, selFullDesc, selDescAlt); desc != "" {
		rec[types.FieldFullDescription] = desc
	}
	deepAdvertiser(doc, rec)
	deepCodes(doc, rec)
	deepDates(doc, rec)
	deepContact(doc, rec)
	if imgs := deepImages(doc); len(imgs) > 0 {
		rec[types.FieldImages] = imgs
		rec[types.FieldImageCount] = len(imgs)
	}
	return rec
}

// deepPrices reads the Venda/Condomínio/IPTU breakdown. Fees pass the
// small-value range since a monthly charge can legitimately sit below any
// plausible sale price.
func deepPrices(doc *goquery.Document, rec types.Record) {
	doc.Find(selPriceValues).First().Find(selValueItem).Each(func(_ int, item *goquery.Selection) {
		title := strings.ToLower(nodeText(item.Find(selValueTitle).First()))
		value := nodeText(item.Find(selValueAmount).First())
		if title == "" || value == "" {
			return
		}
		switch {
		case strings.Contains(title, "venda"):
			if v, ok := ParsePrice(value, false); ok {
				rec[types.FieldSalePrice] = v
			}
		case strings.Contains(title, "condomínio"):
			if v, ok := ParsePrice(value, true); ok {
				rec[types.FieldCondoFee] = v
			}
		case strings.Contains(title, "iptu"):
			if v, ok := ParsePrice(value, true); ok {
				rec[types.FieldIPTU] = v
			}
		}
	})
}

func deepCharacteristics(doc *goquery.Document, rec types.Record) {
	for _, field := range amenityFlags {
		rec[field] = false
	}
	container := doc.Find(selAmenitiesBox).First()
	if container.Length() == 0 {
		container = doc.Find(selAmenitiesAlt).First()
	}
	amenities := []string{}
	seen := make(map[string]bool)
	addAmenity := func(text string) {
		if text != "" && !seen[text] {
			seen[text] = true
			amenities = append(amenities, text)
		}
	}
	container.Find(selAmenityItem).Each(func(_ int, item *goquery.Selection) {
		text := nodeText(item.Find(selAmenityText).First())
		if text == "" {
			return
		}
		itemprop, _ := item.Attr("itemprop")
		switch itemprop {
		case "floorSize":
			if area, ok := ParseArea(text); ok {
				rec[types.FieldArea] = area
			}
		case "numberOfRooms":
			if n, ok := FirstNumber(text); ok {
				rec[types.FieldBedrooms] = n
			}
		case "numberOfBathroomsTotal":
			if n, ok := FirstNumber(text); ok {
				rec[types.FieldBathrooms] = n
			}
		case "numberOfParkingSpaces":
			if n, ok := FirstNumber(text); ok {
				rec[types.FieldParkingSpaces] = n
			}
		case "floorLevel":
			if m := floorRe.FindStringSubmatch(text); m != nil {
				n, _ := strconv.Atoi(m[1])
				rec[types.FieldFloorLevel] = n
			} else {
				rec[types.FieldFloorLevel] = text
			}
		case "numberOfSuites":
			if n, ok := FirstNumber(text); ok {
				rec[types.FieldSuites] = n
			}
		case "":
			characteristicFromText(rec, text, addAmenity)
		default:
			if field, ok := amenityFlags[itemprop]; ok {
				rec[field] = true
			}
			addAmenity(text)
		}
	})
	// The structured list replaces whatever the basic pass scraped, even
	// when empty: this container is the authoritative source.
	rec[types.FieldAmenities] = amenities
}

// characteristicFromText classifies an amenity row that carries no itemprop
// by keywords in its visible text.
func characteristicFromText(rec types.Record, text string, addAmenity func(string)) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "m²") && !rec.Filled(types.FieldArea):
		if area, ok := ParseArea(text); ok {
			rec[types.FieldArea] = area
		}
	case strings.Contains(lower, "quarto") && !rec.Filled(types.FieldBedrooms):
		if n, ok := FirstNumber(text); ok {
			rec[types.FieldBedrooms] = n
		}
	case strings.Contains(lower, "banheiro") && !rec.Filled(types.FieldBathrooms):
		if n, ok := FirstNumber(text); ok {
			rec[types.FieldBathrooms] = n
		}
	case strings.Contains(lower, "vaga") && !rec.Filled(types.FieldParkingSpaces):
		if n, ok := FirstNumber(text); ok {
			rec[types.FieldParkingSpaces] = n
		}
	case strings.Contains(lower, "andar") && !rec.Filled(types.FieldFloorLevel):
		if m := floorRe.FindStringSubmatch(text); m != nil {
			n, _ := strconv.Atoi(m[1])
			rec[types.FieldFloorLevel] = n
		} else {
			rec[types.FieldFloorLevel] = text
		}
	case (strings.Contains(lower, "suíte") || strings.Contains(lower, "suite")) && !rec.Filled(types.FieldSuites):
		if n, ok := FirstNumber(text); ok {
			rec[types.FieldSuites] = n
		}
	default:
		addAmenity(text)
	}
}

func deepAdvertiser(doc *goquery.Document, rec types.Record) {
	rec[types.FieldAdvertiserPremium] = false
	if header := doc.Find(selAdvertiser).First(); header.Length() > 0 {
		if name := nodeText(header.Find(selAdvName).First()); name != "" {
			rec[types.FieldAdvertiserName] = name
		}
		rec[types.FieldAdvertiserPremium] = header.Find(selAdvPremium).Length() > 0
		if m := creciRe.FindStringSubmatch(nodeText(header)); m != nil {
			rec[types.FieldAdvertiserCreci] = m[1]
		}
	}
	if text := nodeText(doc.Find(selRatingBox).First().Find(selRatingText).First()); text != "" {
		if m := ratingRe.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				rec[types.FieldAdvertiserRating] = v
			}
		}
		if m := ratingCountRe.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				rec[types.FieldAdvertiserRatings] = n
			}
		}
	}
	if text := nodeText(doc.Find(selPropsBox).First()); text != "" {
		if m := propertiesRe.FindStringSubmatch(text); m != nil {
			// Thousands separators: "1.997 imóveis" is 1997 properties.
			if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ".", "")); err == nil {
				rec[types.FieldAdvertiserProperties] = n
			}
		}
	}
	if text := nodeText(doc.Find(selAdvSince).First()); strings.Contains(strings.ToLower(text), "desde") {
		rec[types.FieldAdvertiserSince] = text
	}
}

func deepCodes(doc *goquery.Document, rec types.Record) {
	text := nodeText(doc.Find(selPropertyCodes).First())
	if text == "" {
		return
	}
	if m := advCodeRe.FindStringSubmatch(text); m != nil {
		rec[types.FieldAdvertiserCode] = m[1]
	}
	if m := zapCodeRe.FindStringSubmatch(text); m != nil {
		rec[types.FieldZapCode] = m[1]
	}
}

func deepDates(doc *goquery.Document, rec types.Record) {
	text := nodeText(doc.Find(selCreatedDate).First())
	if text == "" {
		return
	}
	if m := createdRe.FindStringSubmatch(text); m != nil {
		rec[types.FieldCreatedDate] = strings.TrimSpace(m[1])
	}
	if m := updatedRe.FindStringSubmatch(text); m != nil {
		rec[types.FieldUpdatedInfo] = strings.TrimSpace(m[1])
	}
}

func deepContact(doc *goquery.Document, rec types.Record) {
	rec[types.FieldHasWhatsApp] = doc.Find(selWhatsappBtn).Length() > 0
	if text := nodeText(doc.Find(selInfoPhone).First()); text != "" {
		if m := phoneRe.FindString(text); m != "" {
			rec[types.FieldPhonePartial] = strings.TrimSpace(m)
		}
	}
}

// deepImages walks the photo carousel preferring the 870x707 rendition each
// <source> advertises, falling back to whatever URL the <img> srcset offers.
func deepImages(doc *goquery.Document) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	doc.Find(selCarousel).First().Find(selCarouselItem).Each(func(_ int, item *goquery.Selection) {
		if srcset, ok := item.Find("source").First().Attr("srcset"); ok {
			if m := hiResImageRe.FindString(srcset); m != "" {
				add(m)
				return
			}
		}
		srcset, ok := item.Find(selCarouselImage).First().Attr("srcset")
		if !ok {
			return
		}
		if m := hiResImageRe.FindString(srcset); m != "" {
			add(m)
		} else if m := srcsetURLRe.FindString(srcset); m != "" {
			add(m)
		}
	})
	return urls
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := nodeText(doc.Find(sel).First()); text != "" {
			return text
		}
	}
	return ""
}
