package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field names shared by the extractor, the pipeline, and the tabular store.
// Basic fields come from search-result cards; the remainder only appear after
// a deep visit to the listing page itself.
const (
	FieldURL           = "url"
	FieldTitle         = "title"
	FieldPrice         = "price"
	FieldLocation      = "location"
	FieldPropertyType  = "property_type"
	FieldArea          = "area"
	FieldBedrooms      = "bedrooms"
	FieldBathrooms     = "bathrooms"
	FieldParkingSpaces = "parking_spaces"
	FieldImages        = "images"
	FieldImageCount    = "image_count"
	FieldDescription   = "description"
	FieldAmenities     = "amenities"

	FieldSalePrice       = "sale_price"
	FieldCondoFee        = "condo_fee"
	FieldIPTU            = "iptu"
	FieldSuites          = "suites"
	FieldFloorLevel      = "floor_level"
	FieldFullAddress     = "full_address"
	FieldFullDescription = "full_description"

	FieldAdvertiserName       = "advertiser_name"
	FieldAdvertiserCreci      = "advertiser_creci"
	FieldAdvertiserPremium    = "advertiser_is_premium"
	FieldAdvertiserProperties = "advertiser_properties_count"
	FieldAdvertiserRating     = "advertiser_rating"
	FieldAdvertiserRatings    = "advertiser_rating_count"
	FieldAdvertiserSince      = "advertiser_since_date"
	FieldAdvertiserCode       = "advertiser_code"
	FieldZapCode              = "zap_code"

	FieldCreatedDate  = "created_date"
	FieldUpdatedInfo  = "updated_info"
	FieldPhonePartial = "phone_partial"
	FieldHasWhatsApp  = "has_whatsapp"

	FieldImagesLocal      = "images_local"
	FieldImagesLocalCount = "images_local_count"
)

// DeepIndicators lists the fields that only a deep listing visit populates.
// A stored row with fewer than two of these filled has not been deep-scraped.
var DeepIndicators = []string{
	FieldFullAddress,
	FieldFullDescription,
	FieldAdvertiserName,
	FieldAdvertiserCode,
	FieldZapCode,
	FieldPhonePartial,
	FieldHasWhatsApp,
	FieldIPTU,
	FieldCondoFee,
	FieldSuites,
	FieldFloorLevel,
}

// Record is one scraped listing. Keys are the Field constants above, but the
// extractor may add site-specific keys (amenity flags and the like) at any
// time; the store derives its columns from whatever keys show up.
type Record map[string]any

// NewRecord creates a record carrying only its listing URL.
func NewRecord(url string) Record {
	return Record{FieldURL: url}
}

// URL returns the listing URL, or "" when the record has none.
func (r Record) URL() string {
	if r == nil {
		return ""
	}
	if v, ok := r[FieldURL].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every non-nil value from overlay into r, overwriting existing
// keys. Deep extraction results are merged over basic card data this way so
// a failed deep field never erases a value the card already provided.
func (r Record) Merge(overlay Record) {
	if r == nil {
		return
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		r[k] = v
	}
}

// Fields returns the record's keys in sorted order.
func (r Record) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Filled reports whether the named field carries a meaningful value. Empty
// strings, explicit nulls, and false booleans do not count.
func (r Record) Filled(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "none" && s != "null" && s != "false"
	case bool:
		return t
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// NeedsDeepScrape reports whether the record still lacks deep listing data,
// meaning fewer than two deep-indicator fields are filled.
func (r Record) NeedsDeepScrape() bool {
	filled := 0
	for _, key := range DeepIndicators {
		if r.Filled(key) {
			filled++
			if filled >= 2 {
				return false
			}
		}
	}
	return true
}

// FieldString renders a record value for tabular storage. Lists collapse to
// comma-separated strings; nil renders as the empty null marker.
func FieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, FieldString(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
