package storage

import (
	"regexp"
	"strings"
)

var (
	listingIDRe  = regexp.MustCompile(`id-(\d+)`)
	unsafePathRe = regexp.MustCompile(`[^\w\-.]`)
)

// ListingID derives a stable directory name for a listing URL. Portal URLs
// carry a numeric id segment ("...-id-2782534017/"), which wins when present;
// otherwise the last path segment is sanitised for filesystem use.
func ListingID(url string) string {
	if url == "" {
		return "unknown"
	}
	if m := listingIDRe.FindStringSubmatch(url); m != nil {
		return "listing_" + m[1]
	}
	segment := strings.TrimRight(url, "/")
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	segment, _, _ = strings.Cut(segment, "?")
	segment = unsafePathRe.ReplaceAllString(segment, "_")
	if len(segment) > 50 {
		segment = segment[:50]
	}
	if segment == "" {
		return "unknown"
	}
	return segment
}

// imageExtension picks a filename extension for a downloaded image from its
// URL, defaulting to jpg for anything unrecognised.
func imageExtension(url string) string {
	ext := url
	if dot := strings.LastIndex(url, "."); dot >= 0 {
		ext = url[dot+1:]
	}
	ext, _, _ = strings.Cut(ext, "?")
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return ext
	}
	return "jpg"
}
