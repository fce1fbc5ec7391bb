package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fetcher"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// ImageFetcher downloads a single image URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// MediaStore downloads listing photos into per-listing directories beneath
// the output directory and records the saved paths on the listing itself.
type MediaStore struct {
	baseDir   string
	imagesDir string
	maxImages int
	delay     time.Duration
	fetch     ImageFetcher
	logger    *slog.Logger
}

// NewMediaStore constructs a filesystem-backed media store rooted at the
// configured output directory.
func NewMediaStore(cfg config.OutputConfig, fetch ImageFetcher, logger *slog.Logger) (*MediaStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("output directory must be provided")
	}
	if fetch == nil {
		return nil, errors.New("image fetcher must be provided")
	}
	imagesDir := strings.TrimSpace(cfg.ImagesDir)
	if imagesDir == "" {
		imagesDir = "images"
	}
	maxImages := cfg.MaxImages
	if maxImages <= 0 {
		maxImages = 20
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, imagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create images directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MediaStore{
		baseDir:   cfg.Dir,
		imagesDir: imagesDir,
		maxImages: maxImages,
		delay:     cfg.ImageDelay.Duration,
		fetch:     fetch,
		logger:    logger.With("component", "media_store"),
	}, nil
}

// SaveListingImages downloads the record's image URLs into a directory named
// after the listing and annotates the record with the saved relative paths.
// Individual download failures are logged and skipped; the count of images
// actually written is returned.
func (s *MediaStore) SaveListingImages(ctx context.Context, rec types.Record) (int, error) {
	if s == nil || rec == nil {
		return 0, nil
	}
	urls := stringList(rec[types.FieldImages])
	if len(urls) == 0 {
		return 0, nil
	}
	if len(urls) > s.maxImages {
		urls = urls[:s.maxImages]
	}

	listingID := ListingID(rec.URL())
	dir := filepath.Join(s.baseDir, s.imagesDir, listingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create listing image directory: %w", err)
	}

	var saved []string
	for i, imageURL := range urls {
		select {
		case <-ctx.Done():
			return len(saved), ctx.Err()
		default:
		}

		name, err := s.downloadImage(ctx, dir, imageURL, i+1)
		if err != nil {
			s.logger.Debug("image download skipped", "listing", listingID, "url", imageURL, "error", err)
		} else {
			saved = append(saved, path.Join(s.imagesDir, listingID, name))
		}

		if i < len(urls)-1 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return len(saved), ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}

	if len(saved) > 0 {
		rec[types.FieldImagesLocal] = saved
		rec[types.FieldImagesLocalCount] = len(saved)
	}
	return len(saved), nil
}

func (s *MediaStore) downloadImage(ctx context.Context, dir, imageURL string, seq int) (string, error) {
	resp, err := s.fetch.Fetch(ctx, imageURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	name := fmt.Sprintf("image_%03d.%s", seq, imageExtension(imageURL))
	if err := os.WriteFile(filepath.Join(dir, name), resp.Body, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return name, nil
}

// stringList normalises a list-valued record field, which holds a string
// slice fresh from extraction but a single comma-joined string when read back
// from the csv store.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		urls := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(types.FieldString(item)); s != "" {
				urls = append(urls, s)
			}
		}
		return urls
	case string:
		var urls []string
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				urls = append(urls, s)
			}
		}
		return urls
	default:
		return nil
	}
}
