package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/fetcher"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

type fakeImageFetcher struct {
	responses map[string]*fetcher.Response
	calls     []string
}

func (f *fakeImageFetcher) Fetch(_ context.Context, url string) (*fetcher.Response, error) {
	f.calls = append(f.calls, url)
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return &fetcher.Response{StatusCode: 404}, nil
}

func TestListingID(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"numeric id segment", "https://example.com/imovel/venda-apartamento-id-2782534017/", "listing_2782534017"},
		{"last path segment", "https://example.com/imovel/casa-no-centro/", "casa-no-centro"},
		{"query stripped and sanitised", "https://example.com/imovel/casa azul?page=2", "casa_azul"},
		{"empty url", "", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ListingID(tc.url); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestImageExtension(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/img1.png", "png"},
		{"https://cdn.example.com/img2.jpeg?dimension=870x707", "jpeg"},
		{"https://cdn.example.com/img3.PNG", "jpg"},
		{"https://cdn.example.com/no-extension", "jpg"},
		{"https://cdn.example.com/anim.webp", "webp"},
	}
	for _, tc := range cases {
		if got := imageExtension(tc.url); got != tc.want {
			t.Fatalf("imageExtension(%q): expected %q, got %q", tc.url, tc.want, got)
		}
	}
}

func newTestMediaStore(t *testing.T, fetch ImageFetcher, maxImages int) (*MediaStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewMediaStore(config.OutputConfig{
		Dir:       dir,
		ImagesDir: "images",
		MaxImages: maxImages,
	}, fetch, nil)
	if err != nil {
		t.Fatalf("NewMediaStore returned error: %v", err)
	}
	return store, dir
}

func TestSaveListingImagesSkipsFailuresAndKeepsNumbering(t *testing.T) {
	fetch := &fakeImageFetcher{responses: map[string]*fetcher.Response{
		"https://cdn.example.com/img1.png": {StatusCode: 200, Body: []byte("png-bytes")},
		"https://cdn.example.com/img3.jpg": {StatusCode: 200, Body: []byte("jpg-bytes")},
	}}
	store, dir := newTestMediaStore(t, fetch, 20)

	rec := types.NewRecord("https://example.com/imovel/venda-id-123/")
	rec[types.FieldImages] = []string{
		"https://cdn.example.com/img1.png",
		"https://cdn.example.com/img2.png",
		"https://cdn.example.com/img3.jpg",
	}

	saved, err := store.SaveListingImages(context.Background(), rec)
	if err != nil {
		t.Fatalf("SaveListingImages returned error: %v", err)
	}
	if saved != 2 {
		t.Fatalf("expected 2 saved images, got %d", saved)
	}

	wantPaths := []string{
		"images/listing_123/image_001.png",
		"images/listing_123/image_003.jpg",
	}
	if !reflect.DeepEqual(rec[types.FieldImagesLocal], wantPaths) {
		t.Fatalf("expected local paths %v, got %v", wantPaths, rec[types.FieldImagesLocal])
	}
	if rec[types.FieldImagesLocalCount] != 2 {
		t.Fatalf("expected local count 2, got %v", rec[types.FieldImagesLocalCount])
	}

	data, err := os.ReadFile(filepath.Join(dir, "images", "listing_123", "image_001.png"))
	if err != nil {
		t.Fatalf("read saved image: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected image contents: %q", data)
	}
}

func TestSaveListingImagesHonorsMaxImages(t *testing.T) {
	fetch := &fakeImageFetcher{responses: map[string]*fetcher.Response{
		"https://cdn.example.com/img1.jpg": {StatusCode: 200, Body: []byte("a")},
		"https://cdn.example.com/img2.jpg": {StatusCode: 200, Body: []byte("b")},
	}}
	store, _ := newTestMediaStore(t, fetch, 2)

	rec := types.NewRecord("https://example.com/imovel/venda-id-9/")
	rec[types.FieldImages] = []string{
		"https://cdn.example.com/img1.jpg",
		"https://cdn.example.com/img2.jpg",
		"https://cdn.example.com/img3.jpg",
	}

	saved, err := store.SaveListingImages(context.Background(), rec)
	if err != nil {
		t.Fatalf("SaveListingImages returned error: %v", err)
	}
	if saved != 2 {
		t.Fatalf("expected 2 saved images, got %d", saved)
	}
	if len(fetch.calls) != 2 {
		t.Fatalf("expected 2 downloads, got %d", len(fetch.calls))
	}
}

func TestSaveListingImagesFromStoredString(t *testing.T) {
	fetch := &fakeImageFetcher{responses: map[string]*fetcher.Response{
		"https://cdn.example.com/img1.jpg": {StatusCode: 200, Body: []byte("a")},
		"https://cdn.example.com/img2.jpg": {StatusCode: 200, Body: []byte("b")},
	}}
	store, _ := newTestMediaStore(t, fetch, 20)

	// Records read back from the csv store carry images as one joined string.
	rec := types.NewRecord("https://example.com/imovel/venda-id-10/")
	rec[types.FieldImages] = "https://cdn.example.com/img1.jpg, https://cdn.example.com/img2.jpg"

	saved, err := store.SaveListingImages(context.Background(), rec)
	if err != nil {
		t.Fatalf("SaveListingImages returned error: %v", err)
	}
	if saved != 2 {
		t.Fatalf("expected 2 saved images, got %d", saved)
	}
}

func TestSaveListingImagesWithoutImages(t *testing.T) {
	store, _ := newTestMediaStore(t, &fakeImageFetcher{}, 20)

	rec := types.NewRecord("https://example.com/imovel/venda-id-11/")
	saved, err := store.SaveListingImages(context.Background(), rec)
	if err != nil {
		t.Fatalf("SaveListingImages returned error: %v", err)
	}
	if saved != 0 {
		t.Fatalf("expected no saved images, got %d", saved)
	}
	if _, ok := rec[types.FieldImagesLocal]; ok {
		t.Fatal("expected images_local to stay unset")
	}
}
