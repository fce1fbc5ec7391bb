package storage

import (
	"context"
	"encoding/csv"
	"os"
	"reflect"
	"testing"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

func newTestWriter(t *testing.T) *IncrementalWriter {
	t.Helper()
	w, err := NewIncrementalWriter(t.TempDir(), "listings.csv", nil)
	if err != nil {
		t.Fatalf("NewIncrementalWriter returned error: %v", err)
	}
	return w
}

func readRawCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestAppendPageCreatesSortedHeader(t *testing.T) {
	w := newTestWriter(t)

	first := types.NewRecord("https://example.com/imovel/id-1/")
	first[types.FieldTitle] = "Apartamento A"
	first[types.FieldPrice] = float64(450000)
	second := types.NewRecord("https://example.com/imovel/id-2/")
	second[types.FieldArea] = 72.5

	if err := w.AppendPage(context.Background(), []types.Record{first, second}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	rows := readRawCSV(t, w.Path())
	wantHeader := []string{"area", "price", "title", "url"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Fatalf("expected header %v, got %v", wantHeader, rows[0])
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 csv rows, got %d", len(rows))
	}
	if !reflect.DeepEqual(rows[1], []string{"", "450000", "Apartamento A", "https://example.com/imovel/id-1/"}) {
		t.Fatalf("unexpected first row: %v", rows[1])
	}
	if !reflect.DeepEqual(rows[2], []string{"72.5", "", "", "https://example.com/imovel/id-2/"}) {
		t.Fatalf("unexpected second row: %v", rows[2])
	}
}

func TestAppendPageAppendsWhenFieldsAreKnown(t *testing.T) {
	w := newTestWriter(t)

	first := types.NewRecord("https://example.com/imovel/id-1/")
	first[types.FieldTitle] = "Apartamento A"
	if err := w.AppendPage(context.Background(), []types.Record{first}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	second := types.NewRecord("https://example.com/imovel/id-2/")
	if err := w.AppendPage(context.Background(), []types.Record{second}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	rows := readRawCSV(t, w.Path())
	if len(rows) != 3 {
		t.Fatalf("expected 3 csv rows, got %d", len(rows))
	}
	if !reflect.DeepEqual(rows[2], []string{"", "https://example.com/imovel/id-2/"}) {
		t.Fatalf("unexpected appended row: %v", rows[2])
	}
}

func TestAppendPageWidensHeaderForNewFields(t *testing.T) {
	w := newTestWriter(t)

	first := types.NewRecord("https://example.com/imovel/id-1/")
	first[types.FieldTitle] = "Apartamento A"
	if err := w.AppendPage(context.Background(), []types.Record{first}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	second := types.NewRecord("https://example.com/imovel/id-2/")
	second[types.FieldPrice] = float64(320000)
	if err := w.AppendPage(context.Background(), []types.Record{second}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	rows := readRawCSV(t, w.Path())
	wantHeader := []string{"price", "title", "url"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Fatalf("expected widened header %v, got %v", wantHeader, rows[0])
	}
	if !reflect.DeepEqual(rows[1], []string{"", "Apartamento A", "https://example.com/imovel/id-1/"}) {
		t.Fatalf("existing row not padded to new header: %v", rows[1])
	}
	if !reflect.DeepEqual(rows[2], []string{"320000", "", "https://example.com/imovel/id-2/"}) {
		t.Fatalf("unexpected new row: %v", rows[2])
	}
}

func TestUpsertOneUpdatesMatchingRow(t *testing.T) {
	w := newTestWriter(t)

	basic := types.NewRecord("https://example.com/imovel/id-1/")
	basic[types.FieldTitle] = "Apartamento A"
	basic[types.FieldPrice] = float64(450000)
	if err := w.AppendPage(context.Background(), []types.Record{basic}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	deep := types.NewRecord("https://example.com/imovel/id-1/")
	deep[types.FieldSalePrice] = float64(455000)
	deep[types.FieldAmenities] = []string{"Piscina", "Academia"}
	if err := w.UpsertOne(context.Background(), deep); err != nil {
		t.Fatalf("UpsertOne returned error: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(records))
	}
	rec := records[0]
	if rec[types.FieldTitle] != "Apartamento A" {
		t.Fatalf("expected original title preserved, got %q", rec[types.FieldTitle])
	}
	if rec[types.FieldSalePrice] != "455000" {
		t.Fatalf("expected sale price merged in, got %q", rec[types.FieldSalePrice])
	}
	if rec[types.FieldAmenities] != "Piscina, Academia" {
		t.Fatalf("expected amenities joined with commas, got %q", rec[types.FieldAmenities])
	}
}

func TestUpsertOneAppendsUnknownURL(t *testing.T) {
	w := newTestWriter(t)

	first := types.NewRecord("https://example.com/imovel/id-1/")
	if err := w.AppendPage(context.Background(), []types.Record{first}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}
	fresh := types.NewRecord("https://example.com/imovel/id-2/")
	fresh[types.FieldTitle] = "Casa B"
	if err := w.UpsertOne(context.Background(), fresh); err != nil {
		t.Fatalf("UpsertOne returned error: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(records))
	}
	if records[1].URL() != "https://example.com/imovel/id-2/" {
		t.Fatalf("expected new url appended last, got %q", records[1].URL())
	}
}

func TestUpsertOneRejectsRecordWithoutURL(t *testing.T) {
	w := newTestWriter(t)
	if err := w.UpsertOne(context.Background(), types.Record{types.FieldTitle: "sem url"}); err == nil {
		t.Fatal("expected error for record without url")
	}
	if err := w.UpsertOne(context.Background(), nil); err != nil {
		t.Fatalf("expected nil record to be ignored, got error: %v", err)
	}
}

func TestUpsertManyKeepsFileOrder(t *testing.T) {
	w := newTestWriter(t)

	a := types.NewRecord("https://example.com/imovel/id-1/")
	b := types.NewRecord("https://example.com/imovel/id-2/")
	if err := w.AppendPage(context.Background(), []types.Record{a, b}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	update := types.NewRecord("https://example.com/imovel/id-2/")
	update[types.FieldTitle] = "Atualizado"
	added := types.NewRecord("https://example.com/imovel/id-3/")
	if err := w.UpsertMany(context.Background(), []types.Record{update, added}); err != nil {
		t.Fatalf("UpsertMany returned error: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	gotURLs := make([]string, 0, len(records))
	for _, rec := range records {
		gotURLs = append(gotURLs, rec.URL())
	}
	wantURLs := []string{
		"https://example.com/imovel/id-1/",
		"https://example.com/imovel/id-2/",
		"https://example.com/imovel/id-3/",
	}
	if !reflect.DeepEqual(gotURLs, wantURLs) {
		t.Fatalf("expected row order %v, got %v", wantURLs, gotURLs)
	}
	if records[1][types.FieldTitle] != "Atualizado" {
		t.Fatalf("expected second row updated, got %q", records[1][types.FieldTitle])
	}
}

func TestMissingDeepURLs(t *testing.T) {
	w := newTestWriter(t)

	deep := types.NewRecord("https://example.com/imovel/id-1/")
	deep[types.FieldFullAddress] = "Rua Exemplo, 100"
	deep[types.FieldAdvertiserName] = "Imobiliária Exemplo"

	shallow := types.NewRecord("https://example.com/imovel/id-2/")
	shallow[types.FieldTitle] = "Casa B"

	// One filled indicator is not enough, and a false boolean round-tripped
	// through the csv as "false" does not count as filled.
	partial := types.NewRecord("https://example.com/imovel/id-3/")
	partial[types.FieldPhonePartial] = "(11) 9999-12"
	partial[types.FieldHasWhatsApp] = false

	if err := w.AppendPage(context.Background(), []types.Record{deep, shallow, partial}); err != nil {
		t.Fatalf("AppendPage returned error: %v", err)
	}

	urls, err := w.MissingDeepURLs()
	if err != nil {
		t.Fatalf("MissingDeepURLs returned error: %v", err)
	}
	want := []string{
		"https://example.com/imovel/id-2/",
		"https://example.com/imovel/id-3/",
	}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("expected missing urls %v, got %v", want, urls)
	}
}

func TestReadAllOnMissingFile(t *testing.T) {
	w := newTestWriter(t)
	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for missing file, got %d", len(records))
	}
}
