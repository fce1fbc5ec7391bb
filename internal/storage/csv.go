package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// DefaultCSVName is the store file used when the configuration names none.
const DefaultCSVName = "scraped_data.csv"

// IncrementalWriter persists records into a single CSV file as the scrape
// progresses. Records carry open-ended field sets, so the header widens as
// new fields appear; widening rewrites the file once so every row always
// matches the header. One writer instance serializes all access to its file.
type IncrementalWriter struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewIncrementalWriter creates the output directory and returns a writer for
// dir/file.
func NewIncrementalWriter(dir, file string, logger *slog.Logger) (*IncrementalWriter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory must be provided")
	}
	if strings.TrimSpace(file) == "" {
		file = DefaultCSVName
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &IncrementalWriter{
		path:   filepath.Join(dir, file),
		logger: logger.With("component", "csv_store"),
	}, nil
}

// Path returns the location of the CSV file.
func (w *IncrementalWriter) Path() string {
	return w.path
}

// AppendPage appends one page of records. When the records introduce fields
// the file has not seen, the existing rows are rewritten padded to the wider
// header first; otherwise this is a pure append.
func (w *IncrementalWriter) AppendPage(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	header, rows, err := w.readFile()
	if err != nil {
		return err
	}

	incoming := fieldSet(records)
	if header == nil {
		header = sortedUnion(nil, incoming)
		rows = nil
	} else if missing := subtract(incoming, header); len(missing) > 0 {
		header = sortedUnion(header, incoming)
	} else {
		// Fast path: every incoming field already has a column.
		return w.appendRows(header, records)
	}

	for _, rec := range records {
		rows = append(rows, recordRow(rec))
	}
	if err := w.writeAll(header, rows); err != nil {
		return err
	}
	w.logger.Debug("csv header widened", "columns", len(header), "rows", len(rows))
	return nil
}

// UpsertOne merges a record into the row with the same url, appending a new
// row when the url is not stored yet.
func (w *IncrementalWriter) UpsertOne(ctx context.Context, rec types.Record) error {
	if rec == nil {
		return nil
	}
	if rec.URL() == "" {
		return errors.New("record has no url")
	}
	return w.upsert(ctx, []types.Record{rec})
}

// UpsertMany merges a batch of records by url in one rewrite.
func (w *IncrementalWriter) UpsertMany(ctx context.Context, records []types.Record) error {
	keyed := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if rec != nil && rec.URL() != "" {
			keyed = append(keyed, rec)
		}
	}
	if len(keyed) == 0 {
		return nil
	}
	return w.upsert(ctx, keyed)
}

func (w *IncrementalWriter) upsert(ctx context.Context, records []types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	header, rows, err := w.readFile()
	if err != nil {
		return err
	}
	header = sortedUnion(header, fieldSet(records))

	index := make(map[string]int, len(rows))
	for i, row := range rows {
		if url := row[types.FieldURL]; url != "" {
			index[url] = i
		}
	}
	for _, rec := range records {
		if i, ok := index[rec.URL()]; ok {
			overlayRow(rows[i], rec)
			continue
		}
		index[rec.URL()] = len(rows)
		rows = append(rows, recordRow(rec))
	}
	return w.writeAll(header, rows)
}

// ReadAll returns every stored row as a record with string-typed values.
func (w *IncrementalWriter) ReadAll() ([]types.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, rows, err := w.readFile()
	if err != nil {
		return nil, err
	}
	records := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(types.Record, len(row))
		for k, v := range row {
			rec[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// MissingDeepURLs returns the urls of stored rows that have not been deep
// scraped yet.
func (w *IncrementalWriter) MissingDeepURLs() ([]string, error) {
	records, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, rec := range records {
		if rec.URL() != "" && rec.NeedsDeepScrape() {
			urls = append(urls, rec.URL())
		}
	}
	return urls, nil
}

// readFile loads the header and all rows. A missing or empty file returns a
// nil header. Short rows read back from older files map to empty values.
func (w *IncrementalWriter) readFile() ([]string, []map[string]string, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []map[string]string
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = fields[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// writeAll replaces the file contents atomically via a temp file rename.
func (w *IncrementalWriter) writeAll(header []string, rows []map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(w.path), filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp csv: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	writeErr := cw.Write(header)
	for _, row := range rows {
		if writeErr != nil {
			break
		}
		writeErr = cw.Write(renderRow(header, row))
	}
	cw.Flush()
	if writeErr == nil {
		writeErr = cw.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("write csv: %w", writeErr)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace csv: %w", err)
	}
	return nil
}

func (w *IncrementalWriter) appendRows(header []string, records []types.Record) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv for append: %w", err)
	}
	cw := csv.NewWriter(f)
	var writeErr error
	for _, rec := range records {
		if writeErr = cw.Write(renderRow(header, recordRow(rec))); writeErr != nil {
			break
		}
	}
	cw.Flush()
	if writeErr == nil {
		writeErr = cw.Error()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("append csv rows: %w", writeErr)
	}
	return nil
}

func recordRow(rec types.Record) map[string]string {
	row := make(map[string]string, len(rec))
	for k, v := range rec {
		row[k] = types.FieldString(v)
	}
	return row
}

func overlayRow(row map[string]string, rec types.Record) {
	for k, v := range rec {
		row[k] = types.FieldString(v)
	}
}

func renderRow(header []string, row map[string]string) []string {
	fields := make([]string, len(header))
	for i, name := range header {
		fields[i] = row[name]
	}
	return fields
}

func fieldSet(records []types.Record) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields
}

func sortedUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, set := range [][]string{a, b} {
		for _, name := range set {
			if !seen[name] {
				seen[name] = true
				union = append(union, name)
			}
		}
	}
	sort.Strings(union)
	return union
}

func subtract(fields, have []string) []string {
	known := make(map[string]bool, len(have))
	for _, name := range have {
		known[name] = true
	}
	var missing []string
	for _, name := range fields {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
