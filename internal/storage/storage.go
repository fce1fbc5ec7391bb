package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/pkg/types"
)

// RecordSink receives listing records as the scrape produces them.
type RecordSink interface {
	AppendPage(ctx context.Context, records []types.Record) error
	UpsertOne(ctx context.Context, rec types.Record) error
	UpsertMany(ctx context.Context, records []types.Record) error
}

// MultiSink fans records out to every configured sink in order. The csv
// store always comes first so a relational mirror failure never loses the
// primary output.
type MultiSink []RecordSink

// NewMultiSink builds a fan-out over the non-nil sinks.
func NewMultiSink(sinks ...RecordSink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// AppendPage forwards a page of records to every sink.
func (m MultiSink) AppendPage(ctx context.Context, records []types.Record) error {
	for _, s := range m {
		if err := s.AppendPage(ctx, records); err != nil {
			return fmt.Errorf("append page: %w", err)
		}
	}
	return nil
}

// UpsertOne forwards a single record to every sink.
func (m MultiSink) UpsertOne(ctx context.Context, rec types.Record) error {
	for _, s := range m {
		if err := s.UpsertOne(ctx, rec); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
	}
	return nil
}

// UpsertMany forwards a batch of records to every sink.
func (m MultiSink) UpsertMany(ctx context.Context, records []types.Record) error {
	for _, s := range m {
		if err := s.UpsertMany(ctx, records); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	return nil
}

// SQLStore mirrors scraped listings into a relational database keyed by url.
// A handful of hot columns are typed for querying; the complete record rides
// along as JSONB.
type SQLStore struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLStore initialises a SQLStore from configuration.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &SQLStore{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// AppendPage mirrors a page of search results. The table is keyed by url, so
// appending and upserting coincide here.
func (s *SQLStore) AppendPage(ctx context.Context, records []types.Record) error {
	return s.UpsertMany(ctx, records)
}

// UpsertOne mirrors a single listing.
func (s *SQLStore) UpsertOne(ctx context.Context, rec types.Record) error {
	if s == nil || s.db == nil || rec == nil || rec.URL() == "" {
		return nil
	}
	if err := s.withSchemaRetry(ctx, func() error { return s.upsertListing(ctx, rec) }); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// UpsertMany mirrors a batch of listings.
func (s *SQLStore) UpsertMany(ctx context.Context, records []types.Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, rec := range records {
		if err := s.UpsertOne(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// withSchemaRetry reapplies the schema and retries once when the listings
// table has gone missing underneath us.
func (s *SQLStore) withSchemaRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		return op()
	}
	return err
}

func (s *SQLStore) upsertListing(ctx context.Context, rec types.Record) error {
	data, err := json.Marshal(recordRow(rec))
	if err != nil {
		return fmt.Errorf("encode listing data: %w", err)
	}
	// COALESCE keeps previously mirrored values when a later partial save
	// (eg. a deep pass that found nothing new) omits a column, matching the
	// merge semantics of the csv store.
	query := `
        INSERT INTO listings (url, title, price, location, area, bedrooms, bathrooms,
                              parking_spaces, sale_price, condo_fee, iptu, advertiser_name,
                              amenities, images, needs_deep, data, scraped_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
        ON CONFLICT (url) DO UPDATE SET
            title = COALESCE(EXCLUDED.title, listings.title),
            price = COALESCE(EXCLUDED.price, listings.price),
            location = COALESCE(EXCLUDED.location, listings.location),
            area = COALESCE(EXCLUDED.area, listings.area),
            bedrooms = COALESCE(EXCLUDED.bedrooms, listings.bedrooms),
            bathrooms = COALESCE(EXCLUDED.bathrooms, listings.bathrooms),
            parking_spaces = COALESCE(EXCLUDED.parking_spaces, listings.parking_spaces),
            sale_price = COALESCE(EXCLUDED.sale_price, listings.sale_price),
            condo_fee = COALESCE(EXCLUDED.condo_fee, listings.condo_fee),
            iptu = COALESCE(EXCLUDED.iptu, listings.iptu),
            advertiser_name = COALESCE(EXCLUDED.advertiser_name, listings.advertiser_name),
            amenities = COALESCE(EXCLUDED.amenities, listings.amenities),
            images = COALESCE(EXCLUDED.images, listings.images),
            needs_deep = EXCLUDED.needs_deep,
            data = COALESCE(listings.data, '{}'::jsonb) || EXCLUDED.data,
            scraped_at = NOW()
    `
	_, err = s.db.ExecContext(ctx, query,
		rec.URL(),
		textField(rec, types.FieldTitle),
		textField(rec, types.FieldPrice),
		textField(rec, types.FieldLocation),
		textField(rec, types.FieldArea),
		textField(rec, types.FieldBedrooms),
		textField(rec, types.FieldBathrooms),
		textField(rec, types.FieldParkingSpaces),
		textField(rec, types.FieldSalePrice),
		textField(rec, types.FieldCondoFee),
		textField(rec, types.FieldIPTU),
		textField(rec, types.FieldAdvertiserName),
		arrayField(rec, types.FieldAmenities),
		arrayField(rec, types.FieldImages),
		rec.NeedsDeepScrape(),
		data,
	)
	return err
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func textField(rec types.Record, key string) any {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	return types.FieldString(v)
}

func arrayField(rec types.Record, key string) any {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	return pq.Array(stringList(v))
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
		    url TEXT PRIMARY KEY,
		    title TEXT,
		    price TEXT,
		    location TEXT,
		    area TEXT,
		    bedrooms TEXT,
		    bathrooms TEXT,
		    parking_spaces TEXT,
		    sale_price TEXT,
		    condo_fee TEXT,
		    iptu TEXT,
		    advertiser_name TEXT,
		    amenities TEXT[],
		    images TEXT[],
		    needs_deep BOOLEAN NOT NULL DEFAULT TRUE,
		    data JSONB,
		    scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON listings (scraped_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_needs_deep ON listings (needs_deep) WHERE needs_deep`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
