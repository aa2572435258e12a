package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

//go:embed schema.sql
var sqliteSchema string

const upsertListingSQLite = `
INSERT INTO listings (partition, key, url, make, model, price, mileage_km, year, attributes, features, detail_merged, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (partition, key) DO UPDATE SET
    url = excluded.url,
    make = excluded.make,
    model = excluded.model,
    price = excluded.price,
    mileage_km = excluded.mileage_km,
    year = excluded.year,
    attributes = excluded.attributes,
    features = excluded.features,
    detail_merged = excluded.detail_merged,
    scraped_at = excluded.scraped_at`

// SQLite upserts records into a local SQLite database keyed by (partition, key)
// and appends one partition_runs row per result
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Name returns "sqlite"
func (s *SQLite) Name() string { return "sqlite" }

// DB returns the underlying database for queries
func (s *SQLite) DB() *sql.DB { return s.db }

// Write stores the result in one transaction
func (s *SQLite) Write(ctx context.Context, result domain.PartitionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertListingSQLite)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range result.Records {
		row, err := newListingRow(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.Partition, r.Key, r.URL, row.Make, row.Model, row.Price, row.Mileage, row.Year,
			row.Attributes, row.Features, r.DetailMerged, r.ScrapedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Key, err)
		}
	}

	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO partition_runs (partition, started_at, finished_at, records, cards_collected, details_merged, rate_limited, stats)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Partition, result.StartedAt.UTC().Format(time.RFC3339), result.FinishedAt.UTC().Format(time.RFC3339),
		len(result.Records), result.CardsCollected, result.DetailsMerged, result.RateLimited, string(stats),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return tx.Commit()
}

// Close closes the database
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// listingRow holds the promoted columns of a record. Nil pointers are stored as NULL.
type listingRow struct {
	Make       *string
	Model      *string
	Price      *float64
	Mileage    *float64
	Year       *int
	Attributes string
	Features   *string
}

func newListingRow(r *domain.Record) (listingRow, error) {
	var row listingRow
	if v := r.Attrs.Text(domain.FieldMake); v != "" {
		row.Make = &v
	}
	if v := r.Attrs.Text(domain.FieldModel); v != "" {
		row.Model = &v
	}
	if v, ok := r.Attrs.Number(domain.FieldPrice); ok {
		row.Price = &v
	}
	if v, ok := r.Attrs.Number(domain.FieldMileage); ok {
		row.Mileage = &v
	}
	if v, ok := r.Attrs.Int(domain.FieldYear); ok {
		row.Year = &v
	}

	attrs, err := json.Marshal(r.Attrs)
	if err != nil {
		return row, fmt.Errorf("encode attributes of %s: %w", r.Key, err)
	}
	row.Attributes = string(attrs)
	if len(r.Features) > 0 {
		features, err := json.Marshal(r.Features)
		if err != nil {
			return row, fmt.Errorf("encode features of %s: %w", r.Key, err)
		}
		f := string(features)
		row.Features = &f
	}
	return row, nil
}
