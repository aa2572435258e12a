package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
    partition     TEXT        NOT NULL,
    key           TEXT        NOT NULL,
    url           TEXT        NOT NULL,
    make          TEXT,
    model         TEXT,
    price         DOUBLE PRECISION,
    mileage_km    DOUBLE PRECISION,
    year          INTEGER,
    attributes    JSONB       NOT NULL,
    features      JSONB,
    detail_merged BOOLEAN     NOT NULL DEFAULT FALSE,
    scraped_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (partition, key)
);
CREATE TABLE IF NOT EXISTS partition_runs (
    id              BIGSERIAL PRIMARY KEY,
    partition       TEXT        NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ NOT NULL,
    records         INTEGER     NOT NULL,
    cards_collected INTEGER     NOT NULL,
    details_merged  INTEGER     NOT NULL,
    rate_limited    BOOLEAN     NOT NULL,
    stats           JSONB       NOT NULL
);`

const upsertListingPostgres = `
INSERT INTO listings (partition, key, url, make, model, price, mileage_km, year, attributes, features, detail_merged, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (partition, key) DO UPDATE SET
    url = EXCLUDED.url,
    make = EXCLUDED.make,
    model = EXCLUDED.model,
    price = EXCLUDED.price,
    mileage_km = EXCLUDED.mileage_km,
    year = EXCLUDED.year,
    attributes = EXCLUDED.attributes,
    features = EXCLUDED.features,
    detail_merged = EXCLUDED.detail_merged,
    scraped_at = EXCLUDED.scraped_at`

const insertRunPostgres = `
INSERT INTO partition_runs (partition, started_at, finished_at, records, cards_collected, details_merged, rate_limited, stats)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// pgxPool is the subset of *pgxpool.Pool the sink uses
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Postgres upserts records into PostgreSQL keyed by (partition, key)
type Postgres struct {
	pool pgxPool
}

// ConnectPostgres opens a pool on dsn, checks it and applies the schema
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", domain.ErrInvalidRequest)
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgres(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool
func NewPostgres(pool pgxPool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Name returns "postgres"
func (s *Postgres) Name() string { return "postgres" }

// Write sends all upserts plus the run row as one batch
func (s *Postgres) Write(ctx context.Context, result domain.PartitionResult) error {
	batch := &pgx.Batch{}
	for _, r := range result.Records {
		row, err := newListingRow(r)
		if err != nil {
			return err
		}
		batch.Queue(upsertListingPostgres,
			r.Partition, r.Key, r.URL, row.Make, row.Model, row.Price, row.Mileage, row.Year,
			row.Attributes, row.Features, r.DetailMerged, r.ScrapedAt,
		)
	}
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	batch.Queue(insertRunPostgres,
		result.Partition, result.StartedAt, result.FinishedAt, len(result.Records),
		result.CardsCollected, result.DetailsMerged, result.RateLimited, string(stats),
	)

	br := s.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("postgres batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}

// Close closes the pool
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
