package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetEntry = `SELECT fingerprint, result, created_at, expires_at FROM ingestion_cache WHERE fingerprint = $1`
	pgPutEntry = `INSERT INTO ingestion_cache (fingerprint, format, result, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fingerprint) DO UPDATE SET format = $2, result = $3, created_at = $4, expires_at = $5`
	pgDeleteEntry = `DELETE FROM ingestion_cache WHERE fingerprint = $1`
	pgInsertRun   = `INSERT INTO ingestion_runs (id, sources, total_products, cluster_count, overall_quality, rating, failed, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	pgGetRun = `SELECT report FROM ingestion_runs WHERE id = $1`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_entry":    pgGetEntry,
	"put_entry":    pgPutEntry,
	"delete_entry": pgDeleteEntry,
	"insert_run":   pgInsertRun,
	"get_run":      pgGetRun,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingestion_cache (
	fingerprint TEXT PRIMARY KEY,
	format      TEXT NOT NULL,
	result      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_cache_expires_at ON ingestion_cache(expires_at);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id              TEXT PRIMARY KEY,
	sources         INTEGER NOT NULL,
	total_products  INTEGER NOT NULL,
	cluster_count   INTEGER NOT NULL,
	overall_quality DOUBLE PRECISION NOT NULL,
	rating          TEXT NOT NULL,
	failed          BOOLEAN NOT NULL DEFAULT false,
	report          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_created_at ON ingestion_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS ingestion_run_products (
	run_id       TEXT NOT NULL REFERENCES ingestion_runs(id) ON DELETE CASCADE,
	cluster_id   INTEGER NOT NULL,
	product_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	vendor       TEXT NOT NULL,
	category     TEXT NOT NULL,
	price        TEXT NOT NULL,
	sources      JSONB NOT NULL,
	cluster_size INTEGER NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, cluster_id)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var result []byte
	err := s.pool.QueryRow(ctx, pgGetEntry, fingerprint).Scan(&e.Fingerprint, &result, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry %s", fingerprint)
	}
	if e.Result, err = unmarshalResult(result); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) PutEntry(ctx context.Context, entry *model.CacheEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx, pgPutEntry,
		entry.Fingerprint, string(entry.Result.Format), result, entry.CreatedAt.UTC(), entry.ExpiresAt.UTC())
	return eris.Wrapf(err, "postgres: put entry %s", entry.Fingerprint)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, pgDeleteEntry, fingerprint)
	return eris.Wrapf(err, "postgres: delete entry %s", fingerprint)
}

// DeleteExpired removes entries that expired before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ingestion_cache WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired")
	}
	return int(tag.RowsAffected()), nil
}

// SaveRun inserts the run row and COPYs its cluster representatives in one
// transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, report *model.IngestionReport) error {
	b, err := marshalReport(report)
	if err != nil {
		return err
	}
	sum := report.Summary()

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgInsertRun,
			sum.RunID, sum.Sources, sum.TotalProducts, sum.ClusterCount, sum.OverallQuality,
			string(sum.Rating), sum.Failed, b, sum.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert run %s", sum.RunID)
		}
		_, err := db.CopyFrom(ctx, tx, "ingestion_run_products", productColumns, productRows(report))
		return eris.Wrapf(err, "postgres: copy products for run %s", sum.RunID)
	})
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestionReport, error) {
	var b []byte
	err := s.pool.QueryRow(ctx, pgGetRun, runID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return unmarshalReport(b)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT id, sources, total_products, cluster_count, overall_quality, rating, failed, created_at
		FROM ingestion_runs WHERE true`
	if filter.FailedOnly {
		query += ` AND failed`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, filter.limit(), filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var rating string
		if err := rows.Scan(&r.RunID, &r.Sources, &r.TotalProducts, &r.ClusterCount,
			&r.OverallQuality, &rating, &r.Failed, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Rating = model.QualityRating(rating)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// RunProducts returns the stored representatives of a run, in cluster order.
func (s *PostgresStore) RunProducts(ctx context.Context, runID string) ([]RunProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cluster_id, product_id, name, vendor, category, price, sources, cluster_size, confidence
		 FROM ingestion_run_products WHERE run_id = $1 ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run products %s", runID)
	}
	defer rows.Close()

	var out []RunProduct
	for rows.Next() {
		var p RunProduct
		var sources []byte
		if err := rows.Scan(&p.ClusterID, &p.ProductID, &p.Name, &p.Vendor, &p.Category,
			&p.Price, &sources, &p.ClusterSize, &p.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run product")
		}
		p.Sources = splitSources(string(sources))
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: run products iterate")
}
