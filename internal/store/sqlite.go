package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingestion_cache (
	fingerprint TEXT PRIMARY KEY,
	format      TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id              TEXT PRIMARY KEY,
	sources         INTEGER NOT NULL,
	total_products  INTEGER NOT NULL,
	cluster_count   INTEGER NOT NULL,
	overall_quality REAL NOT NULL,
	rating          TEXT NOT NULL,
	failed          INTEGER NOT NULL DEFAULT 0,
	report          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_run_products (
	run_id       TEXT NOT NULL REFERENCES ingestion_runs(id) ON DELETE CASCADE,
	cluster_id   INTEGER NOT NULL,
	product_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	vendor       TEXT NOT NULL,
	category     TEXT NOT NULL,
	price        TEXT NOT NULL,
	sources      TEXT NOT NULL,
	cluster_size INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	PRIMARY KEY (run_id, cluster_id)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_cache_expires_at ON ingestion_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_created_at ON ingestion_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	var (
		e      model.CacheEntry
		result string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, result, created_at, expires_at FROM ingestion_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&e.Fingerprint, &result, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry %s", fingerprint)
	}
	if e.Result, err = unmarshalResult([]byte(result)); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, entry *model.CacheEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingestion_cache (fingerprint, format, result, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET format = excluded.format, result = excluded.result,
		 created_at = excluded.created_at, expires_at = excluded.expires_at`,
		entry.Fingerprint, string(entry.Result.Format), string(result), entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put entry %s", entry.Fingerprint)
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ingestion_cache WHERE fingerprint = ?`, fingerprint)
	return eris.Wrapf(err, "sqlite: delete entry %s", fingerprint)
}

// DeleteExpired removes entries that expired before now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ingestion_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SaveRun(ctx context.Context, report *model.IngestionReport) error {
	b, err := marshalReport(report)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	sum := report.Summary()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, sources, total_products, cluster_count, overall_quality, rating, failed, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Sources, sum.TotalProducts, sum.ClusterCount, sum.OverallQuality,
		string(sum.Rating), sum.Failed, string(b), sum.CreatedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", report.RunID)
	}

	if rows := productRows(report); len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ingestion_run_products (`+strings.Join(productColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare products")
		}
		defer stmt.Close() //nolint:errcheck
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return eris.Wrapf(err, "sqlite: insert products for run %s", report.RunID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestionReport, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM ingestion_runs WHERE id = ?`, runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return unmarshalReport([]byte(report))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT id, sources, total_products, cluster_count, overall_quality, rating, failed, created_at
		FROM ingestion_runs WHERE 1=1`
	var args []any
	if filter.FailedOnly {
		query += ` AND failed = 1`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var rating string
		if err := rows.Scan(&r.RunID, &r.Sources, &r.TotalProducts, &r.ClusterCount,
			&r.OverallQuality, &rating, &r.Failed, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Rating = model.QualityRating(rating)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RunProducts returns the stored representatives of a run, in cluster order.
func (s *SQLiteStore) RunProducts(ctx context.Context, runID string) ([]RunProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cluster_id, product_id, name, vendor, category, price, sources, cluster_size, confidence
		 FROM ingestion_run_products WHERE run_id = ? ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run products %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []RunProduct
	for rows.Next() {
		var p RunProduct
		var sources string
		if err := rows.Scan(&p.ClusterID, &p.ProductID, &p.Name, &p.Vendor, &p.Category,
			&p.Price, &sources, &p.ClusterSize, &p.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run product")
		}
		p.Sources = splitSources(sources)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: run products iterate")
}
