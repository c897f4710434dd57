package telemetry

import (
	"context"
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/quantdyne/breakout/pkg/errors"
)

const createMetricsTableSQL = `
CREATE TABLE IF NOT EXISTS metrics (
	recorded_at TIMESTAMP NOT NULL,
	symbol VARCHAR NOT NULL,
	name VARCHAR NOT NULL,
	value DOUBLE NOT NULL
);`

// DuckDBStorage persists metric batches into a DuckDB file. Pass an
// empty path for an in-memory database.
type DuckDBStorage struct {
	db *sql.DB
}

// NewDuckDBStorage opens (or creates) the database and ensures the
// metrics table exists.
func NewDuckDBStorage(path string) (*DuckDBStorage, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageFailed, "failed to open DuckDB database", err)
	}

	if _, err := db.Exec(createMetricsTableSQL); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeStorageFailed, "failed to create metrics table", err)
	}

	return &DuckDBStorage{db: db}, nil
}

// WriteBatch inserts all metrics in one transaction.
func (s *DuckDBStorage) WriteBatch(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageFailed, "failed to begin metrics transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO metrics (recorded_at, symbol, name, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStorageFailed, "failed to prepare metrics insert", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx, m.Time, m.Symbol, m.Name, m.Value); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeStorageFailed, "failed to insert metric", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStorageFailed, "failed to commit metrics batch", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *DuckDBStorage) Close() error {
	return s.db.Close()
}

var _ Storage = (*DuckDBStorage)(nil)
