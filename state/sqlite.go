package state

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
	"github.com/pkg/errors"
)

// SQLiteStore is a Store backed by a local SQLite database. One database
// serves all units of a shard; disjoint shards use disjoint databases (or
// disjoint unit keys), so no cross-process locking is required.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mirror_cursors (
  unit     TEXT PRIMARY KEY NOT NULL,
  position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mirror_keys (
  seq  INTEGER PRIMARY KEY AUTOINCREMENT,
  unit TEXT NOT NULL,
  hash TEXT NOT NULL,
  UNIQUE (unit, hash)
);
CREATE INDEX IF NOT EXISTS idx_mirror_keys_unit ON mirror_keys (unit, seq);
`

// NewSQLiteStore opens (and if needed creates) the database at |path|.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening state database %s", path)
	}
	if _, err = db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "initializing state schema")
	}
	return &SQLiteStore{db: db}, nil
}

// GetCursor implements Store.
func (s *SQLiteStore) GetCursor(ctx context.Context, unit string) (int, bool, error) {
	var position int
	var err = s.db.QueryRowContext(ctx,
		`SELECT position FROM mirror_cursors WHERE unit = ?;`, unit).Scan(&position)

	if err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		return 0, false, errors.WithMessage(err, "reading cursor")
	}
	return position, true, nil
}

// PutCursor implements Store. The upsert keeps the maximum of the stored and
// offered positions, preserving cursor monotonicity even under a buggy or
// re-ordered caller.
func (s *SQLiteStore) PutCursor(ctx context.Context, unit string, position int) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO mirror_cursors (unit, position) VALUES (?, ?)
		ON CONFLICT (unit) DO UPDATE SET position = MAX(position, excluded.position);`,
		unit, position)
	return errors.WithMessage(err, "writing cursor")
}

// AddKeys implements Store.
func (s *SQLiteStore) AddKeys(ctx context.Context, unit string, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "beginning key transaction")
	}
	for _, h := range hashes {
		if _, err = txn.ExecContext(ctx,
			`INSERT OR IGNORE INTO mirror_keys (unit, hash) VALUES (?, ?);`, unit, h); err != nil {
			_ = txn.Rollback()
			return errors.WithMessage(err, "writing key")
		}
	}
	return errors.WithMessage(txn.Commit(), "committing keys")
}

// HasKey implements Store.
func (s *SQLiteStore) HasKey(ctx context.Context, unit string, hash string) (bool, error) {
	var one int
	var err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mirror_keys WHERE unit = ? AND hash = ?;`, unit, hash).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, errors.WithMessage(err, "reading key")
	}
	return true, nil
}

// RecentKeys implements Store.
func (s *SQLiteStore) RecentKeys(ctx context.Context, unit string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM mirror_keys WHERE unit = ? ORDER BY seq DESC LIMIT ?;`, unit, limit)
	if err != nil {
		return nil, errors.WithMessage(err, "reading recent keys")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err = rows.Scan(&h); err != nil {
			return nil, errors.WithMessage(err, "scanning recent key")
		}
		out = append(out, h)
	}
	return out, errors.WithMessage(rows.Err(), "iterating recent keys")
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
