// Package storage implements pilet.Storage, the key/value medium the data
// store persists "local" entries through.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/pilethost/pkg/pilet"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Compile-time interface guard.
var _ pilet.Storage = (*SQLite)(nil)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "create pilet_storage table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS pilet_storage (
					name       TEXT    PRIMARY KEY,
					value      TEXT    NOT NULL,
					expires_at INTEGER
				)
			`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index pilet_storage expiry",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_pilet_storage_expires ON pilet_storage (expires_at)`)
			return err
		},
	},
}

// SQLite implements pilet.Storage backed by SQLite via modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex // Serialize migrations
	now func() time.Time
}

// NewSQLite opens (or creates) a SQLite database at path, applies the
// recommended pragmas and runs pending migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires SQL statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.Migrate(context.Background(), migrations); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SetItem stores value under name, replacing any previous value.
func (s *SQLite) SetItem(name, value string, expires *time.Time) error {
	var exp sql.NullInt64
	if expires != nil && !expires.IsZero() {
		exp = sql.NullInt64{Int64: expires.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO pilet_storage (name, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, name, value, exp)
	if err != nil {
		return fmt.Errorf("set item %q: %w", name, err)
	}
	return nil
}

// GetItem returns the value stored under name. Expired items are removed
// and reported as absent.
func (s *SQLite) GetItem(name string) (string, bool, error) {
	ctx := context.Background()

	var (
		value string
		exp   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM pilet_storage WHERE name = ?", name,
	).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get item %q: %w", name, err)
	}

	if exp.Valid && !s.now().Before(time.Unix(0, exp.Int64)) {
		if err := s.RemoveItem(name); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return value, true, nil
}

// RemoveItem deletes name. Removing an absent item is not an error.
func (s *SQLite) RemoveItem(name string) error {
	if _, err := s.db.ExecContext(context.Background(),
		"DELETE FROM pilet_storage WHERE name = ?", name,
	); err != nil {
		return fmt.Errorf("remove item %q: %w", name, err)
	}
	return nil
}

// Purge removes every item that expired at or before now and returns the
// number removed.
func (s *SQLite) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pilet_storage WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired items: %w", err)
	}
	return res.RowsAffected()
}

// Tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *SQLite) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate runs pending migrations. Already-applied versions (tracked in
// the _migrations table) are skipped. Migrations must be in ascending
// Version order.
func (s *SQLite) Migrate(ctx context.Context, ms []Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version     INTEGER  PRIMARY KEY,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range ms {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM _migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}
