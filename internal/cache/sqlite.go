package cache

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite is a durable cache backend over modernc.org/sqlite.
type SQLite struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewSQLite opens the cache database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	tag        TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_tag ON cache_entries(tag);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// Migrate creates the cache schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "cache: sqlite migrate")
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	)
	var value []byte
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		s.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		s.misses.Add(1)
		return nil, eris.Wrap(err, "cache: sqlite get")
	}
	s.hits.Add(1)
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tag string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, tag, cached_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, tag = excluded.tag,
		 cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, value, tag, now, now.Add(ttl),
	)
	if err != nil {
		return eris.Wrap(err, "cache: sqlite set")
	}
	s.sets.Add(1)
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return eris.Wrap(err, "cache: sqlite delete")
}

func (s *SQLite) Invalidate(ctx context.Context, pattern string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE '%' || ? || '%'`, pattern)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite invalidate")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

// PurgeExpired deletes entries past their TTL. Exposed to the CLI and the
// resource governor.
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite purge expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

func (s *SQLite) Stats() Stats {
	stats := Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Sets:   s.sets.Load(),
	}
	var entries int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`)
	if err := row.Scan(&entries); err == nil {
		stats.Entries = entries
	}
	stats.computeHitRate()
	return stats
}
