package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool the cache needs; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is the optional network-backed cache tier. Read failures
// surface ErrUnavailable, which callers treat as a miss; writes degrade
// to a no-op. The pipeline must keep working with the tier down.
type Postgres struct {
	pool Pool

	hits     atomic.Int64
	misses   atomic.Int64
	sets     atomic.Int64
	degraded atomic.Int64
}

// NewPostgres connects a pgx pool to the cache database.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres connect")
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool) *Postgres {
	return &Postgres{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	tag        TEXT NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_tag ON cache_entries(tag);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// Migrate creates the cache schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: postgres migrate")
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND expires_at > now()`, key)
	var value []byte
	err := row.Scan(&value)
	if err == pgx.ErrNoRows {
		p.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		p.degrade("get", err)
		return nil, ErrUnavailable
	}
	p.hits.Add(1)
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tag string) error {
	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, tag, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, tag = EXCLUDED.tag,
		 cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, value, tag, now, now.Add(ttl),
	)
	if err != nil {
		p.degrade("set", err)
		return nil
	}
	p.sets.Add(1)
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		p.degrade("delete", err)
	}
	return nil
}

func (p *Postgres) Invalidate(ctx context.Context, pattern string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE key LIKE '%' || $1 || '%'`, pattern)
	if err != nil {
		p.degrade("invalidate", err)
		return 0, nil
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Stats() Stats {
	stats := Stats{
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Sets:     p.sets.Load(),
		Degraded: p.degraded.Load(),
	}
	stats.computeHitRate()
	return stats
}

// degrade records a backend failure. Counted as a miss so the pipeline
// continues; never surfaced as a request error.
func (p *Postgres) degrade(op string, err error) {
	p.degraded.Add(1)
	p.misses.Add(1)
	zap.L().Warn("cache: postgres degraded to miss",
		zap.String("op", op),
		zap.Error(err),
	)
}
