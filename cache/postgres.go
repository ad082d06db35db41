package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replaykit/idempotency"
)

// DefaultTable is the table Postgres stores responses in.
const DefaultTable = "idempotency_responses"

// Postgres stores captured responses in PostgreSQL. Rows carry an
// expires_at column that reads filter on; DeleteExpired reclaims the
// space. While a row is live the first writer wins, which keeps replays
// stable when multiple processes capture the same key.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures a Postgres cache.
type PostgresOption func(*Postgres)

// PostgresTable overrides the table name. The name must be a plain SQL
// identifier; it is interpolated into statements, not bound.
//
// Default: "idempotency_responses"
func PostgresTable(name string) PostgresOption {
	return func(p *Postgres) {
		if name != "" {
			p.table = name
		}
	}
}

// NewPostgres creates a response cache on pool. Call InitSchema once
// before first use unless the table is managed by migrations.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		pool:  pool,
		table: DefaultTable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InitSchema creates the backing table and its expiry index if missing.
func (p *Postgres) InitSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key          TEXT PRIMARY KEY,
			status_code  INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			body         BYTEA NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL
		)`, p.table))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", p.table, err)
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`, p.table, p.table))
	if err != nil {
		return fmt.Errorf("failed to index table %s: %w", p.table, err)
	}
	return nil
}

// Get returns the live response stored under key, or nil when there is
// none or the row has expired.
func (p *Postgres) Get(ctx context.Context, key string) (*idempotency.CachedResponse, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT status_code, content_type, body FROM %s WHERE key = $1 AND expires_at > now()`, p.table), key)

	var resp idempotency.CachedResponse
	if err := row.Scan(&resp.StatusCode, &resp.ContentType, &resp.Body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, p.classify("read", err)
	}
	return &resp, nil
}

// Put stores resp under key. A live row for the key is left untouched;
// an expired row is overwritten in place.
func (p *Postgres) Put(ctx context.Context, key string, resp *idempotency.CachedResponse, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, status_code, content_type, body, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET status_code  = EXCLUDED.status_code,
		    content_type = EXCLUDED.content_type,
		    body         = EXCLUDED.body,
		    expires_at   = EXCLUDED.expires_at
		WHERE %s.expires_at <= now()`, p.table, p.table),
		key, resp.StatusCode, resp.ContentType, resp.Body, time.Now().Add(ttl))
	if err != nil {
		return p.classify("write", err)
	}
	return nil
}

// DeleteExpired removes expired rows and reports how many were dropped.
// Reads already filter expired rows; run this periodically to reclaim
// space.
func (p *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at <= now()`, p.table))
	if err != nil {
		return 0, p.classify("sweep", err)
	}
	return tag.RowsAffected(), nil
}

// classify folds common Postgres failures into actionable errors.
func (p *Postgres) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("idempotency table %s does not exist, run InitSchema or migrations: %w", p.table, err)
	}
	return fmt.Errorf("failed to %s idempotency entry: %w", op, err)
}

// Ensure Postgres implements ResponseCache
var _ idempotency.ResponseCache = (*Postgres)(nil)
