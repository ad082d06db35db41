package cache

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaykit/idempotency"
)

func newTestPostgres(t *testing.T) *Postgres {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping Postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	// A table per test keeps runs independent.
	table := fmt.Sprintf("idempotency_test_%d", time.Now().UnixNano())
	cache := NewPostgres(pool, PostgresTable(table))
	require.NoError(t, cache.InitSchema(ctx))

	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		pool.Close()
	})
	return cache
}

func TestPostgres_PutAndGet(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	resp := &idempotency.CachedResponse{
		StatusCode:  http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"id":"order-1"}`),
	}
	require.NoError(t, cache.Put(ctx, "key-1", resp, time.Minute))

	got, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, http.StatusCreated, got.StatusCode)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, []byte(`{"id":"order-1"}`), got.Body)
}

func TestPostgres_GetMiss(t *testing.T) {
	cache := newTestPostgres(t)

	got, err := cache.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgres_ExpiredRowIsAMiss(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	resp := &idempotency.CachedResponse{StatusCode: http.StatusOK}
	require.NoError(t, cache.Put(ctx, "key-1", resp, -time.Second))

	got, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired rows must read as misses")
}

func TestPostgres_LiveRowFirstWriterWins(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	first := &idempotency.CachedResponse{StatusCode: http.StatusCreated, Body: []byte("first")}
	second := &idempotency.CachedResponse{StatusCode: http.StatusOK, Body: []byte("second")}
	require.NoError(t, cache.Put(ctx, "key-1", first, time.Minute))
	require.NoError(t, cache.Put(ctx, "key-1", second, time.Minute))

	got, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("first"), got.Body, "a live row must not be overwritten")
}

func TestPostgres_ExpiredRowIsReplaced(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	stale := &idempotency.CachedResponse{StatusCode: http.StatusOK, Body: []byte("stale")}
	fresh := &idempotency.CachedResponse{StatusCode: http.StatusCreated, Body: []byte("fresh")}
	require.NoError(t, cache.Put(ctx, "key-1", stale, -time.Second))
	require.NoError(t, cache.Put(ctx, "key-1", fresh, time.Minute))

	got, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got, "an expired row must not block its key")
	assert.Equal(t, []byte("fresh"), got.Body)
}

func TestPostgres_DeleteExpired(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	resp := &idempotency.CachedResponse{StatusCode: http.StatusOK}
	require.NoError(t, cache.Put(ctx, "expired-1", resp, -time.Second))
	require.NoError(t, cache.Put(ctx, "expired-2", resp, -time.Second))
	require.NoError(t, cache.Put(ctx, "live-1", resp, time.Minute))

	dropped, err := cache.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dropped)

	got, err := cache.Get(ctx, "live-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "live rows must survive the sweep")
}

func TestPostgres_MissingTable(t *testing.T) {
	cache := newTestPostgres(t)
	ctx := context.Background()

	missing := NewPostgres(cache.pool, PostgresTable("idempotency_never_created"))

	_, err := missing.Get(ctx, "key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist", "the error should point at the missing table")
}
