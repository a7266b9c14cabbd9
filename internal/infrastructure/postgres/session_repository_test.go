package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetrade/livetrade/internal/domain/trade"
	"github.com/livetrade/livetrade/internal/domain/trade/tradetest"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return dsn
}

// Runs only when TEST_DATABASE_URL points at a scratch database.
func TestSessionRepository(t *testing.T) {
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool, "../../migrations"))
	// second run must be a no-op
	require.NoError(t, RunMigrations(ctx, pool, "../../migrations"))

	tradetest.RunRepositoryTests(t, func(t *testing.T, policy trade.Policy) trade.Repository {
		_, err := pool.Exec(ctx, `TRUNCATE trade_sessions`)
		require.NoError(t, err)
		return NewSessionRepository(pool, policy)
	})
}

type lockedStatement struct{}

// deleteAfterLock issues a DELETE for player from a second pool as soon as
// the repository's locking upsert has returned, inside the same transaction.
type deleteAfterLock struct {
	other  *pgxpool.Pool
	player string
	armed  bool
	once   sync.Once
	err    error
}

func (d *deleteAfterLock) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if strings.Contains(data.SQL, "ON CONFLICT (player)") {
		return context.WithValue(ctx, lockedStatement{}, true)
	}
	return ctx
}

func (d *deleteAfterLock) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	if !d.armed || ctx.Value(lockedStatement{}) == nil {
		return
	}
	d.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		_, d.err = d.other.Exec(ctx, `DELETE FROM trade_sessions WHERE player=$1`, d.player)
	})
}

func TestConcurrentDeleteWaitsForMutation(t *testing.T) {
	dsn := testDatabaseURL(t)
	ctx := context.Background()

	other, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(other.Close)
	require.NoError(t, RunMigrations(ctx, other, "../../migrations"))
	_, err = other.Exec(ctx, `TRUNCATE trade_sessions`)
	require.NoError(t, err)

	tracer := &deleteAfterLock{other: other, player: "alice"}
	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	config.ConnConfig.Tracer = tracer
	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewSessionRepository(pool, trade.DefaultPolicy())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err = repo.AddOfferItem(ctx, "alice", "old", now)
	require.NoError(t, err)

	tracer.armed = true
	offer, err := repo.AddOfferItem(ctx, "alice", "sword", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "sword"}, offer)
	assert.Error(t, tracer.err, "delete should block on the row lock until timing out")

	tracer.armed = false
	s, initialized, err := repo.GetOrInit(ctx, "alice", now)
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.Equal(t, []string{"old", "sword"}, s.Offer)
}
