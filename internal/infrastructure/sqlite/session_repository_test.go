package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetrade/livetrade/internal/domain/trade"
	"github.com/livetrade/livetrade/internal/domain/trade/tradetest"
)

func TestSessionRepository(t *testing.T) {
	tradetest.RunRepositoryTests(t, func(t *testing.T, policy trade.Policy) trade.Repository {
		db, err := Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = Close(db) })
		return NewSessionRepository(db, policy)
	})
}

func TestSessionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.db")
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	db, err := Open(path)
	require.NoError(t, err)
	repo := NewSessionRepository(db, trade.DefaultPolicy())
	require.NoError(t, repo.SetTarget(ctx, "alice", "bob", now))
	_, err = repo.AddOfferItem(ctx, "alice", "sword", now)
	require.NoError(t, err)
	require.NoError(t, Close(db))

	db, err = Open(path)
	require.NoError(t, err)
	defer Close(db)
	repo = NewSessionRepository(db, trade.DefaultPolicy())

	s, _, err := repo.GetOrInit(ctx, "alice", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "bob", s.Target)
	assert.Equal(t, []string{"sword"}, s.Offer)
}

func TestCorruptRowStartsOver(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer Close(db)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&tradeSession{
		Player:      "alice",
		SessionID:   "broken",
		Target:      "bob",
		Offer:       "{",
		UpdatedAtMs: now.UnixMilli(),
	}).Error)

	repo := NewSessionRepository(db, trade.DefaultPolicy())
	s, initialized, err := repo.GetOrInit(ctx, "alice", now)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, "", s.Target)
	assert.Empty(t, s.Offer)
}
