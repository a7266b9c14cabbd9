// Package tradetest holds the behavioural suite every trade.Repository
// implementation must pass.
package tradetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetrade/livetrade/internal/domain/trade"
)

// Factory returns an empty repository using policy.
type Factory func(t *testing.T, policy trade.Policy) trade.Repository

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// RunRepositoryTests exercises the contract of trade.Repository.
func RunRepositoryTests(t *testing.T, newRepo Factory) {
	t.Run("fresh defaults", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		s, initialized, err := repo.GetOrInit(context.Background(), "alice", base)
		require.NoError(t, err)
		assert.True(t, initialized)
		assert.NotEqual(t, uuid.Nil, s.ID)
		assert.Equal(t, "alice", s.Player)
		assert.Equal(t, "", s.Target)
		assert.Empty(t, s.Offer)
		assert.NotNil(t, s.Offer)
		assert.False(t, s.Accepted)
		assert.WithinDuration(t, base, s.UpdatedAt, time.Millisecond)
	})

	t.Run("get or init keeps live data", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		require.NoError(t, repo.SetTarget(ctx, "alice", "bob", base))
		first, initialized, err := repo.GetOrInit(ctx, "alice", base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, initialized)
		second, initialized, err := repo.GetOrInit(ctx, "alice", base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, initialized)
		assert.Equal(t, "bob", second.Target)
		assert.Equal(t, first.ID, second.ID)
		assert.WithinDuration(t, base.Add(2*time.Minute), second.UpdatedAt, time.Millisecond)
	})

	t.Run("add item is idempotent", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		_, err := repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		offer, err := repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"sword"}, offer)
	})

	t.Run("remove absent item is a no-op", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		_, err := repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		offer, err := repo.RemoveOfferItem(ctx, "alice", "shield", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"sword"}, offer)

		offer, err = repo.RemoveOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		assert.Empty(t, offer)
		assert.NotNil(t, offer)
	})

	t.Run("offer keeps insertion order", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		for _, item := range []string{"sword", "shield", "potion"} {
			_, err := repo.AddOfferItem(ctx, "alice", item, base)
			require.NoError(t, err)
		}
		offer, err := repo.RemoveOfferItem(ctx, "alice", "shield", base)
		require.NoError(t, err)
		assert.Equal(t, []string{"sword", "potion"}, offer)
	})

	t.Run("mark accepted twice", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		first, err := repo.MarkAccepted(ctx, "alice", base)
		require.NoError(t, err)
		assert.True(t, first.Accepted)
		second, err := repo.MarkAccepted(ctx, "alice", base)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		s, _, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		assert.True(t, s.Accepted)
	})

	t.Run("acceptance survives offer change by default", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		_, err := repo.MarkAccepted(ctx, "alice", base)
		require.NoError(t, err)
		_, err = repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		s, _, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		assert.True(t, s.Accepted)
	})

	t.Run("strict policy clears acceptance on change", func(t *testing.T) {
		repo := newRepo(t, trade.Policy{TTL: trade.DefaultTTL, ResetAcceptOnChange: true})
		ctx := context.Background()
		_, err := repo.MarkAccepted(ctx, "alice", base)
		require.NoError(t, err)
		_, err = repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		s, _, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		assert.False(t, s.Accepted)
	})

	t.Run("delete then read returns defaults", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		require.NoError(t, repo.SetTarget(ctx, "alice", "bob", base))
		_, err := repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)
		accepted, err := repo.MarkAccepted(ctx, "alice", base)
		require.NoError(t, err)

		removed, err := repo.Delete(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, accepted.ID, removed.ID)
		assert.Equal(t, []string{"sword"}, removed.Offer)

		removed, err = repo.Delete(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, removed)

		s, initialized, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		assert.True(t, initialized)
		assert.NotEqual(t, accepted.ID, s.ID)
		assert.Equal(t, "", s.Target)
		assert.Empty(t, s.Offer)
		assert.False(t, s.Accepted)
	})

	t.Run("expired session reads as fresh", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		require.NoError(t, repo.SetTarget(ctx, "alice", "bob", base))
		before, _, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		_, err = repo.AddOfferItem(ctx, "alice", "sword", base)
		require.NoError(t, err)

		later := base.Add(trade.DefaultTTL + time.Second)
		s, initialized, err := repo.GetOrInit(ctx, "alice", later)
		require.NoError(t, err)
		assert.True(t, initialized)
		assert.NotEqual(t, before.ID, s.ID)
		assert.Equal(t, "", s.Target)
		assert.Empty(t, s.Offer)
	})

	t.Run("purge removes only expired sessions", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		require.NoError(t, repo.SetTarget(ctx, "alice", "bob", base))
		require.NoError(t, repo.SetTarget(ctx, "bob", "alice", base.Add(20*time.Minute)))

		now := base.Add(trade.DefaultTTL + time.Minute)
		removed, err := repo.PurgeExpired(ctx, now, trade.DefaultTTL)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		bob, _, err := repo.GetOrInit(ctx, "bob", now)
		require.NoError(t, err)
		assert.Equal(t, "alice", bob.Target)

		removed, err = repo.PurgeExpired(ctx, now, trade.DefaultTTL)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("concurrent adds lose no updates", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := repo.AddOfferItem(ctx, "alice", fmt.Sprintf("item-%02d", i), base); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		s, _, err := repo.GetOrInit(ctx, "alice", base)
		require.NoError(t, err)
		assert.Len(t, s.Offer, n)
	})

	// The purge and the write race on sessions that are expired at later.
	// Whichever commits first, the write restarts the session at later, so
	// the item must be stored once both are done.
	t.Run("purge racing a write never drops it", func(t *testing.T) {
		repo := newRepo(t, trade.DefaultPolicy())
		ctx := context.Background()
		later := base.Add(2 * trade.DefaultTTL)
		const rounds = 30

		for i := 0; i < rounds; i++ {
			player := fmt.Sprintf("player-%02d", i)
			_, err := repo.AddOfferItem(ctx, player, "old", base)
			require.NoError(t, err)

			var wg sync.WaitGroup
			var offer []string
			var addErr, purgeErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				offer, addErr = repo.AddOfferItem(ctx, player, "sword", later)
			}()
			go func() {
				defer wg.Done()
				_, purgeErr = repo.PurgeExpired(ctx, later, trade.DefaultTTL)
			}()
			wg.Wait()
			require.NoError(t, addErr)
			require.NoError(t, purgeErr)
			assert.Equal(t, []string{"sword"}, offer)

			s, initialized, err := repo.GetOrInit(ctx, player, later)
			require.NoError(t, err)
			assert.False(t, initialized, "%s: write was lost", player)
			assert.Equal(t, []string{"sword"}, s.Offer, player)
		}
	})
}
