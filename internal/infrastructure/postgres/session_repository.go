package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livetrade/livetrade/internal/domain/trade"
)

// ErrSessionVanished means the locked row was gone when the mutation was
// written back. It cannot happen while the row lock is held.
var ErrSessionVanished = errors.New("session row vanished during update")

// SessionRepository implements trade.Repository on the trade_sessions table.
// Mutations hold the player's row lock for the whole read-modify-write.
type SessionRepository struct {
	pool   *pgxpool.Pool
	policy trade.Policy
}

func NewSessionRepository(pool *pgxpool.Pool, policy trade.Policy) *SessionRepository {
	return &SessionRepository{pool: pool, policy: policy}
}

func (r *SessionRepository) GetOrInit(ctx context.Context, player string, now time.Time) (*trade.Session, bool, error) {
	return r.update(ctx, player, now, nil)
}

func (r *SessionRepository) SetTarget(ctx context.Context, player, target string, now time.Time) error {
	_, _, err := r.update(ctx, player, now, func(s *trade.Session) {
		s.SetTarget(target, r.policy)
	})
	return err
}

func (r *SessionRepository) AddOfferItem(ctx context.Context, player, item string, now time.Time) ([]string, error) {
	s, _, err := r.update(ctx, player, now, func(s *trade.Session) {
		s.AddOfferItem(item, r.policy)
	})
	if err != nil {
		return nil, err
	}
	return s.Offer, nil
}

func (r *SessionRepository) RemoveOfferItem(ctx context.Context, player, item string, now time.Time) ([]string, error) {
	s, _, err := r.update(ctx, player, now, func(s *trade.Session) {
		s.RemoveOfferItem(item, r.policy)
	})
	if err != nil {
		return nil, err
	}
	return s.Offer, nil
}

func (r *SessionRepository) MarkAccepted(ctx context.Context, player string, now time.Time) (*trade.Session, error) {
	s, _, err := r.update(ctx, player, now, func(s *trade.Session) {
		s.Accept()
	})
	return s, err
}

func (r *SessionRepository) Delete(ctx context.Context, player string) (*trade.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `
		DELETE FROM trade_sessions WHERE player=$1
		RETURNING player, session_id, target, offer, accepted, updated_at
	`, player))
}

// PurgeExpired deletes in one statement. Rows locked by an in-flight
// mutation are re-evaluated after the lock is released, so a session touched
// meanwhile survives.
func (r *SessionRepository) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	res, err := r.pool.Exec(ctx, `DELETE FROM trade_sessions WHERE updated_at < $1`, now.Add(-ttl).UTC())
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// update locks the player's row with its first statement: the upsert either
// inserts a fresh row or takes the row lock on the existing one, so a
// concurrent Delete or PurgeExpired waits for this transaction to finish.
// xmax is zero only for a row this statement inserted.
func (r *SessionRepository) update(ctx context.Context, player string, now time.Time, fn func(*trade.Session)) (*trade.Session, bool, error) {
	now = now.UTC()
	var (
		out         *trade.Session
		initialized bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			current  trade.Session
			inserted bool
		)
		err := tx.QueryRow(ctx, `
			INSERT INTO trade_sessions (player, session_id, target, offer, accepted, updated_at)
			VALUES ($1, $2, '', '{}', false, $3)
			ON CONFLICT (player) DO UPDATE SET player = EXCLUDED.player
			RETURNING player, session_id, target, offer, accepted, updated_at, (xmax = 0)
		`, player, uuid.New(), now).Scan(
			&current.Player, &current.ID, &current.Target, &current.Offer, &current.Accepted, &current.UpdatedAt, &inserted,
		)
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if current.Offer == nil {
			current.Offer = []string{}
		}

		s, reset := trade.Touch(&current, player, now, r.policy.TTL)
		if fn != nil {
			fn(s)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE trade_sessions
			SET session_id=$2, target=$3, offer=$4, accepted=$5, updated_at=$6
			WHERE player=$1
		`, s.Player, s.ID, s.Target, s.OfferItems(), s.Accepted, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("update session %s: %w", player, ErrSessionVanished)
		}
		out = s
		initialized = inserted || reset
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out.Clone(), initialized, nil
}

func scanSession(row pgx.Row) (*trade.Session, error) {
	var s trade.Session
	if err := row.Scan(&s.Player, &s.ID, &s.Target, &s.Offer, &s.Accepted, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if s.Offer == nil {
		s.Offer = []string{}
	}
	return &s, nil
}
