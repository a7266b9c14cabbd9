package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/livetrade/livetrade/internal/domain/trade"
)

const (
	DefaultKeyPrefix = "trade:session:"

	maxTxRetries = 64
	scanCount    = 100
)

var ErrContention = errors.New("session update retries exhausted")

// SessionRepository implements trade.Repository with one hash per player.
// Mutations are optimistic: WATCH the key, compute, then MULTI/EXEC, and
// start over if another writer got there first.
type SessionRepository struct {
	client *goredis.Client
	prefix string
	policy trade.Policy
}

func NewSessionRepository(client *goredis.Client, prefix string, policy trade.Policy) *SessionRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SessionRepository{client: client, prefix: prefix, policy: policy}
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

// Delete reads and removes the hash in one MULTI/EXEC.
func (r *SessionRepository) Delete(ctx context.Context, player string) (*trade.Session, error) {
	key := r.key(player)
	var read *goredis.StringStringMapCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		read = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete session %s: %w", player, err)
	}
	return decodeSession(player, read.Val()), nil
}

// PurgeExpired scans the key prefix and deletes hashes whose updated_at is
// past ttl. Keys written to during the check are left alone.
func (r *SessionRepository) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.HGet(ctx, key, fieldUpdatedAt).Result()
			if err == goredis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			updatedAt, err := parseMillis(raw)
			if err == nil && now.Sub(updatedAt) <= ttl {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)
		if err == goredis.TxFailedErr {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("purge %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan sessions: %w", err)
	}
	return removed, nil
}

// retryBackoff is the wait before retry attempt+1; it grows linearly from 1ms.
func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * time.Millisecond
}

func (r *SessionRepository) key(player string) string {
	return r.prefix + player
}

func (r *SessionRepository) update(ctx context.Context, player string, now time.Time, fn func(*trade.Session)) (*trade.Session, bool, error) {
	key := r.key(player)
	var (
		out         *trade.Session
		initialized bool
	)

	txf := func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current := decodeSession(player, vals)

		s, reset := trade.Touch(current, player, now, r.policy.TTL)
		if fn != nil {
			fn(s)
		}
		fields, err := encodeSession(s)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, r.policy.TTL)
			return nil
		})
		if err != nil {
			return err
		}
		out = s
		initialized = reset
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out.Clone(), initialized, nil
		}
		if err != goredis.TxFailedErr {
			return nil, false, fmt.Errorf("update session %s: %w", player, err)
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(retryBackoff(i)):
		}
	}
	return nil, false, fmt.Errorf("update session %s: %w", player, ErrContention)
}

const (
	fieldSessionID = "session_id"
	fieldTarget    = "target"
	fieldOffer     = "offer"
	fieldAccepted  = "accepted"
	fieldUpdatedAt = "updated_at"
)

func encodeSession(s *trade.Session) (map[string]interface{}, error) {
	offer, err := json.Marshal(s.OfferItems())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		fieldSessionID: s.ID.String(),
		fieldTarget:    s.Target,
		fieldOffer:     string(offer),
		fieldAccepted:  strconv.FormatBool(s.Accepted),
		fieldUpdatedAt: strconv.FormatInt(s.UpdatedAt.UnixMilli(), 10),
	}, nil
}

// decodeSession returns nil for an absent hash. A hash that cannot be
// parsed is treated as absent too, so the next write replaces it.
func decodeSession(player string, vals map[string]string) *trade.Session {
	if len(vals) == 0 {
		return nil
	}
	id, err := uuid.Parse(vals[fieldSessionID])
	if err != nil {
		return nil
	}
	updatedAt, err := parseMillis(vals[fieldUpdatedAt])
	if err != nil {
		return nil
	}
	offer := []string{}
	if raw := strings.TrimSpace(vals[fieldOffer]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &offer); err != nil {
			return nil
		}
	}
	if offer == nil {
		offer = []string{}
	}
	accepted, _ := strconv.ParseBool(vals[fieldAccepted])
	return &trade.Session{
		ID:        id,
		Player:    player,
		Target:    vals[fieldTarget],
		Offer:     offer,
		Accepted:  accepted,
		UpdatedAt: updatedAt,
	}
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
