package memory

import (
	"context"
	"sync"
	"time"

	"github.com/livetrade/livetrade/internal/domain/trade"
	"github.com/livetrade/livetrade/internal/infrastructure/keylock"
)

// SessionRepository implements trade.Repository in process memory.
// Stored sessions are never mutated in place: writers copy, modify under the
// player's key lock, then swap the pointer under mu.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*trade.Session
	keys     *keylock.Locker
	policy   trade.Policy
}

func NewSessionRepository(policy trade.Policy) *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*trade.Session),
		keys:     keylock.New(),
		policy:   policy,
	}
}

func (r *SessionRepository) GetOrInit(_ context.Context, player string, now time.Time) (*trade.Session, bool, error) {
	s, initialized := r.update(player, now, nil)
	return s, initialized, nil
}

func (r *SessionRepository) SetTarget(_ context.Context, player, target string, now time.Time) error {
	r.update(player, now, func(s *trade.Session) {
		s.SetTarget(target, r.policy)
	})
	return nil
}

func (r *SessionRepository) AddOfferItem(_ context.Context, player, item string, now time.Time) ([]string, error) {
	s, _ := r.update(player, now, func(s *trade.Session) {
		s.AddOfferItem(item, r.policy)
	})
	return s.Offer, nil
}

func (r *SessionRepository) RemoveOfferItem(_ context.Context, player, item string, now time.Time) ([]string, error) {
	s, _ := r.update(player, now, func(s *trade.Session) {
		s.RemoveOfferItem(item, r.policy)
	})
	return s.Offer, nil
}

func (r *SessionRepository) MarkAccepted(_ context.Context, player string, now time.Time) (*trade.Session, error) {
	s, _ := r.update(player, now, func(s *trade.Session) {
		s.Accept()
	})
	return s, nil
}

func (r *SessionRepository) Delete(_ context.Context, player string) (*trade.Session, error) {
	unlock := r.keys.Lock(player)
	defer unlock()

	r.mu.Lock()
	s := r.sessions[player]
	delete(r.sessions, player)
	r.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	return s.Clone(), nil
}

// PurgeExpired collects candidates under the read lock, then re-checks and
// deletes each one under its own key lock so requests are never blocked for
// the whole sweep.
func (r *SessionRepository) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	r.mu.RLock()
	stale := make([]string, 0)
	for player, s := range r.sessions {
		if s.IsExpired(now, ttl) {
			stale = append(stale, player)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, player := range stale {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if r.deleteIfExpired(player, now, ttl) {
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions, expired or not.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRepository) deleteIfExpired(player string, now time.Time, ttl time.Duration) bool {
	unlock := r.keys.Lock(player)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[player]
	if !ok || !s.IsExpired(now, ttl) {
		return false
	}
	delete(r.sessions, player)
	return true
}

func (r *SessionRepository) update(player string, now time.Time, fn func(*trade.Session)) (*trade.Session, bool) {
	unlock := r.keys.Lock(player)
	defer unlock()

	r.mu.RLock()
	current := r.sessions[player]
	r.mu.RUnlock()
	if current != nil {
		current = current.Clone()
	}

	s, initialized := trade.Touch(current, player, now, r.policy.TTL)
	if fn != nil {
		fn(s)
	}

	r.mu.Lock()
	r.sessions[player] = s
	r.mu.Unlock()
	return s.Clone(), initialized
}
