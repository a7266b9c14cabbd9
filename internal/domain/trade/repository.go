package trade

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"
)

// Repository stores one Session per player. Every method except Delete and
// PurgeExpired first brings the player's record to a fresh state (see
// Touch), so all of them write, including GetOrInit.
type Repository interface {
	// GetOrInit creates, resets or touches the player's session and returns
	// it. initialized reports that a new session generation was started.
	GetOrInit(ctx context.Context, player string, now time.Time) (s *Session, initialized bool, err error)
	SetTarget(ctx context.Context, player, target string, now time.Time) error
	AddOfferItem(ctx context.Context, player, item string, now time.Time) ([]string, error)
	RemoveOfferItem(ctx context.Context, player, item string, now time.Time) ([]string, error)
	MarkAccepted(ctx context.Context, player string, now time.Time) (*Session, error)
	// Delete removes the player's record and returns it, or nil if there
	// was none.
	Delete(ctx context.Context, player string) (*Session, error)
	// PurgeExpired removes sessions idle for longer than ttl at now.
	PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}
