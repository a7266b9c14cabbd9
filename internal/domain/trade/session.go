package trade

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 60 * time.Second

	MaxPlayerLength = 128
	MaxItemLength   = 256
)

var ErrInvalidInput = errors.New("invalid input")

// Policy controls expiry and how mutations interact with acceptance.
type Policy struct {
	TTL time.Duration
	// ResetAcceptOnChange clears Accepted whenever the offer or target
	// actually changes. Off by default: a player may edit after accepting.
	ResetAcceptOnChange bool
}

func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL}
}

// Session is the trade state kept for one player.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Player    string    `json:"player"`
	Target    string    `json:"target"`
	Offer     []string  `json:"offer"`
	Accepted  bool      `json:"accepted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession returns a session with default values stamped at now.
func NewSession(player string, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Player:    player,
		Offer:     []string{},
		UpdatedAt: now,
	}
}

func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.UpdatedAt) > ttl
}

// Touch yields the session an operation at now must work on. A nil or
// expired session is replaced by a fresh one and initialized is true;
// otherwise s has its timestamp moved to now and is returned.
func Touch(s *Session, player string, now time.Time, ttl time.Duration) (session *Session, initialized bool) {
	if s == nil || s.IsExpired(now, ttl) {
		return NewSession(player, now), true
	}
	s.UpdatedAt = now
	if s.Offer == nil {
		s.Offer = []string{}
	}
	return s, false
}

func (s *Session) SetTarget(target string, p Policy) bool {
	if s.Target == target {
		return false
	}
	s.Target = target
	s.changed(p)
	return true
}

func (s *Session) AddOfferItem(item string, p Policy) bool {
	if s.HasItem(item) {
		return false
	}
	s.Offer = append(s.Offer, item)
	s.changed(p)
	return true
}

func (s *Session) RemoveOfferItem(item string, p Policy) bool {
	for i, v := range s.Offer {
		if v == item {
			s.Offer = append(s.Offer[:i], s.Offer[i+1:]...)
			s.changed(p)
			return true
		}
	}
	return false
}

// Accept marks the current offer as confirmed. Only a reset undoes it.
func (s *Session) Accept() bool {
	if s.Accepted {
		return false
	}
	s.Accepted = true
	return true
}

func (s *Session) HasItem(item string) bool {
	for _, v := range s.Offer {
		if v == item {
			return true
		}
	}
	return false
}

// OfferItems returns a copy of the offer, never nil.
func (s *Session) OfferItems() []string {
	out := make([]string, len(s.Offer))
	copy(out, s.Offer)
	return out
}

func (s *Session) Clone() *Session {
	c := *s
	c.Offer = s.OfferItems()
	return &c
}

func (s *Session) changed(p Policy) {
	if p.ResetAcceptOnChange {
		s.Accepted = false
	}
}

// ValidatePlayer checks a player name supplied by a client.
func ValidatePlayer(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(name) > MaxPlayerLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, MaxPlayerLength)
	}
	return nil
}

// ValidateItem checks an item identifier supplied by a client.
func ValidateItem(item string) error {
	if strings.TrimSpace(item) == "" {
		return fmt.Errorf("%w: item is required", ErrInvalidInput)
	}
	if len(item) > MaxItemLength {
		return fmt.Errorf("%w: item exceeds %d characters", ErrInvalidInput, MaxItemLength)
	}
	return nil
}
