package sqlite

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/livetrade/livetrade/internal/domain/trade"
)

// tradeSession is the row layout of trade_sessions. The offer is a JSON
// array and updated_at is stored as unix milliseconds so range deletes
// compare integers. No column carries a gorm default: zero values must
// reach the upsert, or a reset would leave the old value in place.
type tradeSession struct {
	Player      string `gorm:"primaryKey"`
	SessionID   string `gorm:"not null"`
	Target      string `gorm:"not null"`
	Offer       string `gorm:"not null"`
	Accepted    bool   `gorm:"not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at;not null;index"`
}

func (tradeSession) TableName() string {
	return "trade_sessions"
}

func fromDomain(s *trade.Session) (tradeSession, error) {
	offer, err := json.Marshal(s.OfferItems())
	if err != nil {
		return tradeSession{}, err
	}
	return tradeSession{
		Player:      s.Player,
		SessionID:   s.ID.String(),
		Target:      s.Target,
		Offer:       string(offer),
		Accepted:    s.Accepted,
		UpdatedAtMs: s.UpdatedAt.UnixMilli(),
	}, nil
}

// toDomain returns nil when the row cannot be decoded; callers then start
// the player over with a fresh session.
func (m tradeSession) toDomain() *trade.Session {
	id, err := uuid.Parse(m.SessionID)
	if err != nil {
		return nil
	}
	offer := []string{}
	if err := json.Unmarshal([]byte(m.Offer), &offer); err != nil {
		return nil
	}
	if offer == nil {
		offer = []string{}
	}
	return &trade.Session{
		ID:        id,
		Player:    m.Player,
		Target:    m.Target,
		Offer:     offer,
		Accepted:  m.Accepted,
		UpdatedAt: time.UnixMilli(m.UpdatedAtMs).UTC(),
	}
}
