package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/livetrade/livetrade/internal/domain/trade"
)

// SessionRepository implements trade.Repository on a local SQLite file.
// Every mutation is a read-modify-write inside one transaction; Open limits
// the pool to one connection, which serializes them.
type SessionRepository struct {
	db     *gorm.DB
	policy trade.Policy
}

func NewSessionRepository(db *gorm.DB, policy trade.Policy) *SessionRepository {
	return &SessionRepository{db: db, policy: policy}
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
	var removed *trade.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row tradeSession
		err := tx.Where("player = ?", player).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = row.toDomain()
		return tx.Where("player = ?", player).Delete(&tradeSession{}).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *SessionRepository) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl).UnixMilli()
	res := r.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&tradeSession{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *SessionRepository) update(ctx context.Context, player string, now time.Time, fn func(*trade.Session)) (*trade.Session, bool, error) {
	var (
		out         *trade.Session
		initialized bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current *trade.Session
		var row tradeSession
		err := tx.Where("player = ?", player).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			current = row.toDomain()
		}

		s, reset := trade.Touch(current, player, now.UTC(), r.policy.TTL)
		if fn != nil {
			fn(s)
		}

		model, err := fromDomain(s)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
			return err
		}
		out = s
		initialized = reset
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out.Clone(), initialized, nil
}
