package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainTrade "github.com/livetrade/livetrade/internal/domain/trade"
)

// Service handles trade negotiation between two players.
type Service struct {
	repo   domainTrade.Repository
	policy domainTrade.Policy
	now    func() time.Time
	logger zerolog.Logger
}

// NewService creates a trade service. policy must match the one the
// repository was built with.
func NewService(repo domainTrade.Repository, policy domainTrade.Policy, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("service", "trade").Logger(),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetTarget points player at a counterpart. An empty target clears it.
func (s *Service) SetTarget(ctx context.Context, player, target string) error {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return err
	}
	if len(target) > domainTrade.MaxPlayerLength {
		return fmt.Errorf("%w: target exceeds %d characters", domainTrade.ErrInvalidInput, domainTrade.MaxPlayerLength)
	}
	if err := s.repo.SetTarget(ctx, player, target, s.now()); err != nil {
		s.logger.Error().Err(err).Str("player", player).Msg("failed to set target")
		return fmt.Errorf("set target: %w", err)
	}
	s.logger.Debug().Str("player", player).Str("target", target).Msg("target set")
	return nil
}

// AddOfferItem adds item to player's offer and returns the resulting offer.
func (s *Service) AddOfferItem(ctx context.Context, player, item string) ([]string, error) {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return nil, err
	}
	if err := domainTrade.ValidateItem(item); err != nil {
		return nil, err
	}
	offer, err := s.repo.AddOfferItem(ctx, player, item, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("player", player).Str("item", item).Msg("failed to add offer item")
		return nil, fmt.Errorf("add offer item: %w", err)
	}
	return offer, nil
}

// RemoveOfferItem drops item from player's offer if present.
func (s *Service) RemoveOfferItem(ctx context.Context, player, item string) ([]string, error) {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return nil, err
	}
	if err := domainTrade.ValidateItem(item); err != nil {
		return nil, err
	}
	offer, err := s.repo.RemoveOfferItem(ctx, player, item, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("player", player).Str("item", item).Msg("failed to remove offer item")
		return nil, fmt.Errorf("remove offer item: %w", err)
	}
	return offer, nil
}

// Accept confirms player's current offer. Only Reset takes it back.
func (s *Service) Accept(ctx context.Context, player string) error {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return err
	}
	session, err := s.repo.MarkAccepted(ctx, player, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("player", player).Msg("failed to accept")
		return fmt.Errorf("accept: %w", err)
	}
	s.logger.Info().
		Str("player", player).
		Str("session_id", session.ID.String()).
		Strs("offer", session.Offer).
		Msg("offer accepted")
	return nil
}

// Status resolves whether player has a mutual counterpart and whether
// both sides accepted. It touches player's session and, when one is set,
// the target's session as well.
func (s *Service) Status(ctx context.Context, player string) (*domainTrade.Status, error) {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return nil, err
	}
	now := s.now()
	me, initialized, err := s.repo.GetOrInit(ctx, player, now)
	if err != nil {
		s.logger.Error().Err(err).Str("player", player).Msg("failed to load session")
		return nil, fmt.Errorf("load session: %w", err)
	}
	if initialized {
		s.logSessionStarted(me)
	}

	var them *domainTrade.Session
	if me.Target != "" && me.Target != player {
		them, initialized, err = s.repo.GetOrInit(ctx, me.Target, now)
		if err != nil {
			s.logger.Error().Err(err).Str("player", player).Str("target", me.Target).Msg("failed to load counterpart")
			return nil, fmt.Errorf("load counterpart: %w", err)
		}
		if initialized {
			s.logSessionStarted(them)
		}
	}

	st := domainTrade.NewStatus(me, them)
	if st.BothAccepted {
		s.logger.Debug().
			Str("player", player).
			Str("session_id", me.ID.String()).
			Str("counterpart_session_id", them.ID.String()).
			Msg("trade agreed")
	}
	return st, nil
}

// Reset deletes player's session unconditionally.
func (s *Service) Reset(ctx context.Context, player string) error {
	if err := domainTrade.ValidatePlayer("user", player); err != nil {
		return err
	}
	removed, err := s.repo.Delete(ctx, player)
	if err != nil {
		s.logger.Error().Err(err).Str("player", player).Msg("failed to reset session")
		return fmt.Errorf("reset: %w", err)
	}
	evt := s.logger.Info().Str("player", player)
	if removed != nil {
		evt = evt.Str("session_id", removed.ID.String())
	}
	evt.Msg("session reset")
	return nil
}

func (s *Service) logSessionStarted(session *domainTrade.Session) {
	s.logger.Info().
		Str("player", session.Player).
		Str("session_id", session.ID.String()).
		Msg("trade session started")
}

// PurgeExpired removes every session idle for longer than the policy TTL.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := s.repo.PurgeExpired(ctx, s.now(), s.policy.TTL)
	if err != nil {
		return removed, fmt.Errorf("purge expired sessions: %w", err)
	}
	return removed, nil
}
