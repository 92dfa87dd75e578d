package market

import (
	"context"
	"fmt"

	"github.com/lueurxax/character-market/internal/core/domain"
)

// ValueSource returns entity values as they stood after a given episode.
type ValueSource interface {
	ValuesAsOf(ctx context.Context, episode int) ([]domain.Valuation, error)
}

// Service computes snapshots from the entity store.
type Service struct {
	source ValueSource
	cfg    Config
}

func NewService(source ValueSource, cfg Config) *Service {
	return &Service{source: source, cfg: cfg}
}

// Snapshot returns statistics consumed while processing episode, built only
// from data committed at or before episode-1.
func (s *Service) Snapshot(ctx context.Context, episode int) (domain.MarketSnapshot, error) {
	values, err := s.source.ValuesAsOf(ctx, episode-1)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("values as of episode %d: %w", episode-1, err)
	}

	return Compute(values, episode, s.cfg), nil
}

// Baseline returns the configured default value.
func (s *Service) Baseline() float64 {
	return s.cfg.Baseline
}
