package valuation

import (
	"fmt"
	"math"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// Damping parameters of the additive model.
const (
	volatilityDeltaThreshold  = 50.0
	volatilityWindowThreshold = 100.0
	volatilityWindow          = 2
	volatilityFactor          = 0.7
	reversalThreshold         = 20.0
	reversalFactor            = 0.8
	weakReasoningScore        = 0.5
	weakReasoningDelta        = 20.0
	weakReasoningFactor       = 0.8
)

// ChangeLimit caps a single-episode delta.
type ChangeLimit struct {
	MaxIncrease float64
	MaxDecrease float64
}

// DefaultTierLimits allows smaller swings for higher tiers.
var DefaultTierLimits = map[domain.Tier]ChangeLimit{
	domain.TierLegendary: {MaxIncrease: 50, MaxDecrease: 30},
	domain.TierTop:       {MaxIncrease: 60, MaxDecrease: 40},
	domain.TierHigh:      {MaxIncrease: 70, MaxDecrease: 50},
	domain.TierMid:       {MaxIncrease: 80, MaxDecrease: 60},
	domain.TierLow:       {MaxIncrease: 100, MaxDecrease: 80},
	domain.TierWeak:      {MaxIncrease: 150, MaxDecrease: 100},
}

// Additive clamps a proposed delta by tier, then applies volatility, reversal
// and weak-justification damping in that order.
type Additive struct {
	Limits map[domain.Tier]ChangeLimit
	Score  func(text string) float64
}

func NewAdditive() Additive {
	return Additive{Limits: DefaultTierLimits, Score: ReasoningScore}
}

func (Additive) Name() string {
	return StrategyAdditive
}

func (Additive) Neutral() domain.Change {
	return domain.Delta(0)
}

func (a Additive) Existing(in ExistingInput, bounds domain.Bounds) (Decision, error) {
	delta := in.Update.Delta
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return Decision{}, fmt.Errorf("delta %v for %s: %w", delta, in.Entity.ID, apperrors.ErrMalformedProposal)
	}

	var adj []Adjustment

	tier := in.Market.TierOf(in.Entity.CurrentValue)
	limit := a.limitFor(tier)

	switch {
	case delta > limit.MaxIncrease:
		adj = append(adj, Adjustment{Rule: RuleTierCap, Note: fmt.Sprintf("%s cap: +%.2f limited to +%.2f", tier, delta, limit.MaxIncrease)})
		delta = limit.MaxIncrease
	case delta < -limit.MaxDecrease:
		adj = append(adj, Adjustment{Rule: RuleTierCap, Note: fmt.Sprintf("%s cap: %.2f limited to -%.2f", tier, delta, limit.MaxDecrease)})
		delta = -limit.MaxDecrease
	}

	if math.Abs(delta) > volatilityDeltaThreshold && recentVolatility(in.Recent) > volatilityWindowThreshold {
		adj = append(adj, Adjustment{Rule: RuleVolatility, Note: fmt.Sprintf("volatile entity: %.2f damped by %.1f", delta, volatilityFactor)})
		delta *= volatilityFactor
	}

	if prev, ok := lastDelta(in.Recent); ok && reverses(prev, delta) {
		adj = append(adj, Adjustment{Rule: RuleReversal, Note: fmt.Sprintf("reverses previous %.2f: %.2f damped by %.1f", prev, delta, reversalFactor)})
		delta *= reversalFactor
	}

	score := a.score(in.Update.Justification)
	if score < weakReasoningScore && math.Abs(delta) > weakReasoningDelta {
		adj = append(adj, Adjustment{Rule: RuleWeakReasoning, Note: fmt.Sprintf("justification score %.2f: %.2f damped by %.1f", score, delta, weakReasoningFactor)})
		delta *= weakReasoningFactor
	}

	change := domain.Delta(delta)
	value, applied := bounds.Apply(in.Entity.CurrentValue, change)
	adj = append(adj, boundsAdjustments(bounds, bounds.Trace(in.Entity.CurrentValue, change))...)

	return Decision{
		Change:      change,
		Value:       value,
		Delta:       applied,
		Adjustments: adj,
	}, nil
}

func (a Additive) limitFor(tier domain.Tier) ChangeLimit {
	limits := a.Limits
	if limits == nil {
		limits = DefaultTierLimits
	}

	if l, ok := limits[tier]; ok {
		return l
	}

	return limits[domain.TierWeak]
}

func (a Additive) score(text string) float64 {
	if a.Score == nil {
		return ReasoningScore(text)
	}

	return a.Score(text)
}

func recentVolatility(recent []domain.HistoryEntry) float64 {
	start := max(0, len(recent)-volatilityWindow)

	var sum float64
	for _, h := range recent[start:] {
		sum += math.Abs(h.Delta)
	}

	return sum
}

func lastDelta(recent []domain.HistoryEntry) (float64, bool) {
	if len(recent) == 0 {
		return 0, false
	}

	return recent[len(recent)-1].Delta, true
}

func reverses(prev, next float64) bool {
	return prev*next < 0 && math.Abs(prev) > reversalThreshold && math.Abs(next) > reversalThreshold
}
