package valuation

import (
	"fmt"
	"math"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// Accepted multiplier band for a single action.
const (
	MinMultiplier = 0.05
	MaxMultiplier = 5.0
)

// Multiplicative applies each action's multiplier in order. An out-of-band
// multiplier rejects the whole proposal instead of being re-clamped.
type Multiplicative struct{}

func (Multiplicative) Name() string {
	return StrategyMultiplicative
}

func (Multiplicative) Neutral() domain.Change {
	return domain.Chain([]domain.Action{{Description: "neutral", Multiplier: 1, Confidence: 0}})
}

func (Multiplicative) Existing(in ExistingInput, bounds domain.Bounds) (Decision, error) {
	for i, a := range in.Update.Actions {
		if math.IsNaN(a.Multiplier) || a.Multiplier < MinMultiplier || a.Multiplier > MaxMultiplier {
			return Decision{}, fmt.Errorf("action %d (%q) multiplier %v outside [%v, %v]: %w",
				i+1, a.Description, a.Multiplier, MinMultiplier, MaxMultiplier, apperrors.ErrOutOfRangeMultiplier)
		}
	}

	actions := make([]domain.Action, len(in.Update.Actions))
	copy(actions, in.Update.Actions)

	change := domain.Chain(actions)
	steps := bounds.Trace(in.Entity.CurrentValue, change)
	value, delta := bounds.Apply(in.Entity.CurrentValue, change)

	d := Decision{
		Change:      change,
		Value:       value,
		Delta:       delta,
		Adjustments: boundsAdjustments(bounds, steps),
	}

	if len(actions) == 0 {
		d.Adjustments = append(d.Adjustments, Adjustment{Rule: RuleEmptyChain, Note: "no actions proposed; value unchanged"})
	}

	return d, nil
}
