// Package valuation turns untrusted oracle proposals into bounded changes.
//
// Two strategies share one interface: a multiplicative action chain with a hard
// floor, and additive per-episode deltas capped by tier. The validator never
// drops an update silently; every adjustment is reported as a note.
package valuation

import (
	"fmt"
	"math"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// Strategy names.
const (
	StrategyMultiplicative = "multiplicative"
	StrategyAdditive       = "additive"
)

// Adjustment rules, used for notes and metrics.
const (
	RuleFloor          = "floor"
	RuleCeiling        = "ceiling"
	RuleTierCap        = "tier_cap"
	RuleVolatility     = "volatility_damping"
	RuleReversal       = "reversal_damping"
	RuleWeakReasoning  = "weak_reasoning_damping"
	RuleFallback       = "fallback"
	RuleEmptyChain     = "empty_chain"
	RuleNewEntityFloor = "new_entity_floor"
)

// Adjustment is a human-readable note about how a proposal was changed.
type Adjustment struct {
	Rule string
	Note string
}

// ExistingInput is everything a strategy may look at for one existing entity.
// Recent holds the latest history entries in episode order, oldest first.
type ExistingInput struct {
	Entity domain.Entity
	Recent []domain.HistoryEntry
	Market domain.MarketSnapshot
	Update domain.ExistingEntityUpdate
}

// Decision is a validated change for an existing entity.
type Decision struct {
	EntityID      string
	Change        domain.Change
	Value         float64
	Delta         float64
	Justification string
	Adjustments   []Adjustment
	Fallback      bool
}

// NewDecision is a validated starting value for a new entity.
type NewDecision struct {
	ExternalKey   string
	DisplayName   string
	Value         float64
	Justification string
	Adjustments   []Adjustment
	Fallback      bool
}

// Strategy validates existing-entity proposals.
type Strategy interface {
	Name() string
	Existing(in ExistingInput, bounds domain.Bounds) (Decision, error)
	Neutral() domain.Change
}

// Validator wraps a strategy with the bounds shared by both models.
type Validator struct {
	strategy Strategy
	bounds   domain.Bounds
}

func New(strategy Strategy, bounds domain.Bounds) *Validator {
	return &Validator{strategy: strategy, bounds: bounds}
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyMultiplicative:
		return Multiplicative{}, nil
	case StrategyAdditive:
		return NewAdditive(), nil
	default:
		return nil, fmt.Errorf("unknown valuation strategy %q: %w", name, apperrors.ErrInvalidValue)
	}
}

// Strategy returns the wrapped strategy name.
func (v *Validator) Strategy() string {
	return v.strategy.Name()
}

// Bounds returns the floor and ceiling.
func (v *Validator) Bounds() domain.Bounds {
	return v.bounds
}

// ValidateExisting validates a proposal for an existing entity.
func (v *Validator) ValidateExisting(in ExistingInput) (Decision, error) {
	if in.Update.EntityID != in.Entity.ID {
		return Decision{}, fmt.Errorf("proposal for %q applied to %q: %w", in.Update.EntityID, in.Entity.ID, apperrors.ErrUnknownEntity)
	}

	d, err := v.strategy.Existing(in, v.bounds)
	if err != nil {
		return Decision{}, err
	}

	d.EntityID = in.Entity.ID
	d.Justification = in.Update.Justification

	return d, nil
}

// ValidateNew validates a starting value, which must lie in [1, ceiling].
// Values below the floor are raised to it with a note.
func (v *Validator) ValidateNew(u domain.NewEntityUpdate) (NewDecision, error) {
	if math.IsNaN(u.ProposedValue) || math.IsInf(u.ProposedValue, 0) || u.ProposedValue < 1 || u.ProposedValue > v.bounds.Ceiling {
		return NewDecision{}, fmt.Errorf("new entity %q value %v outside [1, %v]: %w",
			u.ExternalKey, u.ProposedValue, v.bounds.Ceiling, apperrors.ErrInvalidValue)
	}

	d := NewDecision{
		ExternalKey:   u.ExternalKey,
		DisplayName:   u.DisplayName,
		Value:         u.ProposedValue,
		Justification: u.Justification,
	}

	if d.Value < v.bounds.Floor {
		d.Adjustments = append(d.Adjustments, Adjustment{
			Rule: RuleNewEntityFloor,
			Note: fmt.Sprintf("starting value %.2f raised to floor %.2f", u.ProposedValue, v.bounds.Floor),
		})
		d.Value = v.bounds.Floor
	}

	return d, nil
}

// NeutralExisting is the safe default used when the oracle cannot produce a valid proposal.
func (v *Validator) NeutralExisting(e domain.Entity, cause error) Decision {
	change := v.strategy.Neutral()
	value, delta := v.bounds.Apply(e.CurrentValue, change)

	return Decision{
		EntityID:      e.ID,
		Change:        change,
		Value:         value,
		Delta:         delta,
		Justification: "no valid proposal; value held",
		Adjustments:   []Adjustment{{Rule: RuleFallback, Note: fmt.Sprintf("neutral fallback: %v", cause)}},
		Fallback:      true,
	}
}

// FallbackNew starts a new entity at the market mean when the oracle cannot value it.
func (v *Validator) FallbackNew(c domain.Candidate, market domain.MarketSnapshot, cause error) NewDecision {
	value := math.Max(v.bounds.Floor, math.Min(v.bounds.Ceiling, market.Mean))

	return NewDecision{
		ExternalKey:   c.ExternalKey,
		DisplayName:   c.DisplayName,
		Value:         value,
		Justification: "no valid proposal; started at market mean",
		Adjustments:   []Adjustment{{Rule: RuleFallback, Note: fmt.Sprintf("market mean fallback: %v", cause)}},
		Fallback:      true,
	}
}

// Notes flattens adjustments into strings.
func Notes(adjustments []Adjustment) []string {
	notes := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		notes = append(notes, a.Note)
	}

	return notes
}

func boundsAdjustments(bounds domain.Bounds, steps []domain.Step) []Adjustment {
	var out []Adjustment

	for i, s := range steps {
		if !s.Clamped {
			continue
		}

		rule := RuleFloor
		if s.Raw > bounds.Ceiling {
			rule = RuleCeiling
		}

		out = append(out, Adjustment{
			Rule: rule,
			Note: fmt.Sprintf("step %d: %.2f clamped to %.2f", i+1, s.Raw, s.Value),
		})
	}

	return out
}
