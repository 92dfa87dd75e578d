package domain

import (
	"fmt"
	"math"

	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// FoldTolerance is the absolute difference tolerated between a stored value and its folded history.
const FoldTolerance = 1e-6

// Bounds are the hard floor and ceiling every current value stays within.
type Bounds struct {
	Floor   float64
	Ceiling float64
}

// Clamp returns v limited to [Floor, Ceiling].
func (b Bounds) Clamp(v float64) float64 {
	return math.Min(b.Ceiling, math.Max(b.Floor, v))
}

// ChangeKind selects how a Change is applied.
type ChangeKind int

const (
	ChangeDelta ChangeKind = iota
	ChangeChain
)

// Change is a value update: either a signed delta or an ordered multiplier chain.
type Change struct {
	Kind    ChangeKind
	Delta   float64
	Actions []Action
}

// Delta builds an additive change.
func Delta(d float64) Change {
	return Change{Kind: ChangeDelta, Delta: d}
}

// Chain builds a multiplicative change from ordered actions.
func Chain(actions []Action) Change {
	return Change{Kind: ChangeChain, Actions: actions}
}

// Step is one intermediate value produced while applying a change.
type Step struct {
	Raw     float64
	Value   float64
	Clamped bool
}

// Trace applies c to current and returns every intermediate step.
// Chains are clamped after each multiplier, not only after the product.
func (b Bounds) Trace(current float64, c Change) []Step {
	if c.Kind == ChangeDelta {
		raw := current + c.Delta
		v := b.Clamp(raw)

		return []Step{{Raw: raw, Value: v, Clamped: v != raw}}
	}

	steps := make([]Step, 0, len(c.Actions))
	v := current

	for _, a := range c.Actions {
		raw := v * a.Multiplier
		v = b.Clamp(raw)
		steps = append(steps, Step{Raw: raw, Value: v, Clamped: v != raw})
	}

	return steps
}

// Apply returns the resulting value and the actual delta of applying c to current.
func (b Bounds) Apply(current float64, c Change) (value, delta float64) {
	value = current

	if steps := b.Trace(current, c); len(steps) > 0 {
		value = steps[len(steps)-1].Value
	}

	return value, value - current
}

// Fold replays history over the initial value, clamping at each step.
// Entries must be in episode order.
func (b Bounds) Fold(initial float64, history []HistoryEntry) float64 {
	v := b.Clamp(initial)

	for _, h := range history {
		v = b.Clamp(v + h.Delta)
	}

	return v
}

// CheckFold compares e's stored value with the fold of its history.
func (b Bounds) CheckFold(e Entity, history []HistoryEntry) error {
	for i := 1; i < len(history); i++ {
		if history[i].Episode <= history[i-1].Episode {
			return fmt.Errorf("history of %s not in episode order at %d: %w", e.ID, history[i].Episode, apperrors.ErrInvalidValue)
		}
	}

	expected := b.Fold(e.InitialValue, history)
	if math.Abs(expected-e.CurrentValue) > FoldTolerance {
		return &apperrors.ConsistencyError{
			EntityID: e.ID,
			Episode:  b.divergedAt(e, history),
			Expected: expected,
			Actual:   e.CurrentValue,
		}
	}

	return nil
}

// divergedAt returns the first episode whose recorded resulting value differs
// from the running fold. If every entry agrees, the stored value drifted after
// the last entry.
func (b Bounds) divergedAt(e Entity, history []HistoryEntry) int {
	v := b.Clamp(e.InitialValue)

	for _, h := range history {
		v = b.Clamp(v + h.Delta)
		if math.Abs(v-h.ResultingValue) > FoldTolerance {
			return h.Episode
		}
	}

	if len(history) == 0 {
		return e.FirstAppearance
	}

	return history[len(history)-1].Episode
}

// ValidInitial reports whether v is acceptable as a starting value.
func (b Bounds) ValidInitial(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v <= b.Ceiling
}
