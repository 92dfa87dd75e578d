package valuation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

const (
	testEntityID    = "Roronoa_Zoro"
	testNewKey      = "Nico_Robin"
	testNewName     = "Nico Robin"
	strongReasoning = "Zoro defeated the boss in an epic battle, showing awakening and haki."
	weakReasoning   = "ok"
	epsilon         = 1e-9
)

var (
	testBounds = domain.Bounds{Floor: 10, Ceiling: 10000}
	errOracle  = errors.New("oracle timeout")
	testMarket = domain.MarketSnapshot{
		Mean:        55,
		Percentiles: domain.Percentiles{10: 20, 25: 40, 33: 50, 50: 100, 66: 150, 75: 200, 90: 500, 99: 900},
	}
)

func existing(value float64, actions ...float64) ExistingInput {
	acts := make([]domain.Action, 0, len(actions))
	for _, m := range actions {
		acts = append(acts, domain.Action{Description: "action", Multiplier: m, Confidence: 0.8})
	}

	return ExistingInput{
		Entity: domain.Entity{ID: testEntityID, CurrentValue: value},
		Market: testMarket,
		Update: domain.ExistingEntityUpdate{EntityID: testEntityID, Actions: acts, Justification: strongReasoning},
	}
}

func TestMultiplicative_Chain(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	d, err := v.ValidateExisting(existing(100, 1.2, 0.9))
	require.NoError(t, err)

	assert.InDelta(t, 108.0, d.Value, epsilon)
	assert.InDelta(t, 8.0, d.Delta, epsilon)
	assert.Empty(t, d.Adjustments)
	assert.Equal(t, domain.ChangeChain, d.Change.Kind)
	assert.Len(t, d.Change.Actions, 2)
	assert.Equal(t, strongReasoning, d.Justification)
}

func TestMultiplicative_FloorClamp(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	d, err := v.ValidateExisting(existing(108, 0.05))
	require.NoError(t, err)

	assert.InDelta(t, 10.0, d.Value, epsilon)
	assert.InDelta(t, -98.0, d.Delta, epsilon)
	require.Len(t, d.Adjustments, 1)
	assert.Equal(t, RuleFloor, d.Adjustments[0].Rule)
}

func TestMultiplicative_RejectsOutOfRange(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	tests := []struct {
		name       string
		multiplier float64
	}{
		{name: "too large", multiplier: 7.0},
		{name: "too small", multiplier: 0.04},
		{name: "negative", multiplier: -1},
		{name: "nan", multiplier: math.NaN()},
		{name: "inf", multiplier: math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateExisting(existing(100, 1.1, tt.multiplier))
			require.ErrorIs(t, err, apperrors.ErrOutOfRangeMultiplier)
		})
	}
}

func TestMultiplicative_AcceptsBandEdges(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	_, err := v.ValidateExisting(existing(100, MinMultiplier, MaxMultiplier))
	require.NoError(t, err)
}

func TestMultiplicative_EmptyChainIsNoted(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	d, err := v.ValidateExisting(existing(100))
	require.NoError(t, err)

	assert.InDelta(t, 100.0, d.Value, epsilon)
	require.Len(t, d.Adjustments, 1)
	assert.Equal(t, RuleEmptyChain, d.Adjustments[0].Rule)
}

func TestValidateExisting_MismatchedEntity(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	in := existing(100, 1.1)
	in.Update.EntityID = "someone_else"

	_, err := v.ValidateExisting(in)
	require.ErrorIs(t, err, apperrors.ErrUnknownEntity)
}

func TestValidateNew(t *testing.T) {
	v := New(Multiplicative{}, testBounds)

	tests := []struct {
		name      string
		value     float64
		wantErr   error
		wantValue float64
		wantNotes int
	}{
		{name: "negative", value: -5, wantErr: apperrors.ErrInvalidValue},
		{name: "below one", value: 0.5, wantErr: apperrors.ErrInvalidValue},
		{name: "above ceiling", value: 20000, wantErr: apperrors.ErrInvalidValue},
		{name: "nan", value: math.NaN(), wantErr: apperrors.ErrInvalidValue},
		{name: "below floor raised", value: 5, wantValue: 10, wantNotes: 1},
		{name: "in range", value: 150, wantValue: 150},
		{name: "ceiling", value: 10000, wantValue: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := v.ValidateNew(domain.NewEntityUpdate{ExternalKey: testNewKey, DisplayName: testNewName, ProposedValue: tt.value})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.InDelta(t, tt.wantValue, d.Value, epsilon)
			assert.Len(t, d.Adjustments, tt.wantNotes)
			assert.Equal(t, testNewKey, d.ExternalKey)
		})
	}
}

func TestFallbacks(t *testing.T) {
	t.Run("multiplicative neutral", func(t *testing.T) {
		v := New(Multiplicative{}, testBounds)
		d := v.NeutralExisting(domain.Entity{ID: testEntityID, CurrentValue: 77}, errOracle)

		assert.True(t, d.Fallback)
		assert.InDelta(t, 77.0, d.Value, epsilon)
		assert.InDelta(t, 0.0, d.Delta, epsilon)
		assert.Equal(t, domain.ChangeChain, d.Change.Kind)
		require.Len(t, d.Adjustments, 1)
		assert.Equal(t, RuleFallback, d.Adjustments[0].Rule)
	})

	t.Run("additive neutral", func(t *testing.T) {
		v := New(NewAdditive(), testBounds)
		d := v.NeutralExisting(domain.Entity{ID: testEntityID, CurrentValue: 77}, errOracle)

		assert.Equal(t, domain.ChangeDelta, d.Change.Kind)
		assert.InDelta(t, 0.0, d.Delta, epsilon)
	})

	t.Run("new entity at market mean", func(t *testing.T) {
		v := New(Multiplicative{}, testBounds)
		d := v.FallbackNew(domain.Candidate{ExternalKey: testNewKey, DisplayName: testNewName}, testMarket, errOracle)

		assert.True(t, d.Fallback)
		assert.InDelta(t, 55.0, d.Value, epsilon)
		assert.Equal(t, testNewName, d.DisplayName)
	})
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(StrategyAdditive)
	require.NoError(t, err)
	assert.Equal(t, StrategyAdditive, s.Name())

	s, err = NewStrategy(StrategyMultiplicative)
	require.NoError(t, err)
	assert.Equal(t, StrategyMultiplicative, s.Name())

	_, err = NewStrategy("linear")
	require.Error(t, err)
}

func additiveInput(value, delta float64, justification string, recent ...float64) ExistingInput {
	history := make([]domain.HistoryEntry, 0, len(recent))
	for i, d := range recent {
		history = append(history, domain.HistoryEntry{EntityID: testEntityID, Episode: i + 1, Delta: d})
	}

	return ExistingInput{
		Entity: domain.Entity{ID: testEntityID, CurrentValue: value},
		Recent: history,
		Market: testMarket,
		Update: domain.ExistingEntityUpdate{EntityID: testEntityID, Delta: delta, Justification: justification},
	}
}

func rules(adj []Adjustment) []string {
	out := make([]string, 0, len(adj))
	for _, a := range adj {
		out = append(out, a.Rule)
	}

	return out
}

func TestAdditive(t *testing.T) {
	v := New(NewAdditive(), testBounds)

	tests := []struct {
		name      string
		in        ExistingInput
		wantDelta float64
		wantValue float64
		wantRules []string
	}{
		{
			name:      "tier cap on high tier",
			in:        additiveInput(100, 200, strongReasoning),
			wantDelta: 70,
			wantValue: 170,
			wantRules: []string{RuleTierCap},
		},
		{
			name:      "tier cap on decrease",
			in:        additiveInput(100, -200, strongReasoning),
			wantDelta: -50,
			wantValue: 50,
			wantRules: []string{RuleTierCap},
		},
		{
			name:      "volatility damping",
			in:        additiveInput(100, 60, strongReasoning, 60, 50),
			wantDelta: 42,
			wantValue: 142,
			wantRules: []string{RuleVolatility},
		},
		{
			name:      "volatility ignores older entries",
			in:        additiveInput(100, 60, strongReasoning, 90, 10, 10),
			wantDelta: 60,
			wantValue: 160,
			wantRules: []string{},
		},
		{
			name:      "reversal damping",
			in:        additiveInput(100, -40, strongReasoning, 30),
			wantDelta: -32,
			wantValue: 68,
			wantRules: []string{RuleReversal},
		},
		{
			name:      "small reversal not damped",
			in:        additiveInput(100, -40, strongReasoning, 15),
			wantDelta: -40,
			wantValue: 60,
			wantRules: []string{},
		},
		{
			name:      "weak reasoning damping",
			in:        additiveInput(100, 30, weakReasoning),
			wantDelta: 24,
			wantValue: 124,
			wantRules: []string{RuleWeakReasoning},
		},
		{
			name:      "weak reasoning with small delta",
			in:        additiveInput(100, 15, weakReasoning),
			wantDelta: 15,
			wantValue: 115,
			wantRules: []string{},
		},
		{
			name:      "floor clamp records applied delta",
			in:        additiveInput(20, -50, strongReasoning),
			wantDelta: -10,
			wantValue: 10,
			wantRules: []string{RuleFloor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := v.ValidateExisting(tt.in)
			require.NoError(t, err)

			assert.InDelta(t, tt.wantDelta, d.Delta, epsilon)
			assert.InDelta(t, tt.wantValue, d.Value, epsilon)
			assert.Equal(t, tt.wantRules, rules(d.Adjustments))
		})
	}
}

func TestAdditive_RejectsNonFinite(t *testing.T) {
	v := New(NewAdditive(), testBounds)

	_, err := v.ValidateExisting(additiveInput(100, math.NaN(), strongReasoning))
	require.ErrorIs(t, err, apperrors.ErrMalformedProposal)
}

func TestReasoningScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "empty", text: "", want: 0},
		{name: "too short", text: "good", want: 0},
		{name: "low keyword", text: "He appeared.", want: 0.15},
		{name: "mid keyword", text: "A big fight.", want: 0.25},
		{name: "strong and long", text: strongReasoning, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ReasoningScore(tt.text), epsilon)
		})
	}
}

func TestNotes(t *testing.T) {
	notes := Notes([]Adjustment{{Rule: RuleFloor, Note: "a"}, {Rule: RuleTierCap, Note: "b"}})
	assert.Equal(t, []string{"a", "b"}, notes)
}
