package domain

// Percentile keys tracked in every snapshot.
var PercentileKeys = []int{10, 25, 33, 50, 66, 75, 90, 99}

// Percentiles maps a percentile (10 for p10) to its value.
type Percentiles map[int]float64

// Valuation is an entity's value at a point in the episode sequence.
type Valuation struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
}

// MarketSnapshot is derived, cacheable statistics as of an episode.
// AsOf is the episode the statistics are consumed by; they cover episodes before it.
type MarketSnapshot struct {
	AsOf        int         `json:"as_of"`
	Mean        float64     `json:"mean"`
	Median      float64     `json:"median"`
	Percentiles Percentiles `json:"percentiles"`
	TopN        []Valuation `json:"top_n"`
	BottomN     []Valuation `json:"bottom_n"`
	TotalCount  int         `json:"total_count"`
	Baseline    bool        `json:"baseline"`
}

// Tier is a percentile bucket of an entity's value.
type Tier string

const (
	TierLegendary Tier = "legendary"
	TierTop       Tier = "top_tier"
	TierHigh      Tier = "high_tier"
	TierMid       Tier = "mid_tier"
	TierLow       Tier = "low_tier"
	TierWeak      Tier = "weak"
)

// TierOf classifies value against the snapshot's percentiles.
// Callers pass pre-episode values and a pre-episode snapshot.
func (s MarketSnapshot) TierOf(value float64) Tier {
	p := s.Percentiles

	switch {
	case value >= p[90]:
		return TierLegendary
	case value >= p[75]:
		return TierTop
	case value >= p[50]:
		return TierHigh
	case value >= p[33]:
		return TierMid
	case value >= p[10]:
		return TierLow
	default:
		return TierWeak
	}
}
