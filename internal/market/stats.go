// Package market computes aggregate statistics over entity values.
//
// Compute is a pure function of the values it is given. Service reads values
// from the entity store as of the episode before the one being processed, so
// statistics never include the update currently being evaluated.
package market

import (
	"math"
	"sort"

	"github.com/lueurxax/character-market/internal/core/domain"
)

const defaultTopN = 10

// Config holds the statistics parameters.
type Config struct {
	// Baseline is returned for every statistic when the population is empty.
	Baseline float64
	// TopN bounds the top and bottom lists.
	TopN int
}

// Percentile returns the nearest-rank percentile of ascending-sorted values:
// index = ceil(p/100 * n) - 1, clamped to [0, n-1].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}

	if idx > n-1 {
		idx = n - 1
	}

	return sorted[idx]
}

// Compute derives a snapshot for episode asOf from values.
func Compute(values []domain.Valuation, asOf int, cfg Config) domain.MarketSnapshot {
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}

	if len(values) == 0 {
		return baseline(asOf, cfg.Baseline)
	}

	ranked := make([]domain.Valuation, len(values))
	copy(ranked, values)

	// Ties break on id so the lists are deterministic.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value < ranked[j].Value
		}

		return ranked[i].EntityID < ranked[j].EntityID
	})

	sorted := make([]float64, len(ranked))

	var sum float64

	for i, v := range ranked {
		sorted[i] = v.Value
		sum += v.Value
	}

	percentiles := make(domain.Percentiles, len(domain.PercentileKeys))
	for _, p := range domain.PercentileKeys {
		percentiles[p] = Percentile(sorted, float64(p))
	}

	n := min(cfg.TopN, len(ranked))

	bottom := make([]domain.Valuation, n)
	copy(bottom, ranked[:n])

	top := make([]domain.Valuation, 0, n)
	for i := len(ranked) - 1; i >= len(ranked)-n; i-- {
		top = append(top, ranked[i])
	}

	return domain.MarketSnapshot{
		AsOf:        asOf,
		Mean:        sum / float64(len(sorted)),
		Median:      median(sorted),
		Percentiles: percentiles,
		TopN:        top,
		BottomN:     bottom,
		TotalCount:  len(sorted),
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func baseline(asOf int, value float64) domain.MarketSnapshot {
	percentiles := make(domain.Percentiles, len(domain.PercentileKeys))
	for _, p := range domain.PercentileKeys {
		percentiles[p] = value
	}

	return domain.MarketSnapshot{
		AsOf:        asOf,
		Mean:        value,
		Median:      value,
		Percentiles: percentiles,
		TopN:        []domain.Valuation{},
		BottomN:     []domain.Valuation{},
		Baseline:    true,
	}
}
