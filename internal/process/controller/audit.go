package controller

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/platform/observability"
)

// Audit checks every entity's stored value against the fold of its history.
// Divergences are reported, never repaired.
func (c *Controller) Audit(ctx context.Context) ([]*apperrors.ConsistencyError, error) {
	entities, err := c.store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	var violations []*apperrors.ConsistencyError

	for _, e := range entities {
		err := c.store.CheckInvariant(ctx, e.ID)
		if err == nil {
			continue
		}

		var ce *apperrors.ConsistencyError
		if !apperrors.As(err, &ce) {
			return violations, fmt.Errorf("check invariant %s: %w", e.ID, err)
		}

		observability.ConsistencyViolations.Inc()
		c.logger.Error().
			Str(logKeyEntity, ce.EntityID).
			Int(logKeyEpisode, ce.Episode).
			Float64("stored", ce.Actual).
			Float64("expected", ce.Expected).
			Int("first_appearance", e.FirstAppearance).
			Msg("entity value diverges from history")

		violations = append(violations, ce)
	}

	if len(violations) > 0 {
		c.notify(ctx, auditMessage(violations))
	}

	c.logger.Info().Int("entities", len(entities)).Int("violations", len(violations)).Msg("consistency audit finished")

	return violations, nil
}

func auditMessage(violations []*apperrors.ConsistencyError) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Consistency audit found %d violation(s):", len(violations))

	for _, v := range violations {
		fmt.Fprintf(&b, "\n%s (episode %d): stored %.4f, history %.4f", v.EntityID, v.Episode, v.Actual, v.Expected)
	}

	return b.String()
}
