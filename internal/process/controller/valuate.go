package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/platform/observability"
	"github.com/lueurxax/character-market/internal/valuation"
)

// errValidationRejected marks an oracle proposal the validator refused.
var errValidationRejected = errors.New("proposal rejected by validation")

// plan is the validated batch for one episode.
type plan struct {
	created []valuation.NewDecision
	updated []valuation.Decision
}

func (p *plan) fallbacks() int {
	n := 0

	for _, d := range p.created {
		if d.Fallback {
			n++
		}
	}

	for _, d := range p.updated {
		if d.Fallback {
			n++
		}
	}

	return n
}

func (p *plan) adjustments() int {
	n := 0

	for _, d := range p.created {
		n += len(d.Adjustments)
	}

	for _, d := range p.updated {
		n += len(d.Adjustments)
	}

	return n
}

func (p *plan) recordMetrics() {
	record := func(adjs []valuation.Adjustment) {
		for _, a := range adjs {
			observability.ValidationAdjustments.WithLabelValues(a.Rule).Inc()
		}
	}

	for _, d := range p.created {
		record(d.Adjustments)
	}

	for _, d := range p.updated {
		record(d.Adjustments)
	}
}

// filterCandidates drops non-individuals when the filter is enabled.
// A filter failure keeps every candidate.
func (c *Controller) filterCandidates(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate, logger *zerolog.Logger) []domain.Candidate {
	if !c.cfg.FilterEnabled || c.collab.Filter == nil || len(candidates) == 0 {
		return candidates
	}

	kept, err := c.collab.Filter.FilterCandidates(ctx, content, candidates)
	if err != nil {
		logger.Warn().Err(err).Int("candidates", len(candidates)).Msg("candidate filter failed, keeping all candidates")
		return candidates
	}

	if dropped := len(candidates) - len(kept); dropped > 0 {
		logger.Debug().Int("dropped", dropped).Int("kept", len(kept)).Msg("candidates filtered")
	}

	return kept
}

// valuate asks the oracle about every subject and validates the answers.
// Per-subject oracle failures fall back to safe defaults. Only cancellation
// and store errors abort the episode.
func (c *Controller) valuate(ctx context.Context, content domain.EpisodeContent, snap domain.MarketSnapshot, known []domain.Entity, subjects []domain.Candidate, logger *zerolog.Logger) (*plan, error) {
	byID := make(map[string]domain.Entity, len(known))
	for _, e := range known {
		byID[e.ID] = e
	}

	p := &plan{}

	for _, cand := range subjects {
		if e, ok := byID[cand.ExternalKey]; ok {
			d, err := c.valuateExisting(ctx, content, snap, e, logger)
			if err != nil {
				return nil, err
			}

			p.updated = append(p.updated, d)

			continue
		}

		d, err := c.valuateNew(ctx, content, snap, cand, logger)
		if err != nil {
			return nil, err
		}

		p.created = append(p.created, d)
	}

	return p, nil
}

func (c *Controller) valuateExisting(ctx context.Context, content domain.EpisodeContent, snap domain.MarketSnapshot, e domain.Entity, logger *zerolog.Logger) (valuation.Decision, error) {
	recent, err := c.store.RecentHistory(ctx, e.ID, c.cfg.RecentHistory)
	if err != nil {
		return valuation.Decision{}, fmt.Errorf("recent history for %s: %w", e.ID, err)
	}

	req := domain.ProposalRequest{
		Strategy: c.validator.Strategy(),
		Content:  content,
		Market:   snap,
		Entity: &domain.EntityContext{
			Entity:        e,
			Tier:          snap.TierOf(e.CurrentValue),
			RecentHistory: recent,
		},
	}

	var decision valuation.Decision

	err = c.propose(ctx, req, e.ID, logger, func(u domain.Update) error {
		upd, ok := u.(domain.ExistingEntityUpdate)
		if !ok {
			return fmt.Errorf("%w: expected existing entity update, got %T", apperrors.ErrMalformedProposal, u)
		}

		d, err := c.validator.ValidateExisting(valuation.ExistingInput{
			Entity: e,
			Recent: recent,
			Market: snap,
			Update: upd,
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", errValidationRejected, apperrors.Validation(e.ID, content.Index, err)))
		}

		decision = d

		return nil
	})

	switch {
	case err == nil:
		return decision, nil
	case ctx.Err() != nil:
		return valuation.Decision{}, fmt.Errorf("valuate %s: %w", e.ID, ctx.Err())
	}

	observability.OracleCalls.WithLabelValues(observability.OutcomeFallback).Inc()
	logger.Warn().Err(err).Str(logKeyEntity, e.ID).Msg("no valid proposal, holding value")

	return c.validator.NeutralExisting(e, err), nil
}

func (c *Controller) valuateNew(ctx context.Context, content domain.EpisodeContent, snap domain.MarketSnapshot, cand domain.Candidate, logger *zerolog.Logger) (valuation.NewDecision, error) {
	req := domain.ProposalRequest{
		Strategy:  c.validator.Strategy(),
		Content:   content,
		Market:    snap,
		Candidate: &cand,
	}

	var decision valuation.NewDecision

	err := c.propose(ctx, req, cand.ExternalKey, logger, func(u domain.Update) error {
		upd, ok := u.(domain.NewEntityUpdate)
		if !ok {
			return fmt.Errorf("%w: expected new entity update, got %T", apperrors.ErrMalformedProposal, u)
		}

		// The key and name come from the content, not from the oracle.
		upd.ExternalKey = cand.ExternalKey
		upd.DisplayName = cand.DisplayName

		d, err := c.validator.ValidateNew(upd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", errValidationRejected, apperrors.Validation(cand.ExternalKey, content.Index, err)))
		}

		decision = d

		return nil
	})

	switch {
	case err == nil:
		return decision, nil
	case ctx.Err() != nil:
		return valuation.NewDecision{}, fmt.Errorf("valuate %s: %w", cand.ExternalKey, ctx.Err())
	}

	observability.OracleCalls.WithLabelValues(observability.OutcomeFallback).Inc()
	logger.Warn().Err(err).Str(logKeyEntity, cand.ExternalKey).Msg("no valid proposal, starting at market mean")

	return c.validator.FallbackNew(cand, snap, err), nil
}

// propose calls the oracle with retries and hands each answer to accept.
// Transport and shape errors are retried; validation rejections are not.
func (c *Controller) propose(ctx context.Context, req domain.ProposalRequest, subject string, logger *zerolog.Logger, accept func(domain.Update) error) error {
	attempt := 0

	op := func() error {
		attempt++

		u, err := c.collab.Oracle.Propose(ctx, req)
		if err != nil {
			observability.OracleCalls.WithLabelValues(observability.OutcomeError).Inc()

			if apperrors.Is(err, apperrors.ErrOracleDisabled) {
				return backoff.Permanent(err)
			}

			return apperrors.Oracle(subject, req.Content.Index, err)
		}

		if u == nil {
			observability.OracleCalls.WithLabelValues(observability.OutcomeError).Inc()
			return apperrors.Oracle(subject, req.Content.Index, apperrors.ErrMalformedProposal)
		}

		if err := accept(u); err != nil {
			if errors.Is(err, errValidationRejected) {
				observability.OracleCalls.WithLabelValues(observability.OutcomeRejected).Inc()
			} else {
				observability.OracleCalls.WithLabelValues(observability.OutcomeError).Inc()
			}

			return err
		}

		observability.OracleCalls.WithLabelValues(observability.OutcomeAccepted).Inc()

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug().Err(err).Str(logKeyEntity, subject).Int(logKeyAttempt, attempt).Dur("retry_in", wait).Msg("oracle proposal failed, retrying")
	}

	return backoff.RetryNotify(op, c.newBackOff(ctx, c.cfg.OracleMaxRetries), notify)
}

// withNotes appends validation notes to a justification so the history
// records why a value differs from the proposal.
func withNotes(justification string, adjustments []valuation.Adjustment) string {
	notes := valuation.Notes(adjustments)
	if len(notes) == 0 {
		return justification
	}

	suffix := "[" + strings.Join(notes, notesSeparator) + "]"
	if justification == "" {
		return suffix
	}

	return justification + " " + suffix
}
