// Package controller drives chronological episode processing.
//
// One episode at a time, the controller fetches content, resolves candidates,
// computes the pre-episode market snapshot, asks the oracle about each subject,
// validates every proposal and commits the whole batch in one store
// transaction together with the episode state and the progress cursor.
//
// Episode states move Unseen -> InProgress -> Committed | Failed. Committed is
// terminal, and processing it again is a no-op.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/market"
	"github.com/lueurxax/character-market/internal/platform/observability"
	"github.com/lueurxax/character-market/internal/process/resolver"
	"github.com/lueurxax/character-market/internal/valuation"
)

// Config controls ordering, retries and content checks.
type Config struct {
	Strict               bool
	RetrievalMaxRetries  int
	OracleMaxRetries     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	MinContentLength     int
	MinCandidates        int
	PrefetchDepth        int
	RecentHistory        int
	FilterEnabled        bool
	FollowPollInterval   time.Duration
	AuditInterval        time.Duration
	Market               market.Config
}

// Collaborators are the external services the controller calls.
type Collaborators struct {
	Content  ports.ContentProvider
	Oracle   ports.Oracle
	Filter   ports.CandidateFilter
	Notifier ports.Notifier
}

// Status is the outcome of processing one episode.
type Status string

const (
	StatusCommitted        Status = "committed"
	StatusAlreadyProcessed Status = "already_processed"
)

// Result summarizes one processed episode.
type Result struct {
	Episode     int
	Status      Status
	Created     int
	Updated     int
	Fallbacks   int
	Adjustments int
	Duplicates  int
	Duration    time.Duration
}

type Controller struct {
	cfg       Config
	store     ports.Store
	collab    Collaborators
	validator *valuation.Validator
	stats     *market.Service
	resolver  *resolver.Resolver
	logger    *zerolog.Logger
	now       func() time.Time
}

func New(cfg Config, store ports.Store, collab Collaborators, validator *valuation.Validator, logger *zerolog.Logger) *Controller {
	if cfg.PrefetchDepth < 1 {
		cfg.PrefetchDepth = 1
	}

	if cfg.MinCandidates < 1 {
		cfg.MinCandidates = 1
	}

	return &Controller{
		cfg:       cfg,
		store:     store,
		collab:    collab,
		validator: validator,
		stats:     market.NewService(store, cfg.Market),
		resolver:  resolver.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessEpisode processes a single episode end to end.
func (c *Controller) ProcessEpisode(ctx context.Context, index int) (Result, error) {
	if res, done, err := c.checkStart(ctx, index); err != nil || done {
		return res, err
	}

	content, err := c.fetch(ctx, index)
	if err != nil {
		return Result{Episode: index}, c.retrievalFailed(ctx, index, err)
	}

	return c.apply(ctx, content)
}

// checkStart reports done for an already committed episode and enforces
// ordering against the cursor.
func (c *Controller) checkStart(ctx context.Context, index int) (Result, bool, error) {
	if index < 1 {
		return Result{Episode: index}, false, fmt.Errorf("episode %d: %w", index, apperrors.ErrOutOfOrder)
	}

	ep, err := c.store.GetEpisode(ctx, index)
	if err != nil {
		return Result{Episode: index}, false, fmt.Errorf("load episode %d: %w", index, err)
	}

	if ep != nil && ep.State == domain.EpisodeCommitted {
		observability.EpisodesProcessed.WithLabelValues(observability.StatusAlreadyProcessed).Inc()
		c.logger.Info().Int(logKeyEpisode, index).Msg("episode already processed")

		return Result{Episode: index, Status: StatusAlreadyProcessed}, true, nil
	}

	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return Result{Episode: index}, false, fmt.Errorf("read cursor: %w", err)
	}

	// Gaps are allowed outside strict mode, going backwards never is.
	if index <= cursor || (c.cfg.Strict && index != cursor+1) {
		return Result{Episode: index}, false, fmt.Errorf("episode %d after cursor %d: %w", index, cursor, apperrors.ErrOutOfOrder)
	}

	return Result{Episode: index}, false, nil
}

// apply runs everything after retrieval. Nothing becomes visible unless the
// final transaction commits.
func (c *Controller) apply(ctx context.Context, content *domain.EpisodeContent) (Result, error) {
	start := c.now()
	index := content.Index
	logger := c.logger.With().Int(logKeyEpisode, index).Logger()
	res := Result{Episode: index}

	if err := c.store.BeginEpisode(ctx, episodeOf(content)); err != nil {
		return res, fmt.Errorf("begin episode %d: %w", index, err)
	}

	known, err := c.store.ListEntities(ctx)
	if err != nil {
		return res, c.episodeFailed(ctx, index, fmt.Errorf("list entities: %w", err))
	}

	resolved := c.resolver.Resolve(content.Candidates, known)
	res.Duplicates = len(resolved.Groups)

	if len(resolved.Groups) > 0 {
		logger.Info().
			Int("hard_groups", resolved.HardGroups()).
			Int("soft_groups", resolved.SoftGroups()).
			Msg("duplicate candidates flagged for review")
	}

	snap, err := c.stats.Snapshot(ctx, index)
	if err != nil {
		return res, c.episodeFailed(ctx, index, err)
	}

	subjects := c.filterCandidates(ctx, *content, resolved.Candidates, &logger)

	plan, err := c.valuate(ctx, *content, snap, known, subjects, &logger)
	if err != nil {
		return res, c.abortOrFail(ctx, index, err)
	}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("episode %d canceled before commit: %w", index, err)
	}

	if err := c.commit(ctx, content, snap, resolved.Groups, plan); err != nil {
		return res, c.abortOrFail(ctx, index, err)
	}

	res.Status = StatusCommitted
	res.Created = len(plan.created)
	res.Updated = len(plan.updated)
	res.Fallbacks = plan.fallbacks()
	res.Adjustments = plan.adjustments()
	res.Duration = c.now().Sub(start)

	observability.EpisodesProcessed.WithLabelValues(observability.StatusCommitted).Inc()
	observability.EpisodeDurationSeconds.Observe(res.Duration.Seconds())
	observability.CursorEpisode.Set(float64(index))
	observability.Entities.Set(float64(len(known) + res.Created))
	plan.recordMetrics()

	logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("fallbacks", res.Fallbacks).
		Int("adjustments", res.Adjustments).
		Dur("duration", res.Duration).
		Msg("episode committed")

	return res, nil
}

func (c *Controller) commit(ctx context.Context, content *domain.EpisodeContent, snap domain.MarketSnapshot, groups []domain.DuplicateGroup, p *plan) error {
	index := content.Index

	err := c.store.InTx(ctx, func(tx ports.Tx) error {
		for _, d := range p.created {
			if _, err := tx.CreateEntity(ctx, domain.NewEntity{
				ID:            d.ExternalKey,
				Name:          d.DisplayName,
				InitialValue:  d.Value,
				FirstEpisode:  index,
				Justification: withNotes(d.Justification, d.Adjustments),
			}); err != nil {
				return apperrors.Validation(d.ExternalKey, index, err)
			}
		}

		for _, d := range p.updated {
			if _, err := tx.Apply(ctx, d.EntityID, index, d.Change, withNotes(d.Justification, d.Adjustments)); err != nil {
				return apperrors.Validation(d.EntityID, index, err)
			}
		}

		if err := tx.SaveSnapshot(ctx, snap); err != nil {
			return err
		}

		if err := tx.FlagDuplicates(ctx, index, groups); err != nil {
			return err
		}

		if err := tx.MarkCommitted(ctx, episodeOf(content)); err != nil {
			return err
		}

		return tx.AdvanceCursor(ctx, index)
	})
	if err != nil {
		return fmt.Errorf("commit episode %d: %w", index, err)
	}

	return nil
}

// abortOrFail leaves a canceled episode in progress so it is redone on
// restart, and marks any other failure.
func (c *Controller) abortOrFail(ctx context.Context, index int, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("episode %d aborted: %w", index, err)
	}

	return c.episodeFailed(ctx, index, err)
}

func (c *Controller) retrievalFailed(ctx context.Context, index int, err error) error {
	err = apperrors.Retrieval(index, err)

	// A missing episode has not been released yet. It stays unseen.
	if apperrors.Is(err, apperrors.ErrNotFound) || ctx.Err() != nil {
		return err
	}

	return c.episodeFailed(ctx, index, err)
}

// episodeFailed persists the cause and alerts the operator. The run halts on
// the returned error so later episodes never see a gap.
func (c *Controller) episodeFailed(ctx context.Context, index int, cause error) error {
	observability.EpisodesProcessed.WithLabelValues(observability.StatusFailed).Inc()

	c.logger.Error().Err(cause).Int(logKeyEpisode, index).Str("kind", apperrors.KindOf(cause).String()).Msg("episode failed")

	if err := c.store.RecordFailure(ctx, index, cause.Error()); err != nil {
		c.logger.Error().Err(err).Int(logKeyEpisode, index).Msg("failed to record episode failure")
	}

	c.notify(ctx, fmt.Sprintf("Episode %d failed: %v", index, cause))

	return cause
}

func (c *Controller) notify(ctx context.Context, text string) {
	if c.collab.Notifier == nil {
		return
	}

	if err := c.collab.Notifier.Notify(ctx, text); err != nil {
		c.logger.Warn().Err(err).Msg("failed to notify operator")
	}
}

func episodeOf(content *domain.EpisodeContent) domain.Episode {
	return domain.Episode{
		Index:      content.Index,
		Title:      content.Title,
		Arc:        content.Arc,
		ReleasedAt: content.ReleasedAt,
	}
}
