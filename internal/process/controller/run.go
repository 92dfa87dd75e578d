package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/platform/worker"
)

// RunSummary describes one Run invocation.
type RunSummary struct {
	ID            string
	StartEpisode  int
	LastCommitted int
	Committed     int
	Skipped       int
	Status        domain.RunStatus
}

type fetched struct {
	index   int
	content *domain.EpisodeContent
	err     error
}

// Run processes episodes from cursor+1 up to and including to. With to <= 0
// it stops at the first episode the content provider does not have.
// Retrieval of upcoming episodes overlaps with processing, but episodes are
// always applied one at a time in order.
func (c *Controller) Run(ctx context.Context, to int) (RunSummary, error) {
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read cursor: %w", err)
	}

	run := domain.ProcessingRun{
		ID:            uuid.New().String(),
		StartEpisode:  cursor + 1,
		LastCommitted: cursor,
		Status:        domain.RunRunning,
		StartedAt:     c.now(),
	}

	if err := c.store.StartRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("start run: %w", err)
	}

	logger := c.logger.With().Str(logKeyRunID, run.ID).Logger()
	logger.Info().Int("from", run.StartEpisode).Int("to", to).Msg("run started")

	summary := RunSummary{ID: run.ID, StartEpisode: run.StartEpisode, LastCommitted: cursor}
	runErr := c.drain(ctx, run.StartEpisode, to, &summary)

	run.LastCommitted = summary.LastCommitted
	run.Status = runStatus(ctx, runErr)
	summary.Status = run.Status

	if runErr != nil {
		run.Error = runErr.Error()
	}

	finished := c.now()
	run.FinishedAt = &finished

	// The run record is written even when ctx is already canceled.
	if err := c.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error().Err(err).Msg("failed to record run result")
	}

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}

	event.
		Str("status", string(run.Status)).
		Int("committed", summary.Committed).
		Int("skipped", summary.Skipped).
		Int("last_committed", summary.LastCommitted).
		Msg("run finished")

	return summary, runErr
}

func (c *Controller) drain(ctx context.Context, from, to int, summary *RunSummary) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := c.prefetch(fetchCtx, from, to)

	// Unblock the prefetcher on early return.
	defer func() {
		cancel()

		for range results {
		}
	}()

	for f := range results {
		if f.err != nil {
			err := c.retrievalFailed(ctx, f.index, f.err)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				c.logger.Info().Int(logKeyEpisode, f.index).Msg("episode not available yet, stopping")
				return nil
			}

			return err
		}

		res, done, err := c.checkStart(ctx, f.index)
		if err != nil {
			return err
		}

		if done {
			summary.Skipped++
			continue
		}

		if _, err := c.apply(ctx, f.content); err != nil {
			return err
		}

		summary.Committed++
		summary.LastCommitted = res.Episode
	}

	return ctx.Err()
}

// prefetch fetches episodes in order into a channel of PrefetchDepth.
// It stops after the first failed fetch.
func (c *Controller) prefetch(ctx context.Context, from, to int) <-chan fetched {
	out := make(chan fetched, c.cfg.PrefetchDepth)

	go func() {
		defer close(out)
		defer worker.RecoverPanic(c.logger, "prefetch")

		for index := from; to <= 0 || index <= to; index++ {
			content, err := c.fetch(ctx, index)
			if ctx.Err() != nil {
				return
			}

			select {
			case out <- fetched{index: index, content: content, err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return out
}

func runStatus(ctx context.Context, err error) domain.RunStatus {
	switch {
	case err == nil:
		return domain.RunCompleted
	case ctx.Err() != nil:
		return domain.RunCanceled
	default:
		return domain.RunFailed
	}
}

// Follow polls for the next episode and processes it once released. The
// consistency audit runs periodically alongside. Retrieval failures are
// retried on the next poll; any other failure stops the loop.
func (c *Controller) Follow(ctx context.Context) error {
	var tasks []worker.PeriodicTask

	if c.cfg.AuditInterval > 0 {
		tasks = append(tasks, worker.PeriodicTask{
			Name:     auditTaskName,
			Interval: c.cfg.AuditInterval,
			Run: func(ctx context.Context) {
				if _, err := c.Audit(ctx); err != nil {
					c.logger.Error().Err(err).Msg("consistency audit failed")
				}
			},
		})
	}

	return worker.Loop(ctx, worker.Config{
		Name:          followWorker,
		PollInterval:  c.cfg.FollowPollInterval,
		Step:          c.followStep,
		PeriodicTasks: tasks,
		OnError: func(err error) bool {
			if apperrors.KindOf(err) == apperrors.KindRetrieval && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("retrieval failed, retrying on next poll")
				return true
			}

			return false
		},
		Logger: c.logger,
	})
}

func (c *Controller) followStep(ctx context.Context) (bool, error) {
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return false, fmt.Errorf("read cursor: %w", err)
	}

	if _, err := c.ProcessEpisode(ctx, cursor+1); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// RebuildSnapshots recomputes the cached pre-episode snapshot of every
// committed episode from history.
func (c *Controller) RebuildSnapshots(ctx context.Context) (int, error) {
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	rebuilt := 0

	for index := 1; index <= cursor; index++ {
		snap, err := c.stats.Snapshot(ctx, index)
		if err != nil {
			return rebuilt, err
		}

		if err := c.store.InTx(ctx, func(tx ports.Tx) error {
			return tx.SaveSnapshot(ctx, snap)
		}); err != nil {
			return rebuilt, fmt.Errorf("save snapshot %d: %w", index, err)
		}

		rebuilt++
	}

	c.logger.Info().Int("snapshots", rebuilt).Msg("snapshot cache rebuilt")

	return rebuilt, nil
}
