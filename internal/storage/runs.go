package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/character-market/internal/core/domain"
)

func (db *DB) StartRun(ctx context.Context, run domain.ProcessingRun) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO processing_runs (id, start_episode, last_committed, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		toUUID(run.ID), run.StartEpisode, run.LastCommitted, string(run.Status), run.StartedAt); err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}

	return nil
}

func (db *DB) FinishRun(ctx context.Context, run domain.ProcessingRun) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE processing_runs
		SET last_committed = $2, status = $3, error = $4, finished_at = $5
		WHERE id = $1`,
		toUUID(run.ID), run.LastCommitted, string(run.Status), SanitizeUTF8(run.Error), toTimestamptzPtr(run.FinishedAt)); err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	return nil
}

// RecentRuns returns the latest processing runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]domain.ProcessingRun, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, start_episode, last_committed, status, error, started_at, finished_at
		FROM processing_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingRun

	for rows.Next() {
		var (
			r        domain.ProcessingRun
			id       pgtype.UUID
			status   string
			finished pgtype.Timestamptz
		)

		if err := rows.Scan(&id, &r.StartEpisode, &r.LastCommitted, &status, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.ID = fromUUID(id)
		r.Status = domain.RunStatus(status)
		r.FinishedAt = fromTimestamptzPtr(finished)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return out, nil
}
