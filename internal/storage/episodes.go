package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

func (db *DB) GetEpisode(ctx context.Context, index int) (*domain.Episode, error) {
	var (
		ep    domain.Episode
		state string
	)

	var processedAt, releasedAt pgtype.Timestamptz

	err := db.Pool.QueryRow(ctx, `
		SELECT idx, title, arc, state, processed, processed_at, failure_cause, released_at, created_at
		FROM episodes
		WHERE idx = $1`, index).Scan(
		&ep.Index, &ep.Title, &ep.Arc, &state, &ep.Processed, &processedAt, &ep.FailureCause, &releasedAt, &ep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // unseen episode
		}

		return nil, fmt.Errorf("get episode %d: %w", index, err)
	}

	ep.State = domain.EpisodeState(state)
	ep.ProcessedAt = fromTimestamptzPtr(processedAt)
	ep.ReleasedAt = fromTimestamptzPtr(releasedAt)

	return &ep, nil
}

func (db *DB) Cursor(ctx context.Context) (int, error) {
	var last int

	err := db.Pool.QueryRow(ctx, `SELECT last_committed FROM progress_cursor WHERE id = 1`).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("read cursor: %w", err)
	}

	return last, nil
}

// BeginEpisode moves the episode to in_progress. A committed episode is left untouched.
func (db *DB) BeginEpisode(ctx context.Context, ep domain.Episode) error {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO episodes (idx, title, arc, state, processed, released_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (idx) DO UPDATE SET
			title = EXCLUDED.title,
			arc = EXCLUDED.arc,
			state = EXCLUDED.state,
			processed = false,
			processed_at = NULL,
			failure_cause = '',
			released_at = EXCLUDED.released_at
		WHERE episodes.state <> $6`,
		ep.Index, SanitizeUTF8(ep.Title), SanitizeUTF8(ep.Arc), stateInProgress, toTimestamptzPtr(ep.ReleasedAt), stateCommitted)
	if err != nil {
		return fmt.Errorf("begin episode %d: %w", ep.Index, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d: %w", ep.Index, apperrors.ErrAlreadyProcessed)
	}

	return nil
}

func (db *DB) RecordFailure(ctx context.Context, index int, cause string) error {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO episodes (idx, state, failure_cause)
		VALUES ($1, $2, $3)
		ON CONFLICT (idx) DO UPDATE SET
			state = EXCLUDED.state,
			failure_cause = EXCLUDED.failure_cause
		WHERE episodes.state <> $4`,
		index, stateFailed, SanitizeUTF8(cause), stateCommitted)
	if err != nil {
		return fmt.Errorf("record failure for episode %d: %w", index, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d: %w", index, apperrors.ErrAlreadyProcessed)
	}

	return nil
}

func (t *pgTx) MarkCommitted(ctx context.Context, ep domain.Episode) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO episodes (idx, title, arc, state, processed, processed_at, released_at)
		VALUES ($1, $2, $3, $4, true, now(), $5)
		ON CONFLICT (idx) DO UPDATE SET
			state = EXCLUDED.state,
			processed = true,
			processed_at = EXCLUDED.processed_at,
			failure_cause = ''
		WHERE episodes.state <> $4`,
		ep.Index, SanitizeUTF8(ep.Title), SanitizeUTF8(ep.Arc), stateCommitted, toTimestamptzPtr(ep.ReleasedAt))
	if err != nil {
		return fmt.Errorf("mark episode %d committed: %w", ep.Index, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d: %w", ep.Index, apperrors.ErrAlreadyProcessed)
	}

	return nil
}

// AdvanceCursor never moves the cursor backwards.
func (t *pgTx) AdvanceCursor(ctx context.Context, episode int) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO progress_cursor (id, last_committed, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			last_committed = GREATEST(progress_cursor.last_committed, EXCLUDED.last_committed),
			updated_at = now()`, episode); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", episode, err)
	}

	return nil
}

func (t *pgTx) FlagDuplicates(ctx context.Context, episode int, groups []domain.DuplicateGroup) error {
	if len(groups) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, g := range groups {
		batch.Queue(`
			INSERT INTO duplicate_flags (episode, kind, keys, names)
			VALUES ($1, $2, $3, $4)`,
			episode, string(g.Kind), g.Keys, g.Names)
	}

	results := t.tx.SendBatch(ctx, batch)

	for range groups {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("flag duplicates for episode %d: %w", episode, err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("close duplicate batch: %w", err)
	}

	return nil
}

// Duplicates returns the unreviewed duplicate groups flagged for an episode.
func (db *DB) Duplicates(ctx context.Context, episode int) ([]domain.DuplicateGroup, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT kind, keys, names
		FROM duplicate_flags
		WHERE episode = $1 AND NOT reviewed
		ORDER BY id`, episode)
	if err != nil {
		return nil, fmt.Errorf("list duplicates for episode %d: %w", episode, err)
	}
	defer rows.Close()

	var out []domain.DuplicateGroup

	for rows.Next() {
		var (
			g    domain.DuplicateGroup
			kind string
		)

		if err := rows.Scan(&kind, &g.Keys, &g.Names); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}

		g.Kind = domain.DuplicateKind(kind)
		out = append(out, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicates: %w", err)
	}

	return out, nil
}
