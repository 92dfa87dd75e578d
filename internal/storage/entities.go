package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

const entityColumns = `id, name, initial_value, current_value, first_appearance, created_at, updated_at`

const historyColumns = `entity_id, episode, delta, resulting_value, justification, actions, created_at`

func scanEntity(row pgx.Row) (*domain.Entity, error) {
	var e domain.Entity
	if err := row.Scan(&e.ID, &e.Name, &e.InitialValue, &e.CurrentValue, &e.FirstAppearance, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	return &e, nil
}

func (db *DB) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	e, err := scanEntity(db.Pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // absent entity is not an error
		}

		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}

	return e, nil
}

func (db *DB) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY current_value DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	return out, nil
}

func (db *DB) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	return db.queryHistory(ctx, `
		SELECT `+historyColumns+`
		FROM entity_history
		WHERE entity_id = $1
		ORDER BY episode`, id)
}

func (db *DB) RecentHistory(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error) {
	return db.queryHistory(ctx, `
		SELECT * FROM (
			SELECT `+historyColumns+`
			FROM entity_history
			WHERE entity_id = $1
			ORDER BY episode DESC
			LIMIT $2
		) recent
		ORDER BY episode`, id, limit)
}

func (db *DB) queryHistory(ctx context.Context, query string, args ...interface{}) ([]domain.HistoryEntry, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry

	for rows.Next() {
		var (
			h       domain.HistoryEntry
			actions []byte
		)

		if err := rows.Scan(&h.EntityID, &h.Episode, &h.Delta, &h.ResultingValue, &h.Justification, &actions, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}

		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &h.Actions); err != nil {
				return nil, fmt.Errorf("decode actions for %s/%d: %w", h.EntityID, h.Episode, err)
			}
		}

		out = append(out, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return out, nil
}

// ValuesAsOf returns the value of every entity introduced at or before episode,
// taken from its latest history entry at or before episode.
func (db *DB) ValuesAsOf(ctx context.Context, episode int) ([]domain.Valuation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT e.id, e.name, COALESCE(h.resulting_value, e.initial_value)
		FROM entities e
		LEFT JOIN LATERAL (
			SELECT resulting_value
			FROM entity_history
			WHERE entity_id = e.id AND episode <= $1
			ORDER BY episode DESC
			LIMIT 1
		) h ON true
		WHERE e.first_appearance <= $1`, episode)
	if err != nil {
		return nil, fmt.Errorf("values as of %d: %w", episode, err)
	}
	defer rows.Close()

	var out []domain.Valuation

	for rows.Next() {
		var v domain.Valuation
		if err := rows.Scan(&v.EntityID, &v.Name, &v.Value); err != nil {
			return nil, fmt.Errorf("scan valuation: %w", err)
		}

		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valuations: %w", err)
	}

	return out, nil
}

// CheckInvariant recomputes the entity's value from its history.
// It never repairs a divergence.
func (db *DB) CheckInvariant(ctx context.Context, id string) error {
	e, err := db.GetEntity(ctx, id)
	if err != nil {
		return err
	}

	if e == nil {
		return fmt.Errorf("check invariant %s: %w", id, apperrors.ErrUnknownEntity)
	}

	history, err := db.History(ctx, id)
	if err != nil {
		return err
	}

	return db.Bounds.CheckFold(*e, history)
}

// pgTx implements ports.Tx on a pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	bounds domain.Bounds
}

func (t *pgTx) CreateEntity(ctx context.Context, ne domain.NewEntity) (*domain.Entity, error) {
	if ne.ID == "" {
		return nil, fmt.Errorf("empty entity id: %w", apperrors.ErrInvalidValue)
	}

	if !t.bounds.ValidInitial(ne.InitialValue) {
		return nil, fmt.Errorf("entity %s initial value %v: %w", ne.ID, ne.InitialValue, apperrors.ErrInvalidValue)
	}

	value := t.bounds.Clamp(ne.InitialValue)

	e, err := scanEntity(t.tx.QueryRow(ctx, `
		INSERT INTO entities (id, name, initial_value, current_value, first_appearance)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+entityColumns,
		ne.ID, SanitizeUTF8(ne.Name), value, ne.FirstEpisode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entity %s: %w", ne.ID, apperrors.ErrDuplicateEntity)
		}

		return nil, fmt.Errorf("insert entity %s: %w", ne.ID, err)
	}

	return e, nil
}

func (t *pgTx) Apply(ctx context.Context, id string, episode int, change domain.Change, justification string) (*domain.HistoryEntry, error) {
	var current float64

	err := t.tx.QueryRow(ctx, `SELECT current_value FROM entities WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("apply to %s: %w", id, apperrors.ErrUnknownEntity)
		}

		return nil, fmt.Errorf("lock entity %s: %w", id, err)
	}

	value, delta := t.bounds.Apply(current, change)

	actions := change.Actions
	if actions == nil {
		actions = []domain.Action{}
	}

	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("encode actions: %w", err)
	}

	entry := domain.HistoryEntry{
		EntityID:       id,
		Episode:        episode,
		Delta:          delta,
		ResultingValue: value,
		Justification:  SanitizeUTF8(justification),
		Actions:        change.Actions,
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO entity_history (entity_id, episode, delta, resulting_value, justification, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, episode) DO NOTHING
		RETURNING created_at`,
		id, episode, delta, value, entry.Justification, actionsJSON).Scan(&entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entity %s episode %d: %w", id, episode, apperrors.ErrAlreadyProcessed)
		}

		return nil, fmt.Errorf("insert history %s/%d: %w", id, episode, err)
	}

	if _, err := t.tx.Exec(ctx, `
		UPDATE entities SET current_value = $2, updated_at = $3 WHERE id = $1`,
		id, value, time.Now()); err != nil {
		return nil, fmt.Errorf("update entity %s: %w", id, err)
	}

	return &entry, nil
}
