package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/character-market/internal/core/domain"
)

func (db *DB) GetSnapshot(ctx context.Context, episode int) (*domain.MarketSnapshot, error) {
	var data []byte

	err := db.Pool.QueryRow(ctx, `SELECT data FROM market_snapshots WHERE as_of = $1`, episode).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // no cached snapshot
		}

		return nil, fmt.Errorf("get snapshot %d: %w", episode, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", episode, err)
	}

	return &snap, nil
}

// SaveSnapshot caches the snapshot a valuation was made against, keyed by its as-of episode.
// An existing entry is overwritten, which is how the cache is rebuilt.
func (t *pgTx) SaveSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.AsOf, err)
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO market_snapshots (as_of, data)
		VALUES ($1, $2)
		ON CONFLICT (as_of) DO UPDATE SET data = EXCLUDED.data, created_at = now()`,
		snap.AsOf, data); err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.AsOf, err)
	}

	return nil
}
