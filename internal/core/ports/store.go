// Package ports provides domain-centric interfaces for external dependencies.
// These interfaces follow the ports and adapters (hexagonal) architecture pattern,
// allowing the processing core to remain independent of storage, transport and LLM details.
package ports

import (
	"context"

	"github.com/lueurxax/character-market/internal/core/domain"
)

// EntityReader provides read access to entities and their history.
type EntityReader interface {
	// GetEntity returns nil, nil when the entity does not exist.
	GetEntity(ctx context.Context, id string) (*domain.Entity, error)
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	// History returns every entry for the entity in episode order.
	History(ctx context.Context, id string) ([]domain.HistoryEntry, error)
	// RecentHistory returns at most limit latest entries, oldest first.
	RecentHistory(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error)
	// ValuesAsOf returns every entity introduced at or before episode with its value after it.
	ValuesAsOf(ctx context.Context, episode int) ([]domain.Valuation, error)
}

// EpisodeReader provides read access to episode progress and cached snapshots.
type EpisodeReader interface {
	// GetEpisode returns nil, nil for an unseen episode.
	GetEpisode(ctx context.Context, index int) (*domain.Episode, error)
	// Cursor returns the last committed episode, 0 when nothing is committed.
	Cursor(ctx context.Context) (int, error)
	// GetSnapshot returns nil, nil when no snapshot is cached.
	GetSnapshot(ctx context.Context, episode int) (*domain.MarketSnapshot, error)
}

// Tx groups the mutations of one episode. Nothing is visible until the
// surrounding InTx returns without error.
type Tx interface {
	CreateEntity(ctx context.Context, e domain.NewEntity) (*domain.Entity, error)
	Apply(ctx context.Context, id string, episode int, change domain.Change, justification string) (*domain.HistoryEntry, error)
	SaveSnapshot(ctx context.Context, snap domain.MarketSnapshot) error
	FlagDuplicates(ctx context.Context, episode int, groups []domain.DuplicateGroup) error
	MarkCommitted(ctx context.Context, episode domain.Episode) error
	AdvanceCursor(ctx context.Context, episode int) error
}

// RunRecorder persists processing run bookkeeping.
type RunRecorder interface {
	StartRun(ctx context.Context, run domain.ProcessingRun) error
	FinishRun(ctx context.Context, run domain.ProcessingRun) error
}

// ReviewReader exposes what operators review: flagged duplicates and run history.
type ReviewReader interface {
	// Duplicates returns the unreviewed groups flagged in an episode.
	Duplicates(ctx context.Context, episode int) ([]domain.DuplicateGroup, error)
	// RecentRuns returns at most limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]domain.ProcessingRun, error)
}

// Store is the entity store used by the processing controller.
type Store interface {
	EntityReader
	EpisodeReader
	RunRecorder

	InTx(ctx context.Context, fn func(tx Tx) error) error
	// BeginEpisode records content retrieval and moves the episode to in_progress.
	BeginEpisode(ctx context.Context, episode domain.Episode) error
	// RecordFailure moves the episode to failed with the given cause.
	RecordFailure(ctx context.Context, index int, cause string) error
	// CheckInvariant recomputes the value from history and compares it to the stored value.
	CheckInvariant(ctx context.Context, id string) error
}
