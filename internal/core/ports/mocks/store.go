package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
)

var (
	_ ports.Store        = (*Store)(nil)
	_ ports.ReviewReader = (*Store)(nil)
)

// State is a full copy of the in-memory store contents.
type State struct {
	Entities   map[string]domain.Entity
	History    map[string][]domain.HistoryEntry
	Episodes   map[int]domain.Episode
	Snapshots  map[int]domain.MarketSnapshot
	Duplicates map[int][]domain.DuplicateGroup
	Runs       map[string]domain.ProcessingRun
	Cursor     int
}

func newState() *State {
	return &State{
		Entities:   make(map[string]domain.Entity),
		History:    make(map[string][]domain.HistoryEntry),
		Episodes:   make(map[int]domain.Episode),
		Snapshots:  make(map[int]domain.MarketSnapshot),
		Duplicates: make(map[int][]domain.DuplicateGroup),
		Runs:       make(map[string]domain.ProcessingRun),
	}
}

func (s *State) clone() *State {
	c := newState()
	c.Cursor = s.Cursor

	for k, v := range s.Entities {
		c.Entities[k] = v
	}

	for k, v := range s.History {
		c.History[k] = append([]domain.HistoryEntry(nil), v...)
	}

	for k, v := range s.Episodes {
		c.Episodes[k] = v
	}

	for k, v := range s.Snapshots {
		c.Snapshots[k] = v
	}

	for k, v := range s.Duplicates {
		c.Duplicates[k] = append([]domain.DuplicateGroup(nil), v...)
	}

	for k, v := range s.Runs {
		c.Runs[k] = v
	}

	return c
}

// Store is a thread-safe in-memory implementation of ports.Store.
// Transactions run against a copy that replaces the live state only on success.
type Store struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	state  *State
	bounds domain.Bounds
	now    func() time.Time

	// CommitErr, when set, fails every transaction after fn succeeds, as a crash before commit would.
	CommitErr error

	// ValuesAsOfFn allows overriding ValuesAsOf behavior.
	ValuesAsOfFn func(ctx context.Context, episode int) ([]domain.Valuation, error)
}

// NewStore creates an empty store enforcing bounds.
func NewStore(bounds domain.Bounds) *Store {
	return &Store{
		state:  newState(),
		bounds: bounds,
		now:    time.Now,
	}
}

// Dump returns a copy of the current state.
func (s *Store) Dump() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.clone()
}

// SetCursor sets the progress cursor directly.
func (s *Store) SetCursor(episode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Cursor = episode
}

// PutEntity stores an entity and its history directly, bypassing validation.
func (s *Store) PutEntity(e domain.Entity, history ...domain.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Entities[e.ID] = e
	s.state.History[e.ID] = append([]domain.HistoryEntry(nil), history...)
}

// PutEpisode stores an episode directly.
func (s *Store) PutEpisode(ep domain.Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Episodes[ep.Index] = ep
}

// GetEntity returns the entity or nil when absent.
func (s *Store) GetEntity(_ context.Context, id string) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.state.Entities[id]
	if !ok {
		return nil, nil //nolint:nilnil // absent entity is not an error
	}

	return &e, nil
}

// ListEntities returns all entities ordered by id.
func (s *Store) ListEntities(_ context.Context) ([]domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Entity, 0, len(s.state.Entities))
	for _, e := range s.state.Entities {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// History returns entries in episode order.
func (s *Store) History(_ context.Context, id string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.HistoryEntry(nil), s.state.History[id]...), nil
}

// RecentHistory returns the latest limit entries, oldest first.
func (s *Store) RecentHistory(_ context.Context, id string, limit int) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.state.History[id]
	start := max(0, len(h)-limit)

	return append([]domain.HistoryEntry(nil), h[start:]...), nil
}

// ValuesAsOf returns values as they stood after episode.
func (s *Store) ValuesAsOf(ctx context.Context, episode int) ([]domain.Valuation, error) {
	if s.ValuesAsOfFn != nil {
		return s.ValuesAsOfFn(ctx, episode)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Valuation

	for _, e := range s.state.Entities {
		if e.FirstAppearance > episode {
			continue
		}

		value := e.InitialValue

		for _, h := range s.state.History[e.ID] {
			if h.Episode <= episode {
				value = h.ResultingValue
			}
		}

		out = append(out, domain.Valuation{EntityID: e.ID, Name: e.Name, Value: value})
	}

	return out, nil
}

// GetEpisode returns the episode or nil when unseen.
func (s *Store) GetEpisode(_ context.Context, index int) (*domain.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.state.Episodes[index]
	if !ok {
		return nil, nil //nolint:nilnil // unseen episode is not an error
	}

	return &ep, nil
}

// Cursor returns the last committed episode.
func (s *Store) Cursor(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Cursor, nil
}

// GetSnapshot returns the cached snapshot or nil.
func (s *Store) GetSnapshot(_ context.Context, episode int) (*domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.state.Snapshots[episode]
	if !ok {
		return nil, nil //nolint:nilnil // missing cache entry is not an error
	}

	return &snap, nil
}

// InTx runs fn against a copy of the state and publishes it when fn succeeds.
func (s *Store) InTx(_ context.Context, fn func(tx ports.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{st: work, bounds: s.bounds, now: s.now}); err != nil {
		return err
	}

	if s.CommitErr != nil {
		return s.CommitErr
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()

	return nil
}

// BeginEpisode moves an episode to in_progress unless it is committed.
func (s *Store) BeginEpisode(_ context.Context, ep domain.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.state.Episodes[ep.Index]
	if ok && existing.State == domain.EpisodeCommitted {
		return fmt.Errorf("episode %d: %w", ep.Index, apperrors.ErrAlreadyProcessed)
	}

	ep.State = domain.EpisodeInProgress
	ep.Processed = false
	ep.ProcessedAt = nil
	ep.FailureCause = ""

	ep.CreatedAt = s.now()
	if ok {
		ep.CreatedAt = existing.CreatedAt
	}

	s.state.Episodes[ep.Index] = ep

	return nil
}

// RecordFailure marks the episode failed.
func (s *Store) RecordFailure(_ context.Context, index int, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.state.Episodes[index]
	if !ok {
		ep = domain.Episode{Index: index, CreatedAt: s.now()}
	}

	if ep.State == domain.EpisodeCommitted {
		return fmt.Errorf("episode %d: %w", index, apperrors.ErrAlreadyProcessed)
	}

	ep.State = domain.EpisodeFailed
	ep.FailureCause = cause
	s.state.Episodes[index] = ep

	return nil
}

// CheckInvariant compares the stored value with the folded history.
func (s *Store) CheckInvariant(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.state.Entities[id]
	if !ok {
		return fmt.Errorf("check invariant %s: %w", id, apperrors.ErrUnknownEntity)
	}

	return s.bounds.CheckFold(e, s.state.History[id])
}

// StartRun records a new run.
func (s *Store) StartRun(_ context.Context, run domain.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Runs[run.ID] = run

	return nil
}

// FinishRun updates a run.
func (s *Store) FinishRun(_ context.Context, run domain.ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, apperrors.ErrNotFound)
	}

	s.state.Runs[run.ID] = run

	return nil
}

// Duplicates returns the groups flagged for an episode.
func (s *Store) Duplicates(_ context.Context, episode int) ([]domain.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.DuplicateGroup(nil), s.state.Duplicates[episode]...), nil
}

// RecentRuns returns at most limit runs, newest first.
func (s *Store) RecentRuns(_ context.Context, limit int) ([]domain.ProcessingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]domain.ProcessingRun, 0, len(s.state.Runs))
	for _, r := range s.state.Runs {
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

type memTx struct {
	st     *State
	bounds domain.Bounds
	now    func() time.Time
}

func (t *memTx) CreateEntity(_ context.Context, ne domain.NewEntity) (*domain.Entity, error) {
	if strings.TrimSpace(ne.ID) == "" {
		return nil, fmt.Errorf("empty entity id: %w", apperrors.ErrInvalidValue)
	}

	if !t.bounds.ValidInitial(ne.InitialValue) {
		return nil, fmt.Errorf("entity %s initial value %v: %w", ne.ID, ne.InitialValue, apperrors.ErrInvalidValue)
	}

	if _, ok := t.st.Entities[ne.ID]; ok {
		return nil, fmt.Errorf("entity %s: %w", ne.ID, apperrors.ErrDuplicateEntity)
	}

	value := t.bounds.Clamp(ne.InitialValue)
	now := t.now()
	e := domain.Entity{
		ID:              ne.ID,
		Name:            ne.Name,
		InitialValue:    value,
		CurrentValue:    value,
		FirstAppearance: ne.FirstEpisode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t.st.Entities[e.ID] = e

	return &e, nil
}

func (t *memTx) Apply(_ context.Context, id string, episode int, change domain.Change, justification string) (*domain.HistoryEntry, error) {
	e, ok := t.st.Entities[id]
	if !ok {
		return nil, fmt.Errorf("apply to %s: %w", id, apperrors.ErrUnknownEntity)
	}

	for _, h := range t.st.History[id] {
		if h.Episode == episode {
			return nil, fmt.Errorf("entity %s episode %d: %w", id, episode, apperrors.ErrAlreadyProcessed)
		}
	}

	value, delta := t.bounds.Apply(e.CurrentValue, change)
	entry := domain.HistoryEntry{
		EntityID:       id,
		Episode:        episode,
		Delta:          delta,
		ResultingValue: value,
		Justification:  justification,
		Actions:        append([]domain.Action(nil), change.Actions...),
		CreatedAt:      t.now(),
	}

	history := append(t.st.History[id], entry)
	sort.SliceStable(history, func(i, j int) bool { return history[i].Episode < history[j].Episode })
	t.st.History[id] = history

	e.CurrentValue = value
	e.UpdatedAt = entry.CreatedAt
	t.st.Entities[id] = e

	return &entry, nil
}

func (t *memTx) SaveSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	t.st.Snapshots[snap.AsOf] = snap
	return nil
}

func (t *memTx) FlagDuplicates(_ context.Context, episode int, groups []domain.DuplicateGroup) error {
	if len(groups) == 0 {
		return nil
	}

	t.st.Duplicates[episode] = append(t.st.Duplicates[episode], groups...)

	return nil
}

func (t *memTx) MarkCommitted(_ context.Context, ep domain.Episode) error {
	existing, ok := t.st.Episodes[ep.Index]
	if ok && existing.State == domain.EpisodeCommitted {
		return fmt.Errorf("episode %d: %w", ep.Index, apperrors.ErrAlreadyProcessed)
	}

	now := t.now()
	ep.State = domain.EpisodeCommitted
	ep.Processed = true
	ep.ProcessedAt = &now
	ep.FailureCause = ""

	ep.CreatedAt = now
	if ok {
		ep.CreatedAt = existing.CreatedAt
	}

	t.st.Episodes[ep.Index] = ep

	return nil
}

func (t *memTx) AdvanceCursor(_ context.Context, episode int) error {
	if episode > t.st.Cursor {
		t.st.Cursor = episode
	}

	return nil
}
