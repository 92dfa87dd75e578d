package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports/mocks"
	"github.com/lueurxax/character-market/internal/market"
	"github.com/lueurxax/character-market/internal/valuation"
)

const (
	keyLuffy  = "Monkey_D._Luffy"
	nameLuffy = "Monkey D. Luffy"
	keyZoro   = "Roronoa_Zoro"
	nameZoro  = "Roronoa Zoro"
	keyNami   = "Nami"
	nameNami  = "Nami"

	testBody     = "Luffy and Zoro fight their way through the marines to reach the ship before dawn."
	testBaseline = 100.0
	epsilon      = 1e-9
)

var (
	testBounds   = domain.Bounds{Floor: 10, Ceiling: 10000}
	errTransient = errors.New("connection reset")
)

type fixture struct {
	store    *mocks.Store
	content  *mocks.ContentProvider
	oracle   *mocks.Oracle
	filter   *mocks.CandidateFilter
	notifier *mocks.Notifier
	cfg      Config
	ctrl     *Controller
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := Config{
		Strict:               true,
		RetrievalMaxRetries:  2,
		OracleMaxRetries:     1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		MinContentLength:     20,
		MinCandidates:        1,
		PrefetchDepth:        2,
		RecentHistory:        5,
		FollowPollInterval:   5 * time.Millisecond,
		Market:               market.Config{Baseline: testBaseline},
	}

	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		store:    mocks.NewStore(testBounds),
		content:  mocks.NewContentProvider(),
		oracle:   mocks.NewOracle(),
		filter:   &mocks.CandidateFilter{},
		notifier: mocks.NewNotifier(),
		cfg:      cfg,
	}

	f.useStrategy(valuation.Multiplicative{})

	return f
}

// useStrategy rebuilds the controller around strategy, keeping the collaborators.
func (f *fixture) useStrategy(strategy valuation.Strategy) {
	logger := zerolog.Nop()

	f.ctrl = New(f.cfg, f.store, Collaborators{
		Content:  f.content,
		Oracle:   f.oracle,
		Filter:   f.filter,
		Notifier: f.notifier,
	}, valuation.New(strategy, testBounds), &logger)
}

func episode(index int, cands ...domain.Candidate) *domain.EpisodeContent {
	return &domain.EpisodeContent{
		Index:      index,
		Title:      "Episode",
		Body:       testBody,
		Candidates: cands,
	}
}

func luffy() domain.Candidate {
	return domain.Candidate{ExternalKey: keyLuffy, DisplayName: nameLuffy}
}

func zoro() domain.Candidate {
	return domain.Candidate{ExternalKey: keyZoro, DisplayName: nameZoro}
}

func nami() domain.Candidate {
	return domain.Candidate{ExternalKey: keyNami, DisplayName: nameNami}
}

// seedLuffy stores Luffy as introduced in episode 1 at value 100 and sets the cursor to 1.
func (f *fixture) seedLuffy() {
	f.store.PutEntity(domain.Entity{ID: keyLuffy, Name: nameLuffy, InitialValue: 100, CurrentValue: 100, FirstAppearance: 1})
	f.store.PutEpisode(domain.Episode{Index: 1, State: domain.EpisodeCommitted, Processed: true})
	f.store.SetCursor(1)
}

func chain(entityID string, multipliers ...float64) domain.ExistingEntityUpdate {
	actions := make([]domain.Action, 0, len(multipliers))
	for _, m := range multipliers {
		actions = append(actions, domain.Action{Description: "event", Multiplier: m, Confidence: 0.9})
	}

	return domain.ExistingEntityUpdate{EntityID: entityID, Actions: actions, Justification: "fought well"}
}

func TestProcessEpisode_CreatesNewEntities(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy(), zoro()))

	res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)

	state := f.store.Dump()
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, domain.EpisodeCommitted, state.Episodes[1].State)
	require.Contains(t, state.Entities, keyLuffy)
	assert.Equal(t, 1, state.Entities[keyLuffy].FirstAppearance)
	assert.InDelta(t, 100.0, state.Entities[keyLuffy].CurrentValue, epsilon)

	snap, ok := state.Snapshots[1]
	require.True(t, ok)
	assert.Equal(t, 0, snap.TotalCount)
	assert.InDelta(t, testBaseline, snap.Mean, epsilon)
}

func TestProcessEpisode_AppliesChain(t *testing.T) {
	f := newFixture(t)
	f.seedLuffy()
	f.content.Set(episode(2, luffy()))

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		return chain(req.Entity.Entity.ID, 1.5, 0.5), nil
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	state := f.store.Dump()
	assert.InDelta(t, 75.0, state.Entities[keyLuffy].CurrentValue, epsilon)

	history := state.History[keyLuffy]
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].Episode)
	assert.InDelta(t, -25.0, history[0].Delta, epsilon)
	assert.Len(t, history[0].Actions, 2)

	requests := f.oracle.Requests()
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].Entity)
	assert.Equal(t, valuation.StrategyMultiplicative, requests[0].Strategy)
	assert.Equal(t, 1, requests[0].Market.TotalCount)
}

func TestProcessEpisode_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))

	_, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)

	before := f.store.Dump()

	res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, res.Status)

	after := f.store.Dump()
	assert.Equal(t, before.Entities, after.Entities)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, 1, f.content.Calls(1))
	assert.Len(t, f.oracle.Requests(), 1)
}

func TestProcessEpisode_StrictOrder(t *testing.T) {
	f := newFixture(t)
	f.store.SetCursor(3)
	f.content.Set(episode(4, luffy()))
	f.content.Set(episode(5, zoro()))

	_, err := f.ctrl.ProcessEpisode(context.Background(), 5)
	require.ErrorIs(t, err, apperrors.ErrOutOfOrder)
	assert.Equal(t, 0, f.content.Calls(5))

	res, err := f.ctrl.ProcessEpisode(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 4, f.store.Dump().Cursor)
	assert.Equal(t, 4, f.store.Dump().Entities[keyLuffy].FirstAppearance)
}

func TestProcessEpisode_NonStrictAllowsGaps(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Strict = false })
	f.content.Set(episode(3, luffy()))

	_, err := f.ctrl.ProcessEpisode(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.Dump().Cursor)
}

func TestProcessEpisode_NonStrictNeverGoesBack(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Strict = false })
	f.seedLuffy()
	f.content.Set(episode(2, luffy()))
	f.content.Set(episode(3, luffy()))

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		if req.Content.Index == 3 {
			return chain(req.Entity.Entity.ID, 2.0), nil
		}

		return chain(req.Entity.Entity.ID, 0.5), nil
	}

	_, err := f.ctrl.ProcessEpisode(context.Background(), 3)
	require.NoError(t, err)

	before := f.store.Dump()
	require.Equal(t, 3, before.Cursor)
	assert.InDelta(t, 200.0, before.Entities[keyLuffy].CurrentValue, epsilon)

	_, err = f.ctrl.ProcessEpisode(context.Background(), 2)
	require.ErrorIs(t, err, apperrors.ErrOutOfOrder)

	after := f.store.Dump()
	assert.Equal(t, before, after)
	assert.Len(t, f.oracle.Requests(), 1)

	violations, err := f.ctrl.Audit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestProcessEpisode_AdditiveDamping(t *testing.T) {
	f := newFixture(t)
	f.useStrategy(valuation.NewAdditive())

	f.store.PutEntity(
		domain.Entity{ID: keyLuffy, Name: nameLuffy, InitialValue: 100, CurrentValue: 150, FirstAppearance: 1},
		domain.HistoryEntry{EntityID: keyLuffy, Episode: 2, Delta: 50, ResultingValue: 150},
	)
	f.store.PutEntity(domain.Entity{ID: keyZoro, Name: nameZoro, InitialValue: 80, CurrentValue: 80, FirstAppearance: 1})
	f.store.PutEpisode(domain.Episode{Index: 1, State: domain.EpisodeCommitted, Processed: true})
	f.store.PutEpisode(domain.Episode{Index: 2, State: domain.EpisodeCommitted, Processed: true})
	f.store.SetCursor(2)
	f.content.Set(episode(3, luffy()))

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		return domain.ExistingEntityUpdate{EntityID: req.Entity.Entity.ID, Delta: -80, Justification: "bad"}, nil
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Fallbacks)

	requests := f.oracle.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, valuation.StrategyAdditive, requests[0].Strategy)
	assert.Equal(t, domain.TierLegendary, requests[0].Entity.Tier)

	// -80 capped to -30 for legendary, then 0.8 for the reversal and 0.8 for the weak justification.
	state := f.store.Dump()
	assert.InDelta(t, 130.8, state.Entities[keyLuffy].CurrentValue, epsilon)

	history := state.History[keyLuffy]
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[1].Episode)
	assert.InDelta(t, -19.2, history[1].Delta, epsilon)
	assert.Contains(t, history[1].Justification, "legendary cap")
	assert.Contains(t, history[1].Justification, "reverses previous")
	assert.Contains(t, history[1].Justification, "justification score")

	require.NoError(t, f.store.CheckInvariant(context.Background(), keyLuffy))
}

func TestProcessEpisode_InvalidIndex(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.ProcessEpisode(context.Background(), 0)
	require.ErrorIs(t, err, apperrors.ErrOutOfOrder)
}

func TestProcessEpisode_OutOfRangeMultiplierHoldsValue(t *testing.T) {
	f := newFixture(t)
	f.seedLuffy()
	f.content.Set(episode(2, luffy()))

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		return chain(req.Entity.Entity.ID, 7), nil
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fallbacks)

	// Rejections are not retried.
	assert.Len(t, f.oracle.Requests(), 1)

	state := f.store.Dump()
	assert.InDelta(t, 100.0, state.Entities[keyLuffy].CurrentValue, epsilon)

	history := state.History[keyLuffy]
	require.Len(t, history, 1)
	assert.InDelta(t, 0.0, history[0].Delta, epsilon)
	assert.Contains(t, history[0].Justification, "neutral fallback")
}

func TestProcessEpisode_OracleErrorsRetriedThenFallback(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.OracleMaxRetries = 2 })
	f.store.PutEntity(domain.Entity{ID: keyZoro, Name: nameZoro, InitialValue: 300, CurrentValue: 300, FirstAppearance: 1})
	f.store.PutEpisode(domain.Episode{Index: 1, State: domain.EpisodeCommitted})
	f.store.SetCursor(1)
	f.content.Set(episode(2, luffy()))

	f.oracle.ProposeFn = func(context.Context, domain.ProposalRequest) (domain.Update, error) {
		return nil, errTransient
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Fallbacks)
	assert.Len(t, f.oracle.Requests(), 3)

	// A new entity without a valid proposal starts at the market mean.
	state := f.store.Dump()
	assert.InDelta(t, 300.0, state.Entities[keyLuffy].InitialValue, epsilon)
	assert.Equal(t, domain.EpisodeCommitted, state.Episodes[2].State)
}

func TestProcessEpisode_TransientOracleErrorRecovers(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))

	var (
		mu    sync.Mutex
		calls int
	)

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		mu.Lock()
		defer mu.Unlock()

		calls++
		if calls == 1 {
			return nil, errTransient
		}

		return domain.NewEntityUpdate{ExternalKey: req.Candidate.ExternalKey, ProposedValue: 250, Confidence: 0.8, Justification: "captain"}, nil
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fallbacks)
	assert.InDelta(t, 250.0, f.store.Dump().Entities[keyLuffy].CurrentValue, epsilon)
}

func TestProcessEpisode_NewEntityBelowFloorRaised(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, nami()))

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		return domain.NewEntityUpdate{ExternalKey: req.Candidate.ExternalKey, ProposedValue: 3, Confidence: 0.5, Justification: "navigator"}, nil
	}

	res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Adjustments)

	e := f.store.Dump().Entities[keyNami]
	assert.InDelta(t, testBounds.Floor, e.CurrentValue, epsilon)
	assert.Equal(t, nameNami, e.Name)
}

func TestProcessEpisode_CanceledBeforeCommit(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		cancel()

		return domain.NewEntityUpdate{ExternalKey: req.Candidate.ExternalKey, ProposedValue: 100, Confidence: 1}, nil
	}

	_, err := f.ctrl.ProcessEpisode(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	state := f.store.Dump()
	assert.Empty(t, state.Entities)
	assert.Equal(t, 0, state.Cursor)
	assert.Equal(t, domain.EpisodeInProgress, state.Episodes[1].State)
	assert.Empty(t, f.notifier.Messages())
}

func TestProcessEpisode_CommitFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy(), zoro()))
	f.store.CommitErr = errors.New("connection lost")

	_, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.Error(t, err)

	state := f.store.Dump()
	assert.Empty(t, state.Entities)
	assert.Empty(t, state.Snapshots)
	assert.Equal(t, 0, state.Cursor)
	assert.Equal(t, domain.EpisodeFailed, state.Episodes[1].State)
	assert.Contains(t, state.Episodes[1].FailureCause, "connection lost")
	require.Len(t, f.notifier.Messages(), 1)
}

func TestProcessEpisode_RetrievalFailures(t *testing.T) {
	tests := []struct {
		name      string
		content   *domain.EpisodeContent
		wantErr   error
		wantCalls int
		wantState domain.EpisodeState
	}{
		{
			name:      "short body",
			content:   &domain.EpisodeContent{Index: 1, Body: "too short", Candidates: []domain.Candidate{luffy()}},
			wantErr:   apperrors.ErrInsufficientContent,
			wantCalls: 1,
			wantState: domain.EpisodeFailed,
		},
		{
			name:      "no candidates",
			content:   &domain.EpisodeContent{Index: 1, Body: testBody},
			wantErr:   apperrors.ErrInsufficientContent,
			wantCalls: 1,
			wantState: domain.EpisodeFailed,
		},
		{
			name:      "not released",
			wantErr:   apperrors.ErrNotFound,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.content != nil {
				f.content.Set(tt.content)
			}

			_, err := f.ctrl.ProcessEpisode(context.Background(), 1)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, apperrors.KindRetrieval, apperrors.KindOf(err))
			assert.Equal(t, tt.wantCalls, f.content.Calls(1))

			ep, ok := f.store.Dump().Episodes[1]
			if tt.wantState == "" {
				assert.False(t, ok)
				return
			}

			require.True(t, ok)
			assert.Equal(t, tt.wantState, ep.State)
		})
	}
}

func TestProcessEpisode_RetrievalRetried(t *testing.T) {
	f := newFixture(t)

	var (
		mu    sync.Mutex
		calls int
	)

	f.content.GetEpisodeContentFn = func(context.Context, int) (*domain.EpisodeContent, error) {
		mu.Lock()
		defer mu.Unlock()

		calls++
		if calls < 3 {
			return nil, errTransient
		}

		return episode(0, luffy()), nil
	}

	_, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, f.content.Calls(1))
	assert.Equal(t, 1, f.store.Dump().Cursor)
}

func TestProcessEpisode_FailedEpisodeRetried(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RetrievalMaxRetries = 0 })
	f.content.GetEpisodeContentFn = func(context.Context, int) (*domain.EpisodeContent, error) {
		return nil, errTransient
	}

	_, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, domain.EpisodeFailed, f.store.Dump().Episodes[1].State)

	f.content.GetEpisodeContentFn = nil
	f.content.Set(episode(1, luffy()))

	_, err = f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EpisodeCommitted, f.store.Dump().Episodes[1].State)
}

func TestProcessEpisode_FlagsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy(), luffy(), zoro()))

	res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Duplicates)

	groups := f.store.Dump().Duplicates[1]
	require.Len(t, groups, 1)
	assert.Equal(t, domain.DuplicateHard, groups[0].Kind)
}

func TestProcessEpisode_CandidateFilter(t *testing.T) {
	tests := []struct {
		name        string
		filter      func(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error)
		wantCreated int
	}{
		{
			name: "drops non-individuals",
			filter: func(_ context.Context, _ domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error) {
				return candidates[:1], nil
			},
			wantCreated: 1,
		},
		{
			name: "failure keeps all",
			filter: func(context.Context, domain.EpisodeContent, []domain.Candidate) ([]domain.Candidate, error) {
				return nil, errTransient
			},
			wantCreated: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.FilterEnabled = true })
			f.filter.FilterCandidatesFn = tt.filter
			f.content.Set(episode(1, luffy(), zoro()))

			res, err := f.ctrl.ProcessEpisode(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, res.Created)
		})
	}
}

func TestProcessEpisode_FoldLawHolds(t *testing.T) {
	f := newFixture(t)
	multipliers := map[int][]float64{
		2: {1.5},
		3: {0.05, 0.05},
		4: {2, 1.1},
	}

	f.oracle.ProposeFn = func(_ context.Context, req domain.ProposalRequest) (domain.Update, error) {
		if req.Candidate != nil {
			return domain.NewEntityUpdate{ExternalKey: req.Candidate.ExternalKey, ProposedValue: 100, Confidence: 1}, nil
		}

		return chain(req.Entity.Entity.ID, multipliers[req.Content.Index]...), nil
	}

	for i := 1; i <= 4; i++ {
		f.content.Set(episode(i, luffy()))

		_, err := f.ctrl.ProcessEpisode(context.Background(), i)
		require.NoError(t, err)
	}

	state := f.store.Dump()
	e := state.Entities[keyLuffy]
	history := state.History[keyLuffy]

	require.Len(t, history, 3)
	assert.InDelta(t, testBounds.Fold(e.InitialValue, history), e.CurrentValue, epsilon)

	// 100 -> 150 -> floor -> 20 -> 22
	assert.InDelta(t, 22.0, e.CurrentValue, epsilon)

	violations, err := f.ctrl.Audit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRun_StopsAtFirstMissingEpisode(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.content.Set(episode(i, luffy()))
	}

	summary, err := f.ctrl.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Committed)
	assert.Equal(t, 1, summary.StartEpisode)
	assert.Equal(t, 3, summary.LastCommitted)
	assert.Equal(t, domain.RunCompleted, summary.Status)

	state := f.store.Dump()
	assert.Equal(t, 3, state.Cursor)
	assert.NotContains(t, state.Episodes, 4)

	run, ok := state.Runs[summary.ID]
	require.True(t, ok)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 3, run.LastCommitted)
	assert.NotNil(t, run.FinishedAt)
}

func TestRun_Bounded(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.content.Set(episode(i, luffy()))
	}

	summary, err := f.ctrl.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LastCommitted)
	assert.Equal(t, 0, f.content.Calls(3))
}

func TestRun_ResumesFromCursor(t *testing.T) {
	f := newFixture(t)
	f.seedLuffy()
	f.content.Set(episode(2, luffy()))

	summary, err := f.ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.StartEpisode)
	assert.Equal(t, 1, summary.Committed)
	assert.Equal(t, 0, f.content.Calls(1))
}

func TestRun_HaltsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))
	f.content.Set(&domain.EpisodeContent{Index: 2, Body: "short", Candidates: []domain.Candidate{luffy()}})
	f.content.Set(episode(3, luffy()))

	summary, err := f.ctrl.Run(context.Background(), 0)
	require.ErrorIs(t, err, apperrors.ErrInsufficientContent)

	assert.Equal(t, domain.RunFailed, summary.Status)
	assert.Equal(t, 1, summary.LastCommitted)

	state := f.store.Dump()
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, domain.EpisodeFailed, state.Episodes[2].State)
	assert.NotContains(t, state.Episodes, 3)
	assert.NotEmpty(t, state.Runs[summary.ID].Error)
}

func TestFollow_ProcessesReleasedEpisodes(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))
	f.content.Set(episode(2, zoro()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- f.ctrl.Follow(ctx) }()

	require.Eventually(t, func() bool { return f.store.Dump().Cursor == 2 }, time.Second, 5*time.Millisecond)

	f.content.Set(episode(3, nami()))
	require.Eventually(t, func() bool { return f.store.Dump().Cursor == 3 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("follow loop did not stop")
	}
}

func TestAudit_ReportsWithoutRepair(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntity(
		domain.Entity{ID: keyLuffy, Name: nameLuffy, InitialValue: 100, CurrentValue: 500, FirstAppearance: 1},
		domain.HistoryEntry{EntityID: keyLuffy, Episode: 2, Delta: 50, ResultingValue: 150},
	)
	f.store.PutEntity(domain.Entity{ID: keyZoro, Name: nameZoro, InitialValue: 80, CurrentValue: 80, FirstAppearance: 1})

	violations, err := f.ctrl.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 1)

	assert.Equal(t, keyLuffy, violations[0].EntityID)
	assert.Equal(t, 2, violations[0].Episode)
	assert.InDelta(t, 150.0, violations[0].Expected, epsilon)
	assert.InDelta(t, 500.0, violations[0].Actual, epsilon)

	assert.InDelta(t, 500.0, f.store.Dump().Entities[keyLuffy].CurrentValue, epsilon)

	messages := f.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], keyLuffy)
}

func TestRebuildSnapshots(t *testing.T) {
	f := newFixture(t)
	f.content.Set(episode(1, luffy()))
	f.content.Set(episode(2, zoro()))

	_, err := f.ctrl.Run(context.Background(), 0)
	require.NoError(t, err)

	committed := f.store.Dump().Snapshots

	n, err := f.ctrl.RebuildSnapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rebuilt := f.store.Dump().Snapshots
	require.Len(t, rebuilt, 2)
	assert.Equal(t, committed[2].TotalCount, rebuilt[2].TotalCount)
	assert.InDelta(t, committed[2].Mean, rebuilt[2].Mean, epsilon)
	assert.Equal(t, 1, rebuilt[2].TotalCount)
}

func TestWithNotes(t *testing.T) {
	tests := []struct {
		name          string
		justification string
		adjustments   []valuation.Adjustment
		want          string
	}{
		{name: "no notes", justification: "won", want: "won"},
		{
			name:          "notes appended",
			justification: "won",
			adjustments:   []valuation.Adjustment{{Rule: valuation.RuleFloor, Note: "raised to floor"}, {Rule: valuation.RuleCeiling, Note: "capped"}},
			want:          "won [raised to floor; capped]",
		},
		{
			name:        "notes only",
			adjustments: []valuation.Adjustment{{Rule: valuation.RuleFallback, Note: "held"}},
			want:        "[held]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withNotes(tt.justification, tt.adjustments))
		})
	}
}

func TestAuditMessage(t *testing.T) {
	msg := auditMessage([]*apperrors.ConsistencyError{{EntityID: keyZoro, Episode: 4, Expected: 1, Actual: 2}})

	assert.True(t, strings.HasPrefix(msg, "Consistency audit found 1 violation(s):"))
	assert.Contains(t, msg, keyZoro+" (episode 4)")
}
