package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/character-market/internal/core/domain"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/core/ports/mocks"
	"github.com/lueurxax/character-market/internal/market"
)

const (
	keyLuffy = "Monkey_D._Luffy"
	keyZoro  = "Roronoa_Zoro"
	keyNami  = "Nami"
	epsilon  = 1e-9
)

func newTestHandler(t *testing.T) (*Handler, *mocks.Store) {
	t.Helper()

	store := mocks.NewStore(domain.Bounds{Floor: 10, Ceiling: 10000})
	store.PutEntity(
		domain.Entity{ID: keyLuffy, Name: "Monkey D. Luffy", InitialValue: 100, CurrentValue: 150, FirstAppearance: 1},
		domain.HistoryEntry{EntityID: keyLuffy, Episode: 2, Delta: 50, ResultingValue: 150, Justification: "won"},
	)
	store.PutEntity(domain.Entity{ID: keyZoro, Name: "Roronoa Zoro", InitialValue: 80, CurrentValue: 80, FirstAppearance: 1})
	store.PutEntity(domain.Entity{ID: keyNami, Name: "Nami", InitialValue: 30, CurrentValue: 30, FirstAppearance: 2})
	store.PutEpisode(domain.Episode{Index: 2, Title: "Romance Dawn", State: domain.EpisodeCommitted})
	store.SetCursor(2)

	logger := zerolog.Nop()

	return NewHandler(store, market.Config{Baseline: 100}, &logger), store
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if out != nil && rec.Code == http.StatusOK {
		assert.Equal(t, contentTypeJSON, rec.Header().Get(contentTypeHeader))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}

	return rec.Code
}

func TestEntities_Sorting(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{name: "by value", target: "/api/entities", want: []string{keyLuffy, keyZoro, keyNami}},
		{name: "by name", target: "/api/entities?sort=name", want: []string{keyLuffy, keyNami, keyZoro}},
		{name: "limited", target: "/api/entities?limit=1", want: []string{keyLuffy}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var views []entityView

			require.Equal(t, http.StatusOK, get(t, h, tt.target, &views))

			ids := make([]string, 0, len(views))
			for _, v := range views {
				ids = append(ids, v.ID)
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestEntities_BadParams(t *testing.T) {
	h, _ := newTestHandler(t)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/entities?sort=random", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/entities?limit=-1", nil))
}

func TestEntity(t *testing.T) {
	h, _ := newTestHandler(t)

	var view entityView

	require.Equal(t, http.StatusOK, get(t, h, "/api/entities/"+keyLuffy, &view))
	assert.InDelta(t, 150.0, view.CurrentValue, epsilon)
	assert.Equal(t, string(domain.TierLegendary), view.Tier)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/entities/Buggy", nil))
}

func TestHistory(t *testing.T) {
	h, _ := newTestHandler(t)

	var views []historyView

	require.Equal(t, http.StatusOK, get(t, h, "/api/entities/"+keyLuffy+"/history", &views))
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].Episode)
	assert.Equal(t, "won", views[0].Justification)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/entities/Buggy/history", nil))
}

func TestSnapshot(t *testing.T) {
	h, store := newTestHandler(t)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/snapshots/2", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/snapshots/zero", nil))

	require.NoError(t, store.InTx(context.Background(), func(tx ports.Tx) error {
		return tx.SaveSnapshot(context.Background(), domain.MarketSnapshot{AsOf: 2, Mean: 90, TotalCount: 2})
	}))

	var snap domain.MarketSnapshot

	require.Equal(t, http.StatusOK, get(t, h, "/api/snapshots/2", &snap))
	assert.Equal(t, 2, snap.AsOf)
	assert.InDelta(t, 90.0, snap.Mean, epsilon)
}

func TestMarket(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name      string
		target    string
		wantAsOf  int
		wantCount int
		wantMean  float64
	}{
		// Values after episode 2: 150, 80, 30.
		{name: "current", target: "/api/market", wantAsOf: 3, wantCount: 3, wantMean: 260.0 / 3},
		// Values after episode 1: 100, 80. Nami appears in episode 2.
		{name: "as of episode 2", target: "/api/market?as_of=2", wantAsOf: 2, wantCount: 2, wantMean: 90},
		{name: "empty market", target: "/api/market?as_of=1", wantAsOf: 1, wantCount: 0, wantMean: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap domain.MarketSnapshot

			require.Equal(t, http.StatusOK, get(t, h, tt.target, &snap))
			assert.Equal(t, tt.wantAsOf, snap.AsOf)
			assert.Equal(t, tt.wantCount, snap.TotalCount)
			assert.InDelta(t, tt.wantMean, snap.Mean, epsilon)
		})
	}

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/market?as_of=x", nil))
}

func TestEpisode(t *testing.T) {
	h, _ := newTestHandler(t)

	var view episodeView

	require.Equal(t, http.StatusOK, get(t, h, "/api/episodes/2", &view))
	assert.Equal(t, "Romance Dawn", view.Title)
	assert.Equal(t, string(domain.EpisodeCommitted), view.State)

	require.Equal(t, http.StatusOK, get(t, h, "/api/episodes/9", &view))
	assert.Equal(t, string(domain.EpisodeUnseen), view.State)
}

func TestDuplicates(t *testing.T) {
	h, store := newTestHandler(t)

	var groups []domain.DuplicateGroup

	require.Equal(t, http.StatusOK, get(t, h, "/api/episodes/2/duplicates", &groups))
	assert.Empty(t, groups)

	require.NoError(t, store.InTx(context.Background(), func(tx ports.Tx) error {
		return tx.FlagDuplicates(context.Background(), 2, []domain.DuplicateGroup{
			{Kind: domain.DuplicateSoft, Keys: []string{keyLuffy, "Luffy"}, Names: []string{"Monkey D. Luffy", "Luffy"}},
		})
	}))

	require.Equal(t, http.StatusOK, get(t, h, "/api/episodes/2/duplicates", &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, domain.DuplicateSoft, groups[0].Kind)
}

func TestRuns(t *testing.T) {
	h, store := newTestHandler(t)
	now := time.Now()

	require.NoError(t, store.StartRun(context.Background(), domain.ProcessingRun{ID: "older", Status: domain.RunCompleted, StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.StartRun(context.Background(), domain.ProcessingRun{ID: "newer", Status: domain.RunRunning, StartedAt: now}))

	var runs []runView

	require.Equal(t, http.StatusOK, get(t, h, "/api/runs?limit=1", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "newer", runs[0].ID)
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/characters", nil))
}
