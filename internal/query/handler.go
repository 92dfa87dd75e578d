// Package query serves the read-only JSON API over the entity store.
//
// Routes, all GET:
//   - /api/entities?sort=value|name&limit=N
//   - /api/entities/{id} and /api/entities/{id}/history
//   - /api/snapshots/{episode}: the cached snapshot an episode was valued against
//   - /api/market?as_of=N: statistics computed live from history
//   - /api/episodes/{episode} and /api/episodes/{episode}/duplicates
//   - /api/runs?limit=N
//
// Nothing here writes to the store.
package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/core/domain"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/market"
	"github.com/lueurxax/character-market/internal/platform/observability"
)

const (
	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"

	defaultRunsLimit = 20
	maxListLimit     = 1000

	sortValue = "value"
	sortName  = "name"

	// Route names used as metric labels.
	routeEntities   = "entities"
	routeEntity     = "entity"
	routeHistory    = "history"
	routeSnapshot   = "snapshot"
	routeMarket     = "market"
	routeEpisode    = "episode"
	routeDuplicates = "duplicates"
	routeRuns       = "runs"
	routeNotFound   = "not_found"

	logFieldRoute = "route"
)

var (
	errInvalidNumber = errors.New("must be a positive integer")
	errInvalidSort   = errors.New("sort must be value or name")
)

// Store is everything the API reads.
type Store interface {
	ports.EntityReader
	ports.EpisodeReader
	ports.ReviewReader
}

// Handler serves the query API.
type Handler struct {
	store  Store
	stats  *market.Service
	mux    *http.ServeMux
	logger *zerolog.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) int

func NewHandler(store Store, marketCfg market.Config, logger *zerolog.Logger) *Handler {
	h := &Handler{
		store:  store,
		stats:  market.NewService(store, marketCfg),
		mux:    http.NewServeMux(),
		logger: logger,
	}

	h.mux.Handle("GET /api/entities", h.route(routeEntities, h.handleEntities))
	h.mux.Handle("GET /api/entities/{id}", h.route(routeEntity, h.handleEntity))
	h.mux.Handle("GET /api/entities/{id}/history", h.route(routeHistory, h.handleHistory))
	h.mux.Handle("GET /api/snapshots/{episode}", h.route(routeSnapshot, h.handleSnapshot))
	h.mux.Handle("GET /api/market", h.route(routeMarket, h.handleMarket))
	h.mux.Handle("GET /api/episodes/{episode}", h.route(routeEpisode, h.handleEpisode))
	h.mux.Handle("GET /api/episodes/{episode}/duplicates", h.route(routeDuplicates, h.handleDuplicates))
	h.mux.Handle("GET /api/runs", h.route(routeRuns, h.handleRuns))
	h.mux.Handle("/api/", h.route(routeNotFound, func(w http.ResponseWriter, _ *http.Request) int {
		return h.writeError(w, http.StatusNotFound, "unknown endpoint")
	}))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// route wraps fn with request metrics.
func (h *Handler) route(name string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := fn(w, r)

		observability.APILatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		observability.APIRequests.WithLabelValues(name, strconv.Itoa(status)).Inc()
	})
}

func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request) int {
	order := r.URL.Query().Get("sort")
	if order == "" {
		order = sortValue
	}

	if order != sortValue && order != sortName {
		return h.badRequest(w, routeEntities, "sort", errInvalidSort)
	}

	limit, err := optionalInt(r, "limit", 0)
	if err != nil {
		return h.badRequest(w, routeEntities, "limit", err)
	}

	entities, err := h.store.ListEntities(r.Context())
	if err != nil {
		return h.internalError(w, routeEntities, err)
	}

	sortEntities(entities, order)

	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}

	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, newEntityView(e))
	}

	return h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleEntity(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")

	e, err := h.store.GetEntity(r.Context(), id)
	if err != nil {
		return h.internalError(w, routeEntity, err)
	}

	if e == nil {
		return h.writeError(w, http.StatusNotFound, "entity not found")
	}

	cursor, err := h.store.Cursor(r.Context())
	if err != nil {
		return h.internalError(w, routeEntity, err)
	}

	// The tier is relative to the market after the last committed episode.
	snap, err := h.stats.Snapshot(r.Context(), cursor+1)
	if err != nil {
		return h.internalError(w, routeEntity, err)
	}

	view := newEntityView(*e)
	view.Tier = string(snap.TierOf(e.CurrentValue))

	return h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")

	e, err := h.store.GetEntity(r.Context(), id)
	if err != nil {
		return h.internalError(w, routeHistory, err)
	}

	if e == nil {
		return h.writeError(w, http.StatusNotFound, "entity not found")
	}

	history, err := h.store.History(r.Context(), id)
	if err != nil {
		return h.internalError(w, routeHistory, err)
	}

	views := make([]historyView, 0, len(history))
	for _, entry := range history {
		views = append(views, newHistoryView(entry))
	}

	return h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) int {
	episode, err := pathInt(r, "episode")
	if err != nil {
		return h.badRequest(w, routeSnapshot, "episode", err)
	}

	snap, err := h.store.GetSnapshot(r.Context(), episode)
	if err != nil {
		return h.internalError(w, routeSnapshot, err)
	}

	if snap == nil {
		return h.writeError(w, http.StatusNotFound, "snapshot not cached")
	}

	return h.writeJSON(w, http.StatusOK, snap)
}

// handleMarket computes the statistics episode as_of is valued against.
// Without as_of it returns the market the next episode will see.
func (h *Handler) handleMarket(w http.ResponseWriter, r *http.Request) int {
	cursor, err := h.store.Cursor(r.Context())
	if err != nil {
		return h.internalError(w, routeMarket, err)
	}

	asOf, err := optionalInt(r, "as_of", cursor+1)
	if err != nil {
		return h.badRequest(w, routeMarket, "as_of", err)
	}

	snap, err := h.stats.Snapshot(r.Context(), asOf)
	if err != nil {
		return h.internalError(w, routeMarket, err)
	}

	return h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleEpisode(w http.ResponseWriter, r *http.Request) int {
	index, err := pathInt(r, "episode")
	if err != nil {
		return h.badRequest(w, routeEpisode, "episode", err)
	}

	ep, err := h.store.GetEpisode(r.Context(), index)
	if err != nil {
		return h.internalError(w, routeEpisode, err)
	}

	if ep == nil {
		return h.writeJSON(w, http.StatusOK, episodeView{Index: index, State: string(domain.EpisodeUnseen)})
	}

	return h.writeJSON(w, http.StatusOK, newEpisodeView(*ep))
}

func (h *Handler) handleDuplicates(w http.ResponseWriter, r *http.Request) int {
	index, err := pathInt(r, "episode")
	if err != nil {
		return h.badRequest(w, routeDuplicates, "episode", err)
	}

	groups, err := h.store.Duplicates(r.Context(), index)
	if err != nil {
		return h.internalError(w, routeDuplicates, err)
	}

	if groups == nil {
		groups = []domain.DuplicateGroup{}
	}

	return h.writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) int {
	limit, err := optionalInt(r, "limit", defaultRunsLimit)
	if err != nil {
		return h.badRequest(w, routeRuns, "limit", err)
	}

	runs, err := h.store.RecentRuns(r.Context(), limit)
	if err != nil {
		return h.internalError(w, routeRuns, err)
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}

	return h.writeJSON(w, http.StatusOK, views)
}

func sortEntities(entities []domain.Entity, order string) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]

		if order == sortName && a.Name != b.Name {
			return a.Name < b.Name
		}

		if order == sortValue && a.CurrentValue != b.CurrentValue {
			return a.CurrentValue > b.CurrentValue
		}

		return a.ID < b.ID
	})
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil || n < 1 {
		return 0, errInvalidNumber
	}

	return n, nil
}

// optionalInt parses a positive query parameter, capped at maxListLimit for limits.
func optionalInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errInvalidNumber
	}

	if name == "limit" && n > maxListLimit {
		n = maxListLimit
	}

	return n, nil
}

func (h *Handler) badRequest(w http.ResponseWriter, route, param string, err error) int {
	h.logger.Debug().Str(logFieldRoute, route).Str("param", param).Err(err).Msg("query validation failed")

	return h.writeError(w, http.StatusBadRequest, param+": "+err.Error())
}

func (h *Handler) internalError(w http.ResponseWriter, route string, err error) int {
	h.logger.Error().Str(logFieldRoute, route).Err(err).Msg("query failed")

	return h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) int {
	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("write json failed")
	}

	return status
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) int {
	return h.writeJSON(w, status, map[string]string{"error": message})
}
