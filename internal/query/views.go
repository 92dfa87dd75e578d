package query

import (
	"time"

	"github.com/lueurxax/character-market/internal/core/domain"
)

type entityView struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	InitialValue    float64   `json:"initial_value"`
	CurrentValue    float64   `json:"current_value"`
	FirstAppearance int       `json:"first_appearance"`
	Tier            string    `json:"tier,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newEntityView(e domain.Entity) entityView {
	return entityView{
		ID:              e.ID,
		Name:            e.Name,
		InitialValue:    e.InitialValue,
		CurrentValue:    e.CurrentValue,
		FirstAppearance: e.FirstAppearance,
		UpdatedAt:       e.UpdatedAt,
	}
}

type historyView struct {
	Episode        int             `json:"episode"`
	Delta          float64         `json:"delta"`
	ResultingValue float64         `json:"resulting_value"`
	Justification  string          `json:"justification"`
	Actions        []domain.Action `json:"actions,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newHistoryView(h domain.HistoryEntry) historyView {
	return historyView{
		Episode:        h.Episode,
		Delta:          h.Delta,
		ResultingValue: h.ResultingValue,
		Justification:  h.Justification,
		Actions:        h.Actions,
		CreatedAt:      h.CreatedAt,
	}
}

type episodeView struct {
	Index        int        `json:"index"`
	Title        string     `json:"title,omitempty"`
	Arc          string     `json:"arc,omitempty"`
	State        string     `json:"state"`
	FailureCause string     `json:"failure_cause,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

func newEpisodeView(ep domain.Episode) episodeView {
	return episodeView{
		Index:        ep.Index,
		Title:        ep.Title,
		Arc:          ep.Arc,
		State:        string(ep.State),
		FailureCause: ep.FailureCause,
		ReleasedAt:   ep.ReleasedAt,
		ProcessedAt:  ep.ProcessedAt,
	}
}

type runView struct {
	ID            string     `json:"id"`
	StartEpisode  int        `json:"start_episode"`
	LastCommitted int        `json:"last_committed"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func newRunView(r domain.ProcessingRun) runView {
	return runView{
		ID:            r.ID,
		StartEpisode:  r.StartEpisode,
		LastCommitted: r.LastCommitted,
		Status:        string(r.Status),
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}
