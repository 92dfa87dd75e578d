package domain

import "time"

// Entity is a tracked subject whose value is revalued after each episode.
type Entity struct {
	ID              string
	Name            string
	InitialValue    float64
	CurrentValue    float64
	FirstAppearance int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEntity describes an entity to be introduced in an episode.
type NewEntity struct {
	ID            string
	Name          string
	InitialValue  float64
	FirstEpisode  int
	Justification string
}

// Action is one step of a multiplicative valuation chain.
type Action struct {
	Description string  `json:"description"`
	Multiplier  float64 `json:"multiplier"`
	Confidence  float64 `json:"confidence"`
}

// HistoryEntry is the immutable record of one change applied to an entity in one episode.
type HistoryEntry struct {
	EntityID       string
	Episode        int
	Delta          float64
	ResultingValue float64
	Justification  string
	Actions        []Action
	CreatedAt      time.Time
}

// EpisodeState is the processing state of an episode.
type EpisodeState string

const (
	EpisodeUnseen     EpisodeState = "unseen"
	EpisodeInProgress EpisodeState = "in_progress"
	EpisodeCommitted  EpisodeState = "committed"
	EpisodeFailed     EpisodeState = "failed"
)

// Episode is an ordered unit of source content.
type Episode struct {
	Index        int
	Title        string
	Arc          string
	State        EpisodeState
	Processed    bool
	ProcessedAt  *time.Time
	FailureCause string
	ReleasedAt   *time.Time
	CreatedAt    time.Time
}

// Candidate is an entity surfacing in episode content.
type Candidate struct {
	ExternalKey string `json:"external_key"`
	DisplayName string `json:"display_name"`
}

// EpisodeContent is what the content provider returns for one episode.
type EpisodeContent struct {
	Index      int
	Title      string
	Body       string
	Arc        string
	ReleasedAt *time.Time
	Candidates []Candidate
}

// DuplicateKind distinguishes exact key collisions from name-similarity groups.
type DuplicateKind string

const (
	DuplicateHard DuplicateKind = "hard"
	DuplicateSoft DuplicateKind = "soft"
)

// DuplicateGroup is a set of candidates that may refer to the same entity.
// Groups are flagged for operator review and never merged automatically.
type DuplicateGroup struct {
	Kind  DuplicateKind `json:"kind"`
	Keys  []string      `json:"keys"`
	Names []string      `json:"names"`
}

// RunStatus is the status of a processing run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// ProcessingRun records one invocation of the episode processor.
type ProcessingRun struct {
	ID            string
	StartEpisode  int
	LastCommitted int
	Status        RunStatus
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
