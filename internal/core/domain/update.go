package domain

// Update is a validated-shape oracle proposal. The set of variants is closed:
// NewEntityUpdate and ExistingEntityUpdate.
type Update interface {
	isUpdate()
}

// NewEntityUpdate proposes a starting value for an entity seen for the first time.
type NewEntityUpdate struct {
	ExternalKey   string
	DisplayName   string
	ProposedValue float64
	Confidence    float64
	Justification string
}

// ExistingEntityUpdate proposes a change for a known entity.
// Actions are used by the multiplicative strategy, Delta by the additive one.
type ExistingEntityUpdate struct {
	EntityID      string
	Actions       []Action
	Delta         float64
	Confidence    float64
	Justification string
}

func (NewEntityUpdate) isUpdate()      {}
func (ExistingEntityUpdate) isUpdate() {}

// EntityContext is what the oracle sees about an existing entity.
type EntityContext struct {
	Entity        Entity
	Tier          Tier
	RecentHistory []HistoryEntry
}

// ProposalRequest asks the oracle about exactly one subject: Entity or Candidate.
type ProposalRequest struct {
	Strategy  string
	Content   EpisodeContent
	Market    MarketSnapshot
	Entity    *EntityContext
	Candidate *Candidate
}
