package ports

import (
	"context"

	"github.com/lueurxax/character-market/internal/core/domain"
)

// ContentProvider fetches episode content. A missing episode yields an error
// wrapping errors.ErrNotFound.
type ContentProvider interface {
	GetEpisodeContent(ctx context.Context, index int) (*domain.EpisodeContent, error)
}

// Oracle proposes a valuation for exactly one subject per call.
// Its output is untrusted and must be validated before use.
type Oracle interface {
	Propose(ctx context.Context, req domain.ProposalRequest) (domain.Update, error)
}

// CandidateFilter drops candidates that are not individual entities.
type CandidateFilter interface {
	FilterCandidates(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
