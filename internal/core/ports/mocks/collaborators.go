package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
)

var (
	_ ports.ContentProvider = (*ContentProvider)(nil)
	_ ports.Oracle          = (*Oracle)(nil)
	_ ports.CandidateFilter = (*CandidateFilter)(nil)
	_ ports.Notifier        = (*Notifier)(nil)
)

// ContentProvider serves episode content from memory.
type ContentProvider struct {
	mu       sync.Mutex
	episodes map[int]*domain.EpisodeContent
	calls    map[int]int

	// GetEpisodeContentFn allows overriding GetEpisodeContent behavior.
	GetEpisodeContentFn func(ctx context.Context, index int) (*domain.EpisodeContent, error)
}

// NewContentProvider creates an empty content provider.
func NewContentProvider() *ContentProvider {
	return &ContentProvider{
		episodes: make(map[int]*domain.EpisodeContent),
		calls:    make(map[int]int),
	}
}

// Set stores content for its index.
func (p *ContentProvider) Set(c *domain.EpisodeContent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.episodes[c.Index] = c
}

// Calls returns how many times index was requested.
func (p *ContentProvider) Calls(index int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls[index]
}

// GetEpisodeContent returns stored content or ErrNotFound.
func (p *ContentProvider) GetEpisodeContent(ctx context.Context, index int) (*domain.EpisodeContent, error) {
	p.mu.Lock()
	p.calls[index]++
	c, ok := p.episodes[index]
	p.mu.Unlock()

	if p.GetEpisodeContentFn != nil {
		return p.GetEpisodeContentFn(ctx, index)
	}

	if !ok {
		return nil, fmt.Errorf("episode %d: %w", index, apperrors.ErrNotFound)
	}

	cp := *c
	cp.Candidates = append([]domain.Candidate(nil), c.Candidates...)

	return &cp, nil
}

// Oracle returns scripted proposals.
type Oracle struct {
	mu       sync.Mutex
	requests []domain.ProposalRequest

	// ProposeFn allows overriding Propose behavior. By default existing entities
	// get a neutral proposal and new entities start at 100.
	ProposeFn func(ctx context.Context, req domain.ProposalRequest) (domain.Update, error)
}

// NewOracle creates an oracle with default proposals.
func NewOracle() *Oracle {
	return &Oracle{}
}

// Requests returns every request received so far.
func (o *Oracle) Requests() []domain.ProposalRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]domain.ProposalRequest(nil), o.requests...)
}

// Propose records the request and returns the scripted proposal.
func (o *Oracle) Propose(ctx context.Context, req domain.ProposalRequest) (domain.Update, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()

	if o.ProposeFn != nil {
		return o.ProposeFn(ctx, req)
	}

	if req.Entity != nil {
		return domain.ExistingEntityUpdate{
			EntityID:      req.Entity.Entity.ID,
			Actions:       []domain.Action{{Description: "steady", Multiplier: 1, Confidence: 1}},
			Justification: "no change",
		}, nil
	}

	if req.Candidate != nil {
		return domain.NewEntityUpdate{
			ExternalKey:   req.Candidate.ExternalKey,
			DisplayName:   req.Candidate.DisplayName,
			ProposedValue: 100,
			Confidence:    1,
			Justification: "introduced",
		}, nil
	}

	return nil, fmt.Errorf("empty proposal request: %w", apperrors.ErrMalformedProposal)
}

// CandidateFilter keeps every candidate unless overridden.
type CandidateFilter struct {
	// FilterCandidatesFn allows overriding FilterCandidates behavior.
	FilterCandidatesFn func(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error)
}

// FilterCandidates returns candidates unchanged by default.
func (f *CandidateFilter) FilterCandidates(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if f.FilterCandidatesFn != nil {
		return f.FilterCandidatesFn(ctx, content, candidates)
	}

	return candidates, nil
}

// Notifier records notifications.
type Notifier struct {
	mu       sync.Mutex
	messages []string
}

// NewNotifier creates a recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Notify records text.
func (n *Notifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, text)

	return nil
}

// Messages returns recorded notifications.
func (n *Notifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.messages...)
}
