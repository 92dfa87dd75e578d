// Package content retrieves episode content from a wiki and turns it into
// the title, summary and candidate list the processor works on.
package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/platform/observability"
)

var _ ports.ContentProvider = (*Provider)(nil)

type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Provider fetches episode pages at baseURL followed by the episode index.
type Provider struct {
	fetcher pageFetcher
	baseURL string
	logger  *zerolog.Logger
}

func NewProvider(fetcher pageFetcher, baseURL string, logger *zerolog.Logger) *Provider {
	return &Provider{fetcher: fetcher, baseURL: baseURL, logger: logger}
}

// URL returns the page address of an episode.
func (p *Provider) URL(index int) string {
	return p.baseURL + strconv.Itoa(index)
}

func (p *Provider) GetEpisodeContent(ctx context.Context, index int) (*domain.EpisodeContent, error) {
	pageURL := p.URL(index)

	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		status := observability.StatusError
		if errors.Is(err, apperrors.ErrNotFound) {
			status = observability.StatusNotFound
		}

		observability.ContentFetches.WithLabelValues(status).Inc()

		return nil, fmt.Errorf("fetch episode %d: %w", index, err)
	}

	page, err := ParsePage(body, index)
	if err != nil {
		observability.ContentFetches.WithLabelValues(observability.StatusError).Inc()
		return nil, fmt.Errorf("episode %d: %w", index, err)
	}

	observability.ContentFetches.WithLabelValues(observability.StatusOK).Inc()

	p.logger.Debug().
		Int("episode", index).
		Str("title", page.Title).
		Str("arc", page.Arc).
		Int("summary_len", len(page.Summary)).
		Int("candidates", len(page.Candidates)).
		Msg("fetched episode content")

	return &domain.EpisodeContent{
		Index:      index,
		Title:      page.Title,
		Body:       page.Summary,
		Arc:        page.Arc,
		ReleasedAt: page.ReleasedAt,
		Candidates: page.Candidates,
	}, nil
}
