package controller

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// newBackOff returns a bounded exponential backoff that stops when ctx ends.
func (c *Controller) newBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval
	b.MaxInterval = c.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	if maxRetries < 0 {
		maxRetries = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// fetch retrieves episode content with retries. A missing episode and content
// that fails the minimum check are not retried.
func (c *Controller) fetch(ctx context.Context, index int) (*domain.EpisodeContent, error) {
	var content *domain.EpisodeContent

	attempt := 0

	op := func() error {
		attempt++

		got, err := c.collab.Content.GetEpisodeContent(ctx, index)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return backoff.Permanent(err)
			}

			return err
		}

		if got == nil {
			return backoff.Permanent(fmt.Errorf("episode %d: %w", index, apperrors.ErrNotFound))
		}

		// The provider may leave Index unset.
		got.Index = index

		if err := c.checkContent(got); err != nil {
			return backoff.Permanent(err)
		}

		content = got

		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Int(logKeyEpisode, index).Int(logKeyAttempt, attempt).Dur("retry_in", wait).Msg("content retrieval failed, retrying")
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx, c.cfg.RetrievalMaxRetries), notify); err != nil {
		return nil, err
	}

	return content, nil
}

// checkContent enforces the minimum non-triviality check.
func (c *Controller) checkContent(content *domain.EpisodeContent) error {
	body := strings.TrimSpace(content.Body)

	if n := utf8.RuneCountInString(body); n == 0 || n < c.cfg.MinContentLength {
		return fmt.Errorf("episode %d body has %d characters, need %d: %w",
			content.Index, n, c.cfg.MinContentLength, apperrors.ErrInsufficientContent)
	}

	if len(content.Candidates) < c.cfg.MinCandidates {
		return fmt.Errorf("episode %d has %d candidates, need %d: %w",
			content.Index, len(content.Candidates), c.cfg.MinCandidates, apperrors.ErrInsufficientContent)
	}

	return nil
}
