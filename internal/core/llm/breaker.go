package llm

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

// breaker opens after consecutive failures and rejects calls until it cools down.
type breaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	threshold           int
	timeout             time.Duration
	now                 func() time.Time
	logger              *zerolog.Logger
}

func newBreaker(logger *zerolog.Logger) *breaker {
	return &breaker{
		threshold: circuitBreakerThreshold,
		timeout:   circuitBreakerTimeout,
		now:       time.Now,
		logger:    logger,
	}
}

func (b *breaker) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.now().Before(b.openUntil) {
		return fmt.Errorf("%w until %v", apperrors.ErrCircuitBreakerOpen, b.openUntil)
	}

	return nil
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.openUntil = b.now().Add(b.timeout)
		b.logger.Warn().
			Int("consecutive_failures", b.consecutiveFailures).
			Time("open_until", b.openUntil).
			Msg("Circuit breaker opened")
	}
}
