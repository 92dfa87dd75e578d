package llm

import "time"

// Error message templates
const (
	errRateLimiter          = "rate limiter error: %w"
	errOpenAIChatCompletion = "openai chat completion error: %w"
	errParseResponse        = "failed to parse response: %w"
)

// Circuit breaker
const (
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute
)

const (
	rateLimiterBurst   = 5
	defaultTemperature = 0.3
	defaultRPS         = 1

	strategyAdditive = "additive"

	// recentHistoryInPrompt caps how many past changes are shown per entity.
	recentHistoryInPrompt = 5
)

// Log key strings
const (
	logKeyModel   = "model"
	logKeyEpisode = "episode"
	logKeySubject = "subject"
)
