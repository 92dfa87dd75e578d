// Package llm implements the valuation oracle and candidate filter on top of
// an OpenAI-compatible chat completion API.
//
// Every call asks about exactly one subject and requests a JSON object
// response. Output is parsed into domain.Update values but never trusted:
// range checks and damping happen in the valuation package.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/platform/observability"
)

var (
	_ ports.Oracle          = (*Client)(nil)
	_ ports.CandidateFilter = (*Client)(nil)
	_ ports.Oracle          = Disabled{}
	_ ports.CandidateFilter = Disabled{}
)

// Config configures the OpenAI-backed client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	RPS         float64
	Temperature float32
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is the OpenAI-backed oracle.
type Client struct {
	api         chatCompleter
	model       string
	temperature float32
	rateLimiter *rate.Limiter
	breaker     *breaker
	logger      *zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return newClient(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

func newClient(api chatCompleter, cfg Config, logger *zerolog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	return &Client{
		api:         api,
		model:       model,
		temperature: temperature,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), rateLimiterBurst),
		breaker:     newBreaker(logger),
		logger:      logger,
	}
}

// Propose asks the model about the single subject in req.
func (c *Client) Propose(ctx context.Context, req domain.ProposalRequest) (domain.Update, error) {
	content, err := c.complete(ctx, systemPrompt(req), userPrompt(req))
	if err != nil {
		return nil, err
	}

	update, err := parseProposal(req, content)
	if err != nil {
		c.logger.Warn().Err(err).
			Int(logKeyEpisode, req.Content.Index).
			Str(logKeySubject, subjectName(req)).
			Msg("malformed oracle response")

		return nil, err
	}

	return update, nil
}

// FilterCandidates drops candidates that are not individual characters.
func (c *Client) FilterCandidates(ctx context.Context, content domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	out, err := c.complete(ctx, filterSystemPrompt, filterUserPrompt(content, candidates))
	if err != nil {
		return nil, err
	}

	return parseFilter(candidates, out)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if err := c.breaker.check(); err != nil {
		return "", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf(errRateLimiter, err)
	}

	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.OracleRequestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())

	if err != nil {
		c.breaker.failure()

		return "", fmt.Errorf(errOpenAIChatCompletion, err)
	}

	c.breaker.success()

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", apperrors.ErrMalformedProposal)
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().Str(logKeyModel, c.model).Str("content", content).Msg("LLM response")

	return content, nil
}

func subjectName(req domain.ProposalRequest) string {
	if req.Entity != nil {
		return req.Entity.Entity.ID
	}

	if req.Candidate != nil {
		return req.Candidate.ExternalKey
	}

	return ""
}

// Disabled is used when no API key is configured. Every proposal fails with
// ErrOracleDisabled so the processor falls back to neutral values, and the
// filter keeps all candidates.
type Disabled struct{}

func (Disabled) Propose(context.Context, domain.ProposalRequest) (domain.Update, error) {
	return nil, apperrors.ErrOracleDisabled
}

func (Disabled) FilterCandidates(_ context.Context, _ domain.EpisodeContent, candidates []domain.Candidate) ([]domain.Candidate, error) {
	return candidates, nil
}
