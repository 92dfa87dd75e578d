// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Run mode: process episodes from cursor+1 until the source runs out or a bound is hit
//   - Episode mode: process a single episode
//   - Follow mode: poll for newly released episodes and audit periodically
//   - Audit mode: check every entity against its history
//   - Rebuild mode: recompute the cached market snapshots
//   - HTTP mode: standalone health, metrics and query API server
//
// Every mode that writes takes the single-writer lock first.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/content"
	"github.com/lueurxax/character-market/internal/core/domain"
	"github.com/lueurxax/character-market/internal/core/llm"
	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/market"
	"github.com/lueurxax/character-market/internal/notify"
	"github.com/lueurxax/character-market/internal/platform/config"
	"github.com/lueurxax/character-market/internal/platform/observability"
	"github.com/lueurxax/character-market/internal/process/controller"
	"github.com/lueurxax/character-market/internal/query"
	db "github.com/lueurxax/character-market/internal/storage"
	"github.com/lueurxax/character-market/internal/valuation"
)

const logFieldComponent = "component"

// ErrConsistencyViolations is returned by RunAudit when any entity diverges from its history.
var ErrConsistencyViolations = errors.New("consistency violations found")

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// Bounds returns the value floor and ceiling from configuration.
func Bounds(cfg *config.Config) domain.Bounds {
	return domain.Bounds{Floor: cfg.ValueFloor, Ceiling: cfg.ValueCeiling}
}

// StartHealthServer starts the health check, metrics and query API server.
func (a *App) StartHealthServer(ctx context.Context) error {
	logger := a.logger.With().Str(logFieldComponent, "query").Logger()
	api := query.NewHandler(a.database, a.marketConfig(), &logger)

	srv := observability.NewServerWithAPI(a.database, a.cfg.HealthPort, api, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunHTTP runs the HTTP-only mode serving health, metrics and the query API.
func (a *App) RunHTTP(ctx context.Context) error {
	a.logger.Info().Msg("Starting HTTP-only mode")

	return a.StartHealthServer(ctx)
}

// RunProcess processes episodes from cursor+1. With to > 0 it stops after episode to.
func (a *App) RunProcess(ctx context.Context, to int) error {
	a.logger.Info().Int("to", to).Msg("Starting run mode")

	return a.withWriter(ctx, func(ctrl *controller.Controller) error {
		if _, err := ctrl.Run(ctx, to); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		return nil
	})
}

// RunEpisode processes a single episode.
func (a *App) RunEpisode(ctx context.Context, index int) error {
	a.logger.Info().Int("episode", index).Msg("Starting episode mode")

	return a.withWriter(ctx, func(ctrl *controller.Controller) error {
		res, err := ctrl.ProcessEpisode(ctx, index)
		if err != nil {
			return fmt.Errorf("process episode %d: %w", index, err)
		}

		a.logger.Info().
			Int("episode", res.Episode).
			Str("status", string(res.Status)).
			Int("created", res.Created).
			Int("updated", res.Updated).
			Msg("episode done")

		return nil
	})
}

// RunFollow processes new episodes as they are released.
func (a *App) RunFollow(ctx context.Context) error {
	a.logger.Info().Dur("poll_interval", a.cfg.FollowPollInterval).Msg("Starting follow mode")

	return a.withWriter(ctx, func(ctrl *controller.Controller) error {
		if err := ctrl.Follow(ctx); err != nil {
			return fmt.Errorf("follow: %w", err)
		}

		return nil
	})
}

// RunAudit checks every entity once. It does not take the writer lock since
// it never writes.
func (a *App) RunAudit(ctx context.Context) error {
	a.logger.Info().Msg("Starting audit mode")

	ctrl, err := a.newController()
	if err != nil {
		return err
	}

	violations, err := ctrl.Audit(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	if len(violations) > 0 {
		return fmt.Errorf("%w: %d entities", ErrConsistencyViolations, len(violations))
	}

	return nil
}

// RunRebuildSnapshots recomputes the snapshot cache from history.
func (a *App) RunRebuildSnapshots(ctx context.Context) error {
	a.logger.Info().Msg("Starting snapshot rebuild")

	return a.withWriter(ctx, func(ctrl *controller.Controller) error {
		if _, err := ctrl.RebuildSnapshots(ctx); err != nil {
			return fmt.Errorf("rebuild snapshots: %w", err)
		}

		return nil
	})
}

// withWriter runs fn while holding the single-writer lock.
func (a *App) withWriter(ctx context.Context, fn func(ctrl *controller.Controller) error) error {
	release, err := a.database.AcquireWriterLock(ctx)
	if err != nil {
		return fmt.Errorf("writer lock: %w", err)
	}
	defer release()

	ctrl, err := a.newController()
	if err != nil {
		return err
	}

	return fn(ctrl)
}

func (a *App) newController() (*controller.Controller, error) {
	strategy, err := valuation.NewStrategy(a.cfg.ValuationStrategy)
	if err != nil {
		return nil, fmt.Errorf("valuation strategy: %w", err)
	}

	validator := valuation.New(strategy, Bounds(a.cfg))
	oracle, filter := a.newOracle()

	contentLogger := a.logger.With().Str(logFieldComponent, "content").Logger()
	fetcher := content.NewFetcher(a.cfg.WebFetchRPS, a.cfg.WebFetchTimeout)
	provider := content.NewProvider(fetcher, a.cfg.ContentBaseURL, &contentLogger)

	return controller.New(a.controllerConfig(), a.database, controller.Collaborators{
		Content:  provider,
		Oracle:   oracle,
		Filter:   filter,
		Notifier: a.newNotifier(),
	}, validator, a.logger), nil
}

func (a *App) controllerConfig() controller.Config {
	retry := a.cfg.RetryCfg()

	return controller.Config{
		Strict:               a.cfg.StrictOrder,
		RetrievalMaxRetries:  retry.RetrievalMaxRetries,
		OracleMaxRetries:     retry.OracleMaxRetries,
		RetryInitialInterval: retry.InitialInterval,
		RetryMaxInterval:     retry.MaxInterval,
		MinContentLength:     a.cfg.MinContentLength,
		MinCandidates:        a.cfg.MinCandidates,
		PrefetchDepth:        a.cfg.PrefetchDepth,
		RecentHistory:        a.cfg.RecentHistory,
		FilterEnabled:        a.cfg.CandidateFilterEnabled,
		FollowPollInterval:   a.cfg.FollowPollInterval,
		AuditInterval:        a.cfg.AuditInterval,
		Market:               a.marketConfig(),
	}
}

func (a *App) marketConfig() market.Config {
	return market.Config{
		Baseline: a.cfg.DefaultBaseline,
		TopN:     a.cfg.TopN,
	}
}

// newOracle returns the LLM client, or a disabled oracle that always falls
// back when no API key is configured.
func (a *App) newOracle() (ports.Oracle, ports.CandidateFilter) {
	if !a.cfg.OracleEnabled() {
		a.logger.Warn().Msg("no LLM API key configured, every valuation will fall back")
		return llm.Disabled{}, llm.Disabled{}
	}

	logger := a.logger.With().Str(logFieldComponent, "oracle").Logger()
	client := llm.New(llm.Config{
		APIKey:      a.cfg.LLMAPIKey,
		BaseURL:     a.cfg.LLMBaseURL,
		Model:       a.cfg.LLMModel,
		RPS:         a.cfg.LLMRequestsPerSecond,
		Temperature: a.cfg.LLMTemperature,
	}, &logger)

	return client, client
}

func (a *App) newNotifier() ports.Notifier {
	tg := a.cfg.TelegramCfg()
	if !tg.Enabled() {
		return notify.Log{Logger: a.logger}
	}

	n, err := notify.NewTelegram(tg.Token, tg.ChatID, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("telegram notifications unavailable, logging alerts instead")
		return notify.Log{Logger: a.logger}
	}

	return n
}
