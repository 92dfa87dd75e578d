package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/app"
	"github.com/lueurxax/character-market/internal/platform/config"
	db "github.com/lueurxax/character-market/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "Service mode (run, episode, follow, audit, rebuild-snapshots, http)")
	to := flag.Int("to", 0, "Last episode to process in run mode (0 = until the source runs out)")
	episode := flag.Int("episode", 0, "Episode to process in episode mode")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := cfg.DatabaseCfg()
	poolOpts := db.PoolOptions{
		MaxConns:          dbCfg.MaxConnections,
		MinConns:          dbCfg.MinConnections,
		MaxConnIdleTime:   dbCfg.MaxConnIdleTime,
		MaxConnLifetime:   dbCfg.MaxConnLifetime,
		HealthCheckPeriod: dbCfg.HealthCheckPeriod,
	}

	database, err := db.NewWithOptions(ctx, dbCfg.PostgresDSN, poolOpts, app.Bounds(cfg), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	if *mode != "http" {
		// Start health server in background
		go func() {
			if err := application.StartHealthServer(ctx); err != nil {
				logger.Error().Err(err).Msg("health check server error")
			}
		}()
	}

	if err := runMode(ctx, application, *mode, *to, *episode); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode string, to, episode int) error {
	switch mode {
	case "run":
		return application.RunProcess(ctx, to)
	case "episode":
		if episode < 1 {
			log.Fatalf("Usage: %s --mode=episode --episode=N", os.Args[0])
		}

		return application.RunEpisode(ctx, episode)
	case "follow":
		return application.RunFollow(ctx)
	case "audit":
		return application.RunAudit(ctx)
	case "rebuild-snapshots":
		return application.RunRebuildSnapshots(ctx)
	case "http":
		return application.RunHTTP(ctx)
	default:
		log.Fatalf("Usage: %s --mode=[run|episode|follow|audit|rebuild-snapshots|http]", os.Args[0])

		return nil
	}
}
