// Command reconcile is the cron that retries the agenda write-back
// ("realizado") for finalized consultations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Samoo1234/clinica-sub000/internal/cache"
	"github.com/Samoo1234/clinica-sub000/internal/config"
	"github.com/Samoo1234/clinica-sub000/internal/consultation"
	"github.com/Samoo1234/clinica-sub000/internal/logging"
	"github.com/Samoo1234/clinica-sub000/internal/reconcile"
	"github.com/Samoo1234/clinica-sub000/internal/repo"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if cfg.ScheduleAPIURL == "" {
		logger.Info().Msg("SCHEDULE_API_URL empty, nothing to reconcile")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, 2, 0, cfg.DBMaxConnLifetime())
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	ttl := cache.New(cfg.ScheduleCacheTTL())
	defer ttl.Close()
	agenda := schedule.NewCached(schedule.NewClient(schedule.Config{
		BaseURL: cfg.ScheduleAPIURL,
		APIKey:  cfg.ScheduleAPIKey,
		Timeout: cfg.ScheduleTimeout(),
	}, logger), ttl)

	store := repo.ConsultationStore{Pool: pool}
	// só o passo 4 roda aqui: store + agenda bastam
	manager := consultation.NewManager(consultation.Deps{Store: store, Agenda: agenda, Log: logger})

	synced, failed, err := reconcile.Run(ctx, store, manager, reconcile.Options{
		BatchSize:   cfg.ReconcileBatchSize,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		Log:         logger,
	})
	if err != nil {
		logger.Error().Err(err).Int("synced", synced).Int("failed", failed).Msg("reconcile aborted")
		os.Exit(1)
	}
	logger.Info().Int("synced", synced).Int("failed", failed).Msg("reconcile done")
}
