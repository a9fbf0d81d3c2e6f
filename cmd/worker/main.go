package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"genjobs/internal/bootstrap"
	"genjobs/internal/infra"
	"genjobs/internal/jobs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open store")
	}
	defer stores.Close()

	fanOut, closeFanOut, err := bootstrap.NewFanOut(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure fan-out")
	}
	defer closeFanOut()

	provider, err := bootstrap.NewPredictionClient(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure prediction client")
	}

	machine := jobs.NewMachine(stores.Jobs, fanOut, &logger)
	reconciler := jobs.NewReconciler(stores.Jobs, machine, cfg.StaleAfter, &logger)
	poller := jobs.NewPoller(stores.Jobs, jobs.NewIngress(stores.Jobs, machine), provider, cfg.PollInterval, &logger)

	logger.Info().
		Dur("sweep_interval", cfg.SweepInterval).
		Dur("stale_after", cfg.StaleAfter).
		Dur("poll_interval", cfg.PollInterval).
		Msg("worker: started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(gctx, cfg.SweepInterval) })
	if provider.HasCredentials() {
		g.Go(func() error { return poller.Run(gctx, cfg.PollInterval) })
	} else {
		logger.Warn().Msg("worker: prediction api key missing, polling disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
