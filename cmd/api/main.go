package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"genjobs/internal/bootstrap"
	"genjobs/internal/http/handlers"
	httpapi "genjobs/internal/http/httpapi"
	"genjobs/internal/infra"
	"genjobs/internal/infra/geoip"
	"genjobs/internal/jobs"
	"genjobs/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Fatal().Err(err).Msg("api: invalid configuration")
	}

	ctx := context.Background()
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open store")
	}
	defer stores.Close()

	fanOut, closeFanOut, err := bootstrap.NewFanOut(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure fan-out")
	}
	defer closeFanOut()

	provider, err := bootstrap.NewPredictionClient(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure prediction client")
	}

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	} else if resolver != nil {
		countryLookup = resolver.CountryCode
		defer resolver.Close()
	}

	machineLogger := infra.Component(logger, "machine")
	serviceLogger := infra.Component(logger, "submissions")
	machine := jobs.NewMachine(stores.Jobs, fanOut, &machineLogger)
	admission := jobs.NewAdmission(stores.Jobs, bootstrap.Limits(cfg))

	app := &handlers.App{
		Jobs:          stores.Jobs,
		Artifacts:     stores.Artifacts,
		Notifications: stores.Notifications,
		Admission:     admission,
		Submissions:   jobs.NewService(admission, machine, provider, cfg.PublicBaseURL, &serviceLogger),
		Ingress:       jobs.NewIngress(stores.Jobs, machine),
		WebhookSecret: cfg.WebhookSecret,
		Ping:          stores.Ping,
		Logger:        infra.Component(logger, "http"),
	}
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("api: WEBHOOK_SECRET unset, webhook signatures are not verified")
	}

	opts := httpapi.Options{
		Logger:          infra.Component(logger, "access"),
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   countryLookup,
	}
	if cfg.StorageDriver == infra.StorageDriverFilesystem {
		opts.StaticDir = cfg.StoragePath
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts), logger)

	go func() {
		logger.Info().Str("store", cfg.StoreDriver).Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
