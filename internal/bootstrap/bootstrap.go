// Package bootstrap assembles the job manager from configuration. The API,
// the worker and jobctl share it so every process sees the same store and
// the same fan-out wiring.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"genjobs/internal/adapter/repo"
	"genjobs/internal/adapter/sqlite"
	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/infra/credentials"
	"genjobs/internal/jobs"
	"genjobs/internal/notify"
	"genjobs/internal/providers/prediction"
	"genjobs/internal/storage"
)

// Stores bundles the repositories of the configured store driver.
type Stores struct {
	Jobs          domain.JobRepository
	Artifacts     domain.ArtifactRepository
	Notifications domain.NotificationRepository
	// Credentials is nil on SQLite, which has no integration_tokens table.
	Credentials *credentials.Store
	Ping        func(ctx context.Context) error

	closers []func()
}

// Close releases the underlying database handles.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects to PostgreSQL or opens the embedded SQLite database.
func OpenStores(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Jobs:          store.Jobs,
			Artifacts:     store.Artifacts,
			Notifications: store.Notifications,
			Ping:          store.DB.PingContext,
			closers:       []func(){func() { _ = store.Close() }},
		}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
		return &Stores{
			Jobs:          repo.NewJobRepository(runner),
			Artifacts:     repo.NewArtifactRepository(runner),
			Notifications: repo.NewNotificationRepository(runner),
			Credentials:   credentials.NewStore(runner),
			Ping:          pool.Ping,
			closers:       []func(){pool.Close},
		}, nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported store driver %q", cfg.StoreDriver)
}

// NewPredictionClient builds the provider client. The API key comes from
// configuration, falling back to the credentials table.
func NewPredictionClient(ctx context.Context, cfg *infra.Config, stores *Stores, logger infra.Logger) (*prediction.Client, error) {
	apiKey := strings.TrimSpace(cfg.PredictionAPIKey)
	if apiKey == "" && stores.Credentials != nil {
		stored, err := stores.Credentials.PredictionToken(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("load prediction token from store failed")
		} else {
			apiKey = stored
		}
	}
	models := make(map[domain.JobType]string, len(cfg.PredictionModels))
	for raw, model := range cfg.PredictionModels {
		jobType, err := domain.ParseJobType(raw)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: model for %q: %w", raw, err)
		}
		models[jobType] = model
	}
	client, err := prediction.NewClient(prediction.Options{
		APIKey:  apiKey,
		BaseURL: cfg.PredictionBaseURL,
		Models:  models,
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	if !client.HasCredentials() {
		logger.Warn().Msg("prediction api key missing, submissions will fail")
	}
	return client, nil
}

// NewFanOut wires artifact mirroring and notification publishing according
// to cfg. The returned func closes any connection it opened.
func NewFanOut(ctx context.Context, cfg *infra.Config, stores *Stores, logger infra.Logger) (*jobs.ResultFanOut, func(), error) {
	fanOut := &jobs.ResultFanOut{
		Artifacts:     stores.Artifacts,
		Notifications: stores.Notifications,
		Renderer:      notify.NewRenderer(),
		Publisher:     notify.NopPublisher{},
		Retention:     cfg.ArtifactRetention,
		Logger:        &logger,
	}
	cleanup := func() {}

	switch cfg.StorageDriver {
	case infra.StorageDriverFilesystem:
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, nil, err
		}
		fanOut.Mirror = storage.NewMirror(store, nil)
	case infra.StorageDriverMinIO:
		store, err := storage.NewMinIOStore(ctx, storage.MinIOOptions{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		fanOut.Mirror = storage.NewMirror(store, nil)
	}

	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		publisher, err := notify.ConnectNATS(url)
		if err != nil {
			return nil, nil, err
		}
		fanOut.Publisher = publisher
		cleanup = func() { _ = publisher.Close() }
	}
	return fanOut, cleanup, nil
}

// Limits returns the admission caps from configuration.
func Limits(cfg *infra.Config) domain.AdmissionLimits {
	return domain.AdmissionLimits{PerUser: cfg.MaxActivePerUser, Global: cfg.MaxActiveGlobal}
}
