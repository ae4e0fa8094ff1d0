// Package app wires the storage handle and services shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/mimir-aip/mimir-insight/pkg/config"
	"github.com/mimir-aip/mimir-insight/pkg/ingest"
	"github.com/mimir-aip/mimir-insight/pkg/janitor"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/materializer"
	"github.com/mimir-aip/mimir-insight/pkg/query"
	"github.com/mimir-aip/mimir-insight/pkg/registry"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

// App holds the initialized services
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Store        *store.Store
	Registry     *registry.Registry
	Materializer *materializer.Materializer
	Ingest       *ingest.Service
	Query        *query.Engine
	Janitor      *janitor.Service
}

// New opens the database under the configured data directory and builds every service.
// The janitor is created but not started.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	logger = logging.OrDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	st, err := store.Open(ctx, store.Config{
		Path:         cfg.DatabasePath(),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	reg := registry.New(st, logger)
	mat := materializer.New(st, materializer.Config{BatchSize: cfg.Ingest.BatchSize}, logger)
	ing := ingest.NewService(ingest.Config{
		MaxBytes:         cfg.Ingest.MaxUploadBytes,
		SampleSize:       cfg.Ingest.SampleSize,
		NumericThreshold: cfg.Ingest.NumericThreshold,
		Sheet:            cfg.Ingest.Sheet,
	}, mat, reg, logger)

	jan, err := janitor.NewService(mat, janitor.Config{
		Schedule: cfg.Janitor.Schedule,
		MaxAge:   cfg.Janitor.MaxAge,
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	logger.Info("Services initialized",
		logging.Component("app"),
		logging.String("database", cfg.DatabasePath()))

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Registry:     reg,
		Materializer: mat,
		Ingest:       ing,
		Query:        query.NewEngine(st, reg, mat, logger),
		Janitor:      jan,
	}, nil
}

// Close stops the janitor and releases the database
func (a *App) Close() error {
	a.Janitor.Stop()
	return a.Store.Close()
}
