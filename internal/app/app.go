// Package app wires the UnifiedViews services together from configuration.
// The server command, the web UI and the CLI tools all start from an App.
package app

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/browse"
	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/dpu"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/pipeline"
	"evalgo.org/unifiedviews/internal/scheduler"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/internal/validation"
)

// App holds the long-lived services of a UnifiedViews process.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Metrics

	Store       storage.Store
	TripleStore triplestore.Client
	Pager       *triplestore.Pager
	Browse      *browse.Service

	Importer  *dpu.Importer
	Deleter   *cleanup.Deleter
	Pipelines *pipeline.Service
	Scheduler *scheduler.Scheduler
	Validator *validation.Validator

	JWT  *auth.JWTService
	Auth *auth.Middleware
}

// New opens the configured store and triple store and builds the services.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	m := metrics.New()

	store, err := storage.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	repo, err := triplestore.NewRepo(cfg.TripleStore, logger, m)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create triple store client: %w", err)
	}

	a, err := Assemble(cfg, store, repo, logger, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// Assemble builds an App around an existing store and triple store client.
func Assemble(cfg *config.Config, store storage.Store, client triplestore.Client, logger *log.Logger, m *metrics.Metrics) (*App, error) {
	pager := triplestore.NewPager(client, cfg.TripleStore, logger, m)
	browser, err := browse.NewService(store, pager, cfg.TripleStore, logger)
	if err != nil {
		return nil, err
	}
	jwtService := auth.NewJWTService(cfg.Security)
	deleter := cleanup.New(store, cfg.Files, cfg.Cleanup, logger, m)
	deleter.OnProgress(func(st cleanup.Status) {
		// deleted executions take their graphs' cached sizes with them
		if st.State != cleanup.StateRunning && st.Deleted > 0 {
			pager.Invalidate()
		}
	})

	return &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Store:       store,
		TripleStore: client,
		Pager:       pager,
		Browse:      browser,
		Importer:    dpu.NewImporter(store, cfg.Files, logger),
		Deleter:     deleter,
		Pipelines:   pipeline.NewService(store, deleter, logger),
		Scheduler:   scheduler.New(store, cfg.Scheduler, logger, m),
		Validator:   validation.New(),
		JWT:         jwtService,
		Auth:        auth.NewMiddleware(cfg.Security, jwtService),
	}, nil
}

// Ping checks the store and the triple store.
func (a *App) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"storage":     a.Store.Ping(),
		"triplestore": a.TripleStore.Ping(ctx),
	}
}

// Close stops background services and closes the store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	a.Deleter.Wait()
	return a.Store.Close()
}
