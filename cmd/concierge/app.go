package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"concierge/internal/config"
	"concierge/internal/kvstore"
	"concierge/internal/logging"
	"concierge/internal/orchestrator"
	"concierge/internal/persona"
	"concierge/internal/threads"
	"concierge/internal/transport"
)

// app is the wired object graph shared by the TUI and the subcommands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *kvstore.Store
	repo      *threads.Repository
	client    *transport.Client
	orch      *orchestrator.Orchestrator
	directory *persona.Directory
}

func openApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}

	var backend kvstore.Backend
	if cfg.Store.Ephemeral {
		backend = kvstore.NewMemoryBackend()
	} else {
		sqlite, err := kvstore.OpenSQLite(cfg.Store.Path)
		if err != nil {
			_ = logger.Sync()
			return nil, fmt.Errorf("open store: %w", err)
		}
		backend = sqlite
	}

	store := kvstore.New(backend, cfg.Store.Scope, logger)
	repo := threads.NewRepository(store, threads.WithLogger(logger))
	client := transport.New(cfg.Transport(), transport.WithLogger(logger))
	orch := orchestrator.New(repo, client, orchestrator.WithLogger(logger))

	logger.Info("concierge started",
		zap.String("endpoint", client.Endpoint()),
		zap.Bool("ephemeral", cfg.Store.Ephemeral),
		zap.String("store", cfg.Store.Path))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		repo:      repo,
		client:    client,
		orch:      orch,
		directory: cfg.Directory(),
	}, nil
}

func (a *app) identity() orchestrator.Identity {
	return orchestrator.Identity{Email: a.cfg.User.Email, Role: a.cfg.User.Role}
}

func (a *app) Close() error {
	a.orch.Close()
	err := a.store.Close()
	_ = a.logger.Sync()
	if err != nil && !errors.Is(err, kvstore.ErrClosed) {
		return err
	}
	return nil
}
