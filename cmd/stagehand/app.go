package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagehand-dev/stagehand/config"
	"github.com/stagehand-dev/stagehand/dispatch"
	"github.com/stagehand-dev/stagehand/engine"
	"github.com/stagehand-dev/stagehand/graph"
	"github.com/stagehand-dev/stagehand/natsclient"
	"github.com/stagehand-dev/stagehand/reasoning"
	"github.com/stagehand-dev/stagehand/storage"
	"github.com/stagehand-dev/stagehand/verify"
)

// app wires the engine stack for one command invocation. Every command
// builds a fresh app, works against durable state, and tears down.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	verifier *verify.Verifier
	engine   *engine.Engine
	registry *prometheus.Registry

	nats *natsclient.Client
}

// newApp loads configuration, the workflow graphs, and the storage
// backend. The NATS connection is only opened when the config selects
// the nats storage backend; commands that need the dispatch queue call
// dispatchQueue to connect lazily.
func newApp(ctx context.Context, configPath, logLevel string) (*app, error) {
	logger := newLogger(logLevel)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	graphs, err := graph.LoadDir(cfg.Workflows.Dir, logger)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load workflows: %w", err)
		}
		logger.Warn("Workflows directory missing", "dir", cfg.Workflows.Dir)
		graphs = map[string]*graph.Graph{}
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	switch cfg.Storage.Backend {
	case "nats":
		if err := a.connectNATS(); err != nil {
			return nil, err
		}
		store, err := storage.NewKVStore(ctx, a.nats.JS)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open kv store: %w", err)
		}
		a.store = store
	default:
		store, err := storage.NewFileStore(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		a.store = store
	}

	a.verifier = verify.New(cfg.Artifacts.Root, cfg.Artifacts.MinContentBytes, logger)
	a.engine = engine.New(graphs, a.store, a.verifier, logger,
		engine.WithMetrics(engine.NewMetrics(a.registry)))
	return a, nil
}

func (a *app) connectNATS() error {
	if a.nats != nil {
		return nil
	}
	client, err := natsclient.Connect(a.cfg.NATS.URL, appName)
	if err != nil {
		return err
	}
	a.nats = client
	return nil
}

// dispatchQueue connects to NATS (if not already connected) and binds
// the work-queue stream.
func (a *app) dispatchQueue(ctx context.Context) (*dispatch.Queue, error) {
	if err := a.connectNATS(); err != nil {
		return nil, err
	}
	return dispatch.New(ctx, a.nats.JS, a.cfg.NATS.DispatchStream, a.logger)
}

// reasoningController builds the reasoning controller. The dispatch
// queue is wired only when a NATS URL is configured; without it,
// completed sessions keep their pending record for a later recovery
// run.
func (a *app) reasoningController(ctx context.Context) (*reasoning.Controller, error) {
	var dispatcher reasoning.Dispatcher
	if a.cfg.NATS.URL != "" {
		queue, err := a.dispatchQueue(ctx)
		if err != nil {
			a.logger.Warn("Dispatch queue unavailable, hand-offs stay pending", "error", err)
		} else {
			dispatcher = queue
		}
	}
	return reasoning.New(a.store, dispatcher, a.logger), nil
}

// newRecoverController builds a controller bound to an already-open
// dispatch queue, used by the dispatch subcommands.
func newRecoverController(a *app, queue *dispatch.Queue) *reasoning.Controller {
	return reasoning.New(a.store, queue, a.logger)
}

func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
}
