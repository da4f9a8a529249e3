package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/vramwatch/internal/collector"
	"codeberg.org/mutker/vramwatch/internal/config"
	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/pid"
	"codeberg.org/mutker/vramwatch/internal/server"
	"codeberg.org/mutker/vramwatch/internal/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		var domainErr errors.Error
		if errors.As(err, &domainErr) {
			logger.FatalWithCode(domainErr).Send()
		}
		logger.Fatal().Err(err).Send()
	}
}

func run() error {
	// Bootstrap logging so config errors are visible; reconfigured below.
	if err := logger.Init(config.DefaultLogLevel, logger.IsService()); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collectorCfg := collector.Config{
		Interval: time.Duration(cfg.Interval) * time.Second,
	}
	syncInterval := time.Duration(cfg.SyncInterval) * time.Second

	if cfg.Agent {
		return runAgent(ctx, cfg, collectorCfg, syncInterval)
	}

	return runServer(ctx, cfg, collectorCfg, syncInterval)
}

// runServer is the full daemon: local store, poll workers and the API.
func runServer(ctx context.Context, cfg *config.Config, collectorCfg collector.Config,
	syncInterval time.Duration,
) error {
	log := logger.Default()

	repo, err := store.NewRepository(store.Config{DBPath: cfg.Database}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	committer := collector.NewStoreCommitter(repo)
	sup, err := collector.NewSupervisor(collectorCfg, committer, collector.HTTPFetcherFactory, log)
	if err != nil {
		return err
	}
	defer sup.StopAll()

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Port:          cfg.ListenPort,
	}, repo, sup, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return reconcileLoop(gctx, syncInterval, sup, repo.ListEnabledNodes, log)
	})

	return g.Wait()
}

// runAgent polls nodes on behalf of a remote vramwatch instance: the node
// list comes from its API and every sample is pushed back to it.
func runAgent(ctx context.Context, cfg *config.Config, collectorCfg collector.Config,
	syncInterval time.Duration,
) error {
	log := logger.Default()

	registry := collector.NewRegistry(cfg.APIURL)
	committer := collector.NewAPICommitter(cfg.APIURL)
	sup, err := collector.NewSupervisor(collectorCfg, committer, collector.HTTPFetcherFactory, log)
	if err != nil {
		return err
	}
	defer sup.StopAll()

	log.Info().Str("api_url", cfg.APIURL).Msg("Running in agent mode")

	return reconcileLoop(ctx, syncInterval, sup, registry.EnabledNodes, log)
}

// reconcileLoop drives the supervisor toward the listed node set, once at
// startup and then on every tick. A failed listing keeps the current worker
// set rather than tearing it down.
func reconcileLoop(ctx context.Context, every time.Duration, sup *collector.Supervisor,
	list func(context.Context) ([]store.Node, error), log logger.Logger,
) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		nodes, err := list(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			log.Warn().Err(err).Msg("Node listing failed, keeping current workers")
		default:
			sup.Reconcile(nodes)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
