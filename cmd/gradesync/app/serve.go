package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nzua-hub/grade-notifier/internal/infrastructure/scheduler"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/nzua-hub/grade-notifier/internal/interface/http"
	"github.com/nzua-hub/grade-notifier/internal/interface/http/handlers"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the polling scheduler and the admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c, err := newContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	job := jobs.NewSyncPopulationJob(c.repo, c.syncer, c.dispatcher, c.metrics, log, jobs.SyncPopulationConfig{
		Concurrency:   cfg.Sync.Concurrency,
		ShutdownGrace: cfg.App.ShutdownTimeout,
	})
	every, err := scheduler.NewIntervalSchedule(cfg.Sync.Interval)
	if err != nil {
		return fmt.Errorf("sync.interval: %w", err)
	}

	sched := scheduler.New(scheduler.Config{Logger: log, RunOnStart: cfg.Sync.RunOnStart})
	if err := sched.Register(job, every); err != nil {
		return err
	}

	log.Info("worker starting",
		logger.String("version", Version),
		logger.String("strategy", c.syncer.Strategy()),
		logger.Duration("interval", cfg.Sync.Interval),
		logger.Int("concurrency", cfg.Sync.Concurrency),
		logger.String("store", cfg.Store),
		logger.Any("channels", c.dispatcher.Channels()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		return sched.Wait(gctx)
	})

	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(Version)
		if p, ok := c.repo.(handlers.Pinger); ok {
			health.AddCheck("store", handlers.NewPingCheck(p))
		}
		if c.cache != nil {
			health.AddCheck("redis", handlers.NewPingCheck(c.cache))
		}
		health.AddCheck("nzua", handlers.NewBreakerCheck(c.client))
		if c.bot != nil {
			health.AddCheck("telegram", handlers.NewPingCheck(c.bot))
		}

		httpCfg := httpapi.DefaultConfig()
		httpCfg.Host = cfg.HTTP.Host
		httpCfg.Port = cfg.HTTP.Port
		httpCfg.APIKeys = cfg.HTTP.APIKeys
		httpCfg.WriteTimeout = cfg.Sync.UserTimeout + httpCfg.ReadTimeout
		srv := httpapi.NewServer(httpCfg, httpapi.Dependencies{
			Syncer:     c.syncer,
			Dispatcher: c.dispatcher,
			Profiles:   c.profiles,
			Health:     health,
			Metrics:    c.metrics,
			Logger:     log,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	if stats := job.LastStats(); stats != nil {
		log.Info("last pass",
			logger.PassID(stats.PassID),
			logger.Int("synced", stats.Synced),
			logger.Int("failed", stats.Failed))
	}
	log.Info("worker stopped")
	return err
}
