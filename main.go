package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/kolwatch/internal/app"
	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kolwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, created, err := app.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Output(cfg.Logging, os.Stderr), cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if created {
		path, _ := config.ConfigPath()
		logger.Info("created default config", "path", path)
	}

	interval, err := cfg.Interval()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Schedule.Timezone, time.Duration(cfg.Schedule.RunTimeoutMin)*time.Minute, logger)
	if err != nil {
		return err
	}
	if err := sched.AddIntervalJob("ingest", interval, a.IngestJob); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("kolwatch starting",
		"handles", len(cfg.Tracking.Handles),
		"interval", interval,
		"fetcher", cfg.Source.Fetcher,
		"classifier", cfg.Classifier.Provider,
		"storage", cfg.Storage.Driver,
	)

	if err := a.Auth().Watch(ctx); err != nil {
		logger.Warn("not watching cookie file", "err", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ServeMetrics(ctx) })
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})
	if cfg.Schedule.RunOnStart {
		// Stop cancels this run too.
		g.Go(func() error {
			if err := sched.RunNow("ingest", a.IngestJob); err != nil {
				logger.Error("initial run failed", "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("kolwatch stopped")
	return nil
}
