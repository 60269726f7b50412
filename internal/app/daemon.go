package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OneThum/newsreel/internal/cli"
	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/httpapi"
	"github.com/OneThum/newsreel/internal/logging"
)

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "HTTP listen address (overrides NR_HTTP_ADDR)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("daemon bootstrap failed")
		fmt.Fprintf(os.Stderr, "Daemon bootstrap failed: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := rt.closeStore(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("cluster store close failed")
		}
	}()

	warmed, err := rt.engine.WarmIndexes(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("index warm-up failed")
		fmt.Fprintf(os.Stderr, "Index warm-up failed: %v\n", err)
		return 1
	}
	logger.Info().Int("clusters", warmed).Msg("retrieval indexes warmed")

	server := httpapi.NewServer(rt.engine, rt.clusters, rt.maintenance, rt.experiments, logger, httpapi.Options{
		Addr: cfg.HTTPAddr,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Start(groupCtx)
	})

	group.Go(func() error {
		interval := time.Duration(cfg.MaintenanceMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				report, runErr := rt.maintenance.Run(groupCtx)
				if runErr != nil {
					logger.Error().Err(runErr).Msg("scheduled maintenance failed")
					continue
				}
				logger.Info().
					Int("processed", report.Processed).
					Int("merged", report.Merged).
					Int("split", report.Split).
					Int("decayed", report.Decayed).
					Int("errors", report.Errors).
					Msg("scheduled maintenance completed")
			}
		}
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("daemon stopped with error")
		return 1
	}

	logger.Info().Msg("daemon stopped")
	return 0
}
