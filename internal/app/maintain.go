package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/OneThum/newsreel/internal/cli"
	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/logging"
)

func runMaintain(args []string) int {
	fs := flag.NewFlagSet("maintain", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

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

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("maintain bootstrap failed")
		fmt.Fprintf(os.Stderr, "Maintain bootstrap failed: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := rt.closeStore(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("cluster store close failed")
		}
	}()

	if _, err := rt.engine.WarmIndexes(ctx); err != nil {
		logger.Error().Err(err).Msg("index warm-up failed")
		fmt.Fprintf(os.Stderr, "Index warm-up failed: %v\n", err)
		return 1
	}

	report, err := rt.maintenance.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("maintenance failed")
		fmt.Fprintf(os.Stderr, "Maintenance failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("processed", report.Processed).
		Int("merged", report.Merged).
		Int("split", report.Split).
		Int("decayed", report.Decayed).
		Int("errors", report.Errors).
		Msg("maintenance completed")
	fmt.Printf(
		"maintain processed=%d merged=%d split=%d decayed=%d errors=%d\n",
		report.Processed, report.Merged, report.Split, report.Decayed, report.Errors,
	)

	if report.Errors > 0 {
		return 1
	}
	return 0
}
