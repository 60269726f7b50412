package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OneThum/newsreel/internal/cli"
	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/logging"
	articleschema "github.com/OneThum/newsreel/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "testdata/articles", "Directory containing .json article payload files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
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

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest setup failed: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Ingest failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("ingest bootstrap failed")
		fmt.Fprintf(os.Stderr, "Ingest bootstrap failed: %v\n", err)
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

	var assigned, created, invalid atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.IngestWorkers)

	for _, path := range files {
		path := path
		group.Go(func() error {
			raw, readErr := os.ReadFile(path)
			if readErr != nil {
				invalid.Add(1)
				logger.Warn().Err(readErr).Str("path", path).Msg("payload read failed")
				return nil
			}

			article, validateErr := articleschema.ValidateArticlePayload(json.RawMessage(raw))
			if validateErr != nil {
				invalid.Add(1)
				logger.Warn().Err(validateErr).Str("path", path).Msg("payload rejected")
				return nil
			}

			outcome, ingestErr := rt.engine.Ingest(groupCtx, article)
			if ingestErr != nil {
				return fmt.Errorf("ingest %s: %w", article.ID, ingestErr)
			}

			if outcome.Created {
				created.Add(1)
			} else {
				assigned.Add(1)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("files", len(files)).
		Int64("assigned", assigned.Load()).
		Int64("created", created.Load()).
		Int64("invalid", invalid.Load()).
		Msg("ingest completed")
	fmt.Printf(
		"ingest files=%d assigned=%d created=%d invalid=%d\n",
		len(files), assigned.Load(), created.Load(), invalid.Load(),
	)

	if invalid.Load() > 0 {
		return 1
	}
	return 0
}
