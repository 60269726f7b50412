package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/cluster"
	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/experiment"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/maintenance"
	"github.com/OneThum/newsreel/internal/store"
)

const lexicalStatsMaxAge = 5 * time.Minute

// runtimeComponents wires the store, indexes, engine and maintenance service
// for one command invocation. Commands that run against Postgres must call
// Close when done.
type runtimeComponents struct {
	cfg         *config.Config
	policy      config.Policy
	clusters    store.ClusterStore
	vectors     *index.VectorIndex
	titles      *index.LexicalIndex
	engine      *cluster.Engine
	maintenance *maintenance.Service
	experiments []*experiment.Experiment
	closeStore  func() error
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtimeComponents, error) {
	policy := config.DefaultPolicy()
	if strings.TrimSpace(cfg.ProfilePath) != "" {
		loaded, err := config.LoadPolicy(cfg.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("load clustering profile: %w", err)
		}
		policy = loaded
		logger.Info().Str("path", cfg.ProfilePath).Str("version", policy.Version).Msg("clustering profile loaded")
	}

	var experiments []*experiment.Experiment
	var resolver cluster.PolicyResolver
	if strings.TrimSpace(cfg.ExperimentsPath) != "" {
		loaded, err := experiment.Load(cfg.ExperimentsPath, policy)
		if err != nil {
			return nil, fmt.Errorf("load experiments: %w", err)
		}
		experiments = loaded
		resolver = experiment.NewRegistry(policy, loaded)
		logger.Info().Int("experiments", len(loaded)).Str("path", cfg.ExperimentsPath).Msg("experiments loaded")
	}

	var clusters store.ClusterStore
	closeStore := func() error { return nil }
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := store.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect cluster store: %w", err)
		}
		clusters = pg
		closeStore = pg.Close
		logger.Info().Msg("using postgres cluster store")
	} else {
		clusters = store.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory cluster store")
	}

	vectors := index.NewVectorIndex()
	titles := index.NewLexicalIndex(lexicalStatsMaxAge)
	engine := cluster.NewEngine(clusters, vectors, titles, policy, resolver, logger)
	maint := maintenance.NewService(clusters, vectors, titles, policy, logger)

	return &runtimeComponents{
		cfg:         cfg,
		policy:      policy,
		clusters:    clusters,
		vectors:     vectors,
		titles:      titles,
		engine:      engine,
		maintenance: maint,
		experiments: experiments,
		closeStore:  closeStore,
	}, nil
}
