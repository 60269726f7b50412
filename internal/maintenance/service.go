package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/globaltime"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
)

// Report summarizes one maintenance run. Per-cluster failures are counted in
// Errors and never abort the run; only infrastructure failures propagate.
type Report struct {
	Processed int `json:"processed"`
	Merged    int `json:"merged"`
	Split     int `json:"split"`
	Decayed   int `json:"decayed"`
	Errors    int `json:"errors"`
}

// Service is the periodic cluster-quality job: merge near-duplicate
// clusters, split diverged ones, archive stale ones. It runs independently
// of the hot path and tolerates concurrent live assignments through the same
// version-token discipline.
type Service struct {
	clusters  store.ClusterStore
	vectors   *index.VectorIndex
	titles    *index.LexicalIndex
	policy    config.Policy
	clusterer Clusterer
	logger    zerolog.Logger
}

func NewService(
	clusters store.ClusterStore,
	vectors *index.VectorIndex,
	titles *index.LexicalIndex,
	policy config.Policy,
	logger zerolog.Logger,
) *Service {
	return &Service{
		clusters:  clusters,
		vectors:   vectors,
		titles:    titles,
		policy:    policy,
		clusterer: KMeansClusterer{},
		logger:    logger,
	}
}

// SetClusterer swaps the split strategy. The temporal-bisection fallback
// inside the split pass works regardless of what is plugged in here.
func (s *Service) SetClusterer(c Clusterer) {
	if c != nil {
		s.clusterer = c
	}
}

// Run executes one bounded maintenance pass and reports what it did. The
// max-clusters budget is a cooperative cutoff checked between clusters, not
// a preemptive interrupt.
func (s *Service) Run(ctx context.Context) (Report, error) {
	now := globaltime.UTC()
	report := Report{}

	active, err := s.clusters.Query(ctx, store.Filter{States: []model.ClusterState{model.StateActive}})
	if err != nil {
		return report, fmt.Errorf("maintenance: query active clusters: %w", err)
	}

	// Oldest-updated first so stale clusters are not starved by the budget.
	sort.Slice(active, func(i, j int) bool {
		if !active[i].LastUpdated.Equal(active[j].LastUpdated) {
			return active[i].LastUpdated.Before(active[j].LastUpdated)
		}
		return active[i].ID < active[j].ID
	})

	budget := s.policy.Maintenance.MaxClustersPerRun
	if len(active) > budget {
		active = active[:budget]
	}
	report.Processed = len(active)

	retired := make(map[string]struct{})

	s.mergePass(ctx, active, now, retired, &report)
	s.splitPass(ctx, active, now, retired, &report)
	s.decayPass(ctx, active, now, retired, &report)

	s.logger.Info().
		Int("processed", report.Processed).
		Int("merged", report.Merged).
		Int("split", report.Split).
		Int("decayed", report.Decayed).
		Int("errors", report.Errors).
		Msg("maintenance run complete")

	return report, nil
}

// retire tombstones a cluster and clears it from both retrieval indexes.
func (s *Service) retire(ctx context.Context, c *model.StoryCluster, state model.ClusterState, mergedInto string, now time.Time) error {
	_, err := store.UpdateWithRetry(ctx, s.clusters, c.ID, "", store.DefaultMaxAttempts, func(m *store.Mutable) error {
		if m.Cluster.State != model.StateActive {
			m.Skipped = true
			return nil
		}
		m.Cluster.State = state
		m.Cluster.MergedInto = mergedInto
		m.Cluster.LastUpdated = now
		return nil
	})
	if err != nil {
		return err
	}

	s.vectors.Remove(c.ID)
	s.titles.Remove(c.ID)
	return nil
}
