package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/globaltime"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
)

// PolicyResolver picks the clustering policy for one article. The experiment
// controller implements it; a nil resolver means "always the base policy".
type PolicyResolver interface {
	PolicyFor(articleID string, now time.Time) (config.Policy, string)
}

// MetricRecorder receives one observation per ingest decision. A resolver
// that also implements it (the experiment registry does) gets the decision
// kind and, on assignment, the winning similarity score.
type MetricRecorder interface {
	RecordMetric(articleID, name string, value any, metadata map[string]string)
}

// Outcome reports what happened to one ingested article.
type Outcome struct {
	ArticleID string
	Variant   string
	ClusterID string
	Created   bool
	Decision  Decision
}

// Engine is the hot path: candidate generation, scoring, the assignment
// decision and the store mutation. It is safe for concurrent use; the only
// shared mutable state is the pair of indexes and the store itself.
type Engine struct {
	clusters  store.ClusterStore
	vectors   *index.VectorIndex
	titles    *index.LexicalIndex
	generator *Generator
	policy    config.Policy
	resolver  PolicyResolver
	recorder  MetricRecorder
	logger    zerolog.Logger
}

func NewEngine(
	clusters store.ClusterStore,
	vectors *index.VectorIndex,
	titles *index.LexicalIndex,
	policy config.Policy,
	resolver PolicyResolver,
	logger zerolog.Logger,
) *Engine {
	recorder, _ := resolver.(MetricRecorder)
	return &Engine{
		clusters:  clusters,
		vectors:   vectors,
		titles:    titles,
		generator: NewGenerator(vectors, titles, logger),
		policy:    policy,
		resolver:  resolver,
		recorder:  recorder,
		logger:    logger,
	}
}

// WarmIndexes rebuilds both retrieval indexes from the active clusters in
// the store. Run it once at startup, before serving ingest traffic.
func (e *Engine) WarmIndexes(ctx context.Context) (int, error) {
	active, err := e.clusters.Query(ctx, store.Filter{States: []model.ClusterState{model.StateActive}})
	if err != nil {
		return 0, fmt.Errorf("warm indexes: %w", err)
	}
	for _, c := range active {
		e.indexCluster(c)
	}
	return len(active), nil
}

// Ingest routes one feature-complete article to an existing cluster or a new
// one. It always reaches a terminal outcome: retry exhaustion on the target
// cluster falls back to creating a new cluster instead of dropping work.
func (e *Engine) Ingest(ctx context.Context, article *model.Article) (Outcome, error) {
	if article == nil || article.ID == "" || article.Source == "" {
		return Outcome{}, fmt.Errorf("ingest: article id and source are required")
	}

	now := globaltime.UTC()
	policy := e.policy
	variant := ""
	if e.resolver != nil {
		policy, variant = e.resolver.PolicyFor(article.ID, now)
	}

	candidateIDs := e.generator.Generate(article, policy.Candidates, now)
	scored, err := e.scoreCandidates(ctx, article, candidateIDs, policy)
	if err != nil {
		return Outcome{}, err
	}

	decision := NewDecider(policy.Thresholds).Decide(article, scored, now)
	outcome := Outcome{ArticleID: article.ID, Variant: variant, Decision: decision}

	if decision.Assigned {
		clusterID, err := e.assign(ctx, article, decision.ClusterID, policy, now)
		if err == nil {
			outcome.ClusterID = clusterID
			e.recordOutcome(outcome)
			return outcome, nil
		}
		if !errors.Is(err, store.ErrRetriesExhausted) && !errors.Is(err, store.ErrNotFound) {
			return Outcome{}, err
		}
		e.logger.Warn().
			Err(err).
			Str("article_id", article.ID).
			Str("cluster_id", decision.ClusterID).
			Msg("assignment could not be applied; routing article to a new cluster")
	}

	created, err := e.createCluster(ctx, article, policy, now)
	if err != nil {
		return Outcome{}, err
	}
	outcome.ClusterID = created.ID
	outcome.Created = true
	e.recordOutcome(outcome)
	return outcome, nil
}

// recordOutcome feeds the experiment report: every decision lands a
// "decision" observation, assignments additionally land the winning score.
func (e *Engine) recordOutcome(o Outcome) {
	if e.recorder == nil {
		return
	}
	meta := map[string]string{"cluster_id": o.ClusterID}
	kind := "new_cluster"
	if !o.Created {
		kind = "assigned"
	}
	e.recorder.RecordMetric(o.ArticleID, "decision", kind, meta)
	if o.Decision.Assigned && !o.Created {
		e.recorder.RecordMetric(o.ArticleID, "similarity_score", o.Decision.Score, meta)
	}
}

func (e *Engine) scoreCandidates(
	ctx context.Context,
	article *model.Article,
	candidateIDs []string,
	policy config.Policy,
) ([]ScoredCandidate, error) {
	scorer := NewScorer(policy)
	scored := make([]ScoredCandidate, 0, len(candidateIDs))

	for _, id := range candidateIDs {
		candidate, err := e.clusters.Get(ctx, id, "")
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Index entry outlived the cluster; drop it.
				e.vectors.Remove(id)
				e.titles.Remove(id)
				continue
			}
			return nil, err
		}
		if candidate.State != model.StateActive {
			continue
		}
		if article.Category != "" && candidate.Category != "" && candidate.Category != article.Category {
			continue
		}

		score, components := scorer.Score(article, candidate)
		scored = append(scored, ScoredCandidate{ClusterID: id, Score: score, Components: components})
	}
	return scored, nil
}

func (e *Engine) assign(
	ctx context.Context,
	article *model.Article,
	clusterID string,
	policy config.Policy,
	now time.Time,
) (string, error) {
	breakingWindow := time.Duration(policy.BreakingWindowH * float64(time.Hour))

	result, err := store.UpdateWithRetry(ctx, e.clusters, clusterID, "", store.DefaultMaxAttempts, func(m *store.Mutable) error {
		if m.Cluster.HasArticle(article.ID) {
			// Replay of an already-applied article; the cluster is unchanged.
			m.Skipped = true
			return nil
		}
		applyArticle(m.Cluster, article, now, breakingWindow)
		return nil
	})
	if err != nil {
		return "", err
	}

	e.indexCluster(result.Cluster)
	return result.Cluster.ID, nil
}

// applyArticle folds an article into a cluster. A source that already
// attributed an article keeps its original entry, so syndicated re-reports
// never raise the verification level.
func applyArticle(c *model.StoryCluster, article *model.Article, now time.Time, breakingWindow time.Duration) {
	if !c.HasSource(article.Source) {
		c.SourceArticles = append(c.SourceArticles, model.SourceArticle{
			ArticleID:   article.ID,
			Source:      article.Source,
			Title:       article.Title,
			PublishedAt: article.PublishedAt,
			Embedding:   article.Embedding,
		})
		for _, entity := range article.Entities {
			if c.EntityCounts == nil {
				c.EntityCounts = make(map[string]int)
			}
			c.EntityCounts[entity.Text]++
		}
	}

	if c.Signature == nil && article.Signature != nil {
		c.Signature = article.Signature
	}
	if c.Geo == nil && article.Geo != nil {
		c.Geo = article.Geo
	}

	c.LastUpdated = now
	c.RecomputeCentroid()
	c.Recompute(now, breakingWindow)
	c.Importance = importanceOf(c)
}

func (e *Engine) createCluster(
	ctx context.Context,
	article *model.Article,
	policy config.Policy,
	now time.Time,
) (*model.StoryCluster, error) {
	cluster := &model.StoryCluster{
		ID:       uuid.NewString(),
		Category: article.Category,
		Title:    article.Title,
		Centroid: append([]float32(nil), article.Embedding...),
		SourceArticles: []model.SourceArticle{{
			ArticleID:   article.ID,
			Source:      article.Source,
			Title:       article.Title,
			PublishedAt: article.PublishedAt,
			Embedding:   article.Embedding,
		}},
		Signature:         article.Signature,
		Geo:               article.Geo,
		VerificationLevel: 1,
		Status:            model.StatusMonitoring,
		State:             model.StateActive,
		FirstSeen:         now,
		LastUpdated:       now,
	}
	if len(article.Entities) > 0 {
		cluster.EntityCounts = make(map[string]int, len(article.Entities))
		for _, entity := range article.Entities {
			cluster.EntityCounts[entity.Text]++
		}
	}
	cluster.Importance = importanceOf(cluster)

	if err := e.clusters.Create(ctx, cluster); err != nil {
		return nil, fmt.Errorf("create cluster for article %s: %w", article.ID, err)
	}

	e.indexCluster(cluster)
	return cluster, nil
}

// indexCluster keeps both retrieval indexes in step with the stored cluster.
func (e *Engine) indexCluster(c *model.StoryCluster) {
	if len(c.Centroid) > 0 {
		if err := e.vectors.Upsert(c.ID, c.Centroid, c.LastUpdated); err != nil {
			e.logger.Warn().Err(err).Str("cluster_id", c.ID).Msg("vector index upsert failed")
		}
	}
	e.titles.Upsert(c.ID, c.Title, c.LastUpdated)
}

// importanceOf is a coarse ranking signal for downstream consumers: more
// corroborating sources and an active breaking flag raise it.
func importanceOf(c *model.StoryCluster) float64 {
	importance := 0.2 * float64(c.VerificationLevel)
	if c.Breaking {
		importance += 0.2
	}
	if importance > 1 {
		importance = 1
	}
	return importance
}
