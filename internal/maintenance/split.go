package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OneThum/newsreel/internal/cluster"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
)

// splitPass breaks up clusters that have drifted into covering more than one
// story: large, long-spanning, and diverse in embedding or geographic terms.
func (s *Service) splitPass(ctx context.Context, active []*model.StoryCluster, now time.Time, retired map[string]struct{}, report *Report) {
	for _, c := range active {
		if _, gone := retired[c.ID]; gone {
			continue
		}
		if !s.splitEligible(c) {
			continue
		}

		children, err := s.split(ctx, c, now)
		if err != nil {
			report.Errors++
			s.logger.Warn().Err(err).Str("cluster_id", c.ID).Msg("cluster split failed")
			continue
		}
		if len(children) == 0 {
			continue
		}

		retired[c.ID] = struct{}{}
		report.Split++
	}
}

func (s *Service) splitEligible(c *model.StoryCluster) bool {
	p := s.policy.Maintenance
	if len(c.SourceArticles) < p.SplitMinArticles {
		return false
	}

	start, end := c.PublishSpan()
	if start.IsZero() || end.Sub(start) <= time.Duration(p.SplitMinSpanDays*24*float64(time.Hour)) {
		return false
	}

	return embeddingSpread(c) > p.SplitEmbeddingSpread || geoSpreadKm(c) > p.SplitGeoSpreadKm
}

// embeddingSpread is the mean cosine distance of member embeddings to the
// centroid; a tight cluster sits near zero.
func embeddingSpread(c *model.StoryCluster) float64 {
	if len(c.Centroid) == 0 {
		return 0
	}
	total := 0.0
	count := 0
	for _, sa := range c.SourceArticles {
		if len(sa.Embedding) != len(c.Centroid) {
			continue
		}
		total += 1 - index.Cosine(sa.Embedding, c.Centroid)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// geoSpreadKm is the widest pairwise distance among the cluster's resolved
// locations.
func geoSpreadKm(c *model.StoryCluster) float64 {
	if c.Geo == nil || len(c.Geo.Locations) < 2 {
		return 0
	}
	widest := 0.0
	locs := c.Geo.Locations
	for i := 0; i < len(locs); i++ {
		for j := i + 1; j < len(locs); j++ {
			if d := cluster.HaversineKm(locs[i], locs[j]); d > widest {
				widest = d
			}
		}
	}
	return widest
}

// split partitions the cluster's members, persists the subclusters, and
// tombstones the parent. Members without embeddings force the temporal
// bisection fallback.
func (s *Service) split(ctx context.Context, c *model.StoryCluster, now time.Time) ([]*model.StoryCluster, error) {
	groups := s.partitionMembers(c)
	if len(groups) < 2 {
		return nil, nil
	}

	breakingWindow := time.Duration(s.policy.BreakingWindowH * float64(time.Hour))
	children := make([]*model.StoryCluster, 0, len(groups))
	for i, members := range groups {
		child := deriveSubcluster(c, members, i+1, now, breakingWindow)
		if err := s.persistChild(ctx, c, child); err != nil {
			return nil, err
		}
		if len(child.Centroid) > 0 {
			if err := s.vectors.Upsert(child.ID, child.Centroid, child.LastUpdated); err != nil {
				s.logger.Warn().Err(err).Str("cluster_id", child.ID).Msg("vector index upsert failed after split")
			}
		}
		s.titles.Upsert(child.ID, child.Title, child.LastUpdated)
		children = append(children, child)
	}

	if err := s.retire(ctx, c, model.StateSuperseded, children[0].ID, now); err != nil {
		return nil, err
	}
	return children, nil
}

// persistChild writes a subcluster. Child ids are deterministic, so a child
// left behind by a split that failed partway through an earlier run is
// overwritten rather than treated as a collision; the parent stays active
// until every child is persisted, and the next run converges.
func (s *Service) persistChild(ctx context.Context, parent, child *model.StoryCluster) error {
	err := s.clusters.Create(ctx, child)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("create subcluster %s: %w", child.ID, err)
	}

	existing, getErr := s.clusters.Get(ctx, child.ID, parent.Category)
	if getErr != nil {
		return fmt.Errorf("load existing subcluster %s: %w", child.ID, getErr)
	}
	replaced, repErr := s.clusters.Replace(ctx, child.ID, child, existing.Version)
	if repErr != nil {
		return fmt.Errorf("replace subcluster %s: %w", child.ID, repErr)
	}
	child.Version = replaced.Version
	return nil
}

// partitionMembers tries the pluggable clusterer over member embeddings and
// falls back to temporal bisection when embeddings are unusable. Subclusters
// smaller than two articles are discarded.
func (s *Service) partitionMembers(c *model.StoryCluster) [][]model.SourceArticle {
	members := c.SourceArticles

	vectors := make([][]float32, 0, len(members))
	complete := true
	for _, sa := range members {
		if len(sa.Embedding) == 0 {
			complete = false
			break
		}
		vectors = append(vectors, sa.Embedding)
	}

	if complete {
		k := len(members) / 4
		if k > 3 {
			k = 3
		}
		if k >= 2 {
			if assignment, err := s.clusterer.Cluster(vectors, k); err == nil {
				groups := make(map[int][]model.SourceArticle)
				for i, g := range assignment {
					groups[g] = append(groups[g], members[i])
				}
				kept := make([][]model.SourceArticle, 0, len(groups))
				keys := make([]int, 0, len(groups))
				for g := range groups {
					keys = append(keys, g)
				}
				sort.Ints(keys)
				for _, g := range keys {
					if len(groups[g]) >= 2 {
						kept = append(kept, groups[g])
					}
				}
				if len(kept) >= 2 {
					return kept
				}
			} else {
				s.logger.Warn().Err(err).Str("cluster_id", c.ID).Msg("clusterer failed; falling back to temporal bisection")
			}
		}
	}

	return temporalBisect(members)
}

// temporalBisect splits members at the median publish time into exactly two
// early/late halves. It needs no embeddings and works standalone.
func temporalBisect(members []model.SourceArticle) [][]model.SourceArticle {
	if len(members) < 4 {
		return nil
	}

	ordered := make([]model.SourceArticle, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].PublishedAt.Equal(ordered[j].PublishedAt) {
			return ordered[i].PublishedAt.Before(ordered[j].PublishedAt)
		}
		return ordered[i].ArticleID < ordered[j].ArticleID
	})

	mid := len(ordered) / 2
	early := ordered[:mid]
	late := ordered[mid:]
	if len(early) < 2 || len(late) < 2 {
		return nil
	}
	return [][]model.SourceArticle{early, late}
}

// deriveSubcluster builds a child cluster from a member group. Static
// metadata is inherited from the parent; derived fields are recomputed.
func deriveSubcluster(parent *model.StoryCluster, members []model.SourceArticle, ordinal int, now time.Time, breakingWindow time.Duration) *model.StoryCluster {
	firstSeen := now
	title := parent.Title
	for _, sa := range members {
		if sa.PublishedAt.Before(firstSeen) {
			firstSeen = sa.PublishedAt
			title = sa.Title
		}
	}

	child := &model.StoryCluster{
		ID:             fmt.Sprintf("%s-s%d", parent.ID, ordinal),
		Category:       parent.Category,
		Title:          title,
		Signature:      parent.Signature,
		Geo:            parent.Geo,
		SourceArticles: append([]model.SourceArticle(nil), members...),
		State:          model.StateActive,
		FirstSeen:      firstSeen,
		LastUpdated:    now,
	}
	if len(parent.EntityCounts) > 0 {
		child.EntityCounts = make(map[string]int, len(parent.EntityCounts))
		for k, v := range parent.EntityCounts {
			child.EntityCounts[k] = v
		}
	}

	child.RecomputeCentroid()
	child.Recompute(now, breakingWindow)
	return child
}
