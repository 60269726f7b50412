package maintenance

import (
	"context"
	"sort"
	"time"

	"github.com/OneThum/newsreel/internal/cluster"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
)

// mergePass folds near-duplicate clusters into each other. Candidates are
// pre-filtered into category buckets of viable (>=2 sources), recently
// updated clusters before any pairwise comparison so the run budget holds.
func (s *Service) mergePass(ctx context.Context, active []*model.StoryCluster, now time.Time, retired map[string]struct{}, report *Report) {
	p := s.policy.Maintenance
	viableCutoff := now.AddDate(0, 0, -p.ViableMaxIdleDays)

	buckets := make(map[string][]*model.StoryCluster)
	for _, c := range active {
		if c.DistinctSources() < 2 {
			continue
		}
		if c.LastUpdated.Before(viableCutoff) {
			continue
		}
		buckets[c.Category] = append(buckets[c.Category], c)
	}

	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].ID < bucket[j].ID })

		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				left, right := bucket[i], bucket[j]
				if _, gone := retired[left.ID]; gone {
					break
				}
				if _, gone := retired[right.ID]; gone {
					continue
				}
				if !s.shouldMerge(left, right) {
					continue
				}

				base, absorbed := pickMergeBase(left, right)
				if err := s.merge(ctx, base, absorbed, now); err != nil {
					report.Errors++
					s.logger.Warn().
						Err(err).
						Str("base_id", base.ID).
						Str("absorbed_id", absorbed.ID).
						Msg("cluster merge failed")
					continue
				}
				retired[absorbed.ID] = struct{}{}
				report.Merged++
			}
		}
	}
}

// shouldMerge applies the merge gates: every enabled gate must hold.
func (s *Service) shouldMerge(a, b *model.StoryCluster) bool {
	p := s.policy.Maintenance

	if temporalOverlapRatio(a, b) < p.MergeTemporalOverlap {
		return false
	}
	if histogramJaccard(a.EntityCounts, b.EntityCounts) < p.MergeEntityJaccard {
		return false
	}
	if p.GeoGateEnabled {
		if geo, ok := cluster.GeoSimilarity(a.Geo, b.Geo, s.policy.GeoMaxDistanceKm); ok && geo < p.MergeGeoSimilarity {
			return false
		}
	}
	if p.EventGateEnabled {
		if event, ok := cluster.EventSimilarity(a.Signature, b.Signature); ok && event < p.MergeEventSimilarity {
			return false
		}
	}
	return true
}

// pickMergeBase keeps the larger cluster, tie broken by the older FirstSeen.
func pickMergeBase(a, b *model.StoryCluster) (base, absorbed *model.StoryCluster) {
	switch {
	case len(a.SourceArticles) > len(b.SourceArticles):
		return a, b
	case len(b.SourceArticles) > len(a.SourceArticles):
		return b, a
	case a.FirstSeen.After(b.FirstSeen):
		return b, a
	default:
		return a, b
	}
}

// merge unions the absorbed cluster into the base under the optimistic
// update protocol, then tombstones the absorbed cluster.
func (s *Service) merge(ctx context.Context, base, absorbed *model.StoryCluster, now time.Time) error {
	breakingWindow := time.Duration(s.policy.BreakingWindowH * float64(time.Hour))

	result, err := store.UpdateWithRetry(ctx, s.clusters, base.ID, "", store.DefaultMaxAttempts, func(m *store.Mutable) error {
		mergeInto(m.Cluster, absorbed, now, breakingWindow)
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.retire(ctx, absorbed, model.StateSuperseded, base.ID, now); err != nil {
		return err
	}

	merged := result.Cluster
	if len(merged.Centroid) > 0 {
		if err := s.vectors.Upsert(merged.ID, merged.Centroid, merged.LastUpdated); err != nil {
			s.logger.Warn().Err(err).Str("cluster_id", merged.ID).Msg("vector index upsert failed after merge")
		}
	}
	s.titles.Upsert(merged.ID, merged.Title, merged.LastUpdated)
	return nil
}

// mergeInto applies the union semantics: source articles deduplicated by
// article id (and capped at one per source), entity counts summed,
// first_seen minimized, derived fields recomputed.
func mergeInto(base, absorbed *model.StoryCluster, now time.Time, breakingWindow time.Duration) {
	haveArticle := make(map[string]struct{}, len(base.SourceArticles))
	haveSource := make(map[string]struct{}, len(base.SourceArticles))
	for _, sa := range base.SourceArticles {
		haveArticle[sa.ArticleID] = struct{}{}
		haveSource[sa.Source] = struct{}{}
	}
	for _, sa := range absorbed.SourceArticles {
		if _, dup := haveArticle[sa.ArticleID]; dup {
			continue
		}
		if _, dup := haveSource[sa.Source]; dup {
			continue
		}
		haveArticle[sa.ArticleID] = struct{}{}
		haveSource[sa.Source] = struct{}{}
		base.SourceArticles = append(base.SourceArticles, sa)
	}

	if len(absorbed.EntityCounts) > 0 && base.EntityCounts == nil {
		base.EntityCounts = make(map[string]int, len(absorbed.EntityCounts))
	}
	for text, count := range absorbed.EntityCounts {
		base.EntityCounts[text] += count
	}

	if base.Signature == nil {
		base.Signature = absorbed.Signature
	}
	if base.Geo == nil {
		base.Geo = absorbed.Geo
	}
	if absorbed.FirstSeen.Before(base.FirstSeen) {
		base.FirstSeen = absorbed.FirstSeen
	}

	base.LastUpdated = now
	base.RecomputeCentroid()
	base.Recompute(now, breakingWindow)
}

// temporalOverlapRatio compares the publish spans of two clusters: overlap
// duration over the shorter span. Point spans count as full overlap when
// they fall inside the other span.
func temporalOverlapRatio(a, b *model.StoryCluster) float64 {
	aStart, aEnd := a.PublishSpan()
	bStart, bEnd := b.PublishSpan()
	if aStart.IsZero() || bStart.IsZero() {
		return 0
	}

	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if end.Before(start) {
		return 0
	}

	overlap := end.Sub(start)
	shorter := aEnd.Sub(aStart)
	if d := bEnd.Sub(bStart); d < shorter {
		shorter = d
	}
	if shorter <= 0 {
		// At least one cluster is a single point inside the other's span.
		return 1
	}
	return float64(overlap) / float64(shorter)
}

func histogramJaccard(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
