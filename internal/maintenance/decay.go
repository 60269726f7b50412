package maintenance

import (
	"context"
	"time"

	"github.com/OneThum/newsreel/internal/model"
)

// decayPass soft-archives stale clusters. Archived clusters are excluded
// from candidate generation and from future maintenance runs.
func (s *Service) decayPass(ctx context.Context, active []*model.StoryCluster, now time.Time, retired map[string]struct{}, report *Report) {
	for _, c := range active {
		if _, gone := retired[c.ID]; gone {
			continue
		}
		if !s.shouldDecay(c, now) {
			continue
		}

		if err := s.retire(ctx, c, model.StateArchived, "", now); err != nil {
			report.Errors++
			s.logger.Warn().Err(err).Str("cluster_id", c.ID).Msg("cluster decay failed")
			continue
		}
		retired[c.ID] = struct{}{}
		report.Decayed++
	}
}

// shouldDecay applies the inactivity rules, all boundaries inclusive: a
// single-source cluster exactly at its limit decays.
func (s *Service) shouldDecay(c *model.StoryCluster, now time.Time) bool {
	p := s.policy.Maintenance
	inactive := now.Sub(c.LastUpdated)
	sources := c.DistinctSources()

	switch {
	case sources <= 1 && inactive >= daysDuration(p.DecaySingleSourceDays):
		return true
	case sources <= 2 && inactive >= daysDuration(p.DecayLowSourceDays):
		return true
	case inactive >= daysDuration(p.DecayAnyDays):
		return true
	default:
		return false
	}
}

func daysDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
