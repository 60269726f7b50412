package cluster

import (
	"math"
	"sort"
	"time"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/model"
)

// New-cluster reasons reported in decision diagnostics.
const (
	ReasonNoCandidates   = "no_candidates"
	ReasonBelowThreshold = "below_threshold"
)

// ScoredCandidate pairs a candidate cluster with its similarity score.
type ScoredCandidate struct {
	ClusterID  string
	Score      float64
	Components model.ScoreComponents
}

// Decision is the terminal outcome for one article: either assignment to an
// existing cluster or the creation of a new one. The decider never returns
// an uncertain state; uncertainty resolves to a new cluster because a false
// split is repairable by a later merge while a false merge is not.
type Decision struct {
	Assigned   bool
	ClusterID  string
	Score      float64
	Components model.ScoreComponents
	Reason     string
	Diagnostic map[string]float64
}

// Decider turns ranked candidate scores into an assign/new-cluster decision
// using age-adaptive thresholds and a statistical guardrail.
type Decider struct {
	tiers config.ThresholdTiers
}

func NewDecider(tiers config.ThresholdTiers) *Decider {
	return &Decider{tiers: tiers}
}

// Decide ranks the candidates and applies the effective threshold. The
// threshold is inclusive: a best score exactly at the bar assigns.
func (d *Decider) Decide(article *model.Article, candidates []ScoredCandidate, now time.Time) Decision {
	if len(candidates) == 0 {
		return Decision{Reason: ReasonNoCandidates}
	}

	ranked := make([]ScoredCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ClusterID < ranked[j].ClusterID
	})
	best := ranked[0]

	threshold := d.ageThreshold(article.PublishedAt, now)

	// With several candidates the best must also stand out from the field.
	// The stricter of the two bars wins: letting the guardrail lower the bar
	// would make tightly-clustered mediocre scores merge on noise.
	if len(ranked) >= 2 {
		if guardrail := d.guardrail(ranked); guardrail > threshold {
			threshold = guardrail
		}
	}

	if best.Score >= threshold {
		return Decision{
			Assigned:   true,
			ClusterID:  best.ClusterID,
			Score:      best.Score,
			Components: best.Components,
		}
	}

	return Decision{
		Reason:     ReasonBelowThreshold,
		Score:      best.Score,
		Components: best.Components,
		Diagnostic: map[string]float64{
			"best_score": best.Score,
			"threshold":  threshold,
			"gap":        threshold - best.Score,
		},
	}
}

// ageThreshold picks the tier for the article's age since publish. Fresh
// stories need stronger evidence to merge because early reporting is noisy.
func (d *Decider) ageThreshold(publishedAt, now time.Time) float64 {
	age := now.Sub(publishedAt)
	switch {
	case age < time.Duration(d.tiers.FreshHours*float64(time.Hour)):
		return d.tiers.Fresh
	case age < time.Duration(d.tiers.RecentHours*float64(time.Hour)):
		return d.tiers.Recent
	default:
		return d.tiers.Stale
	}
}

// guardrail is mean + k·σ over all candidate scores.
func (d *Decider) guardrail(candidates []ScoredCandidate) float64 {
	n := float64(len(candidates))
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	mean := sum / n

	var variance float64
	for _, c := range candidates {
		diff := c.Score - mean
		variance += diff * diff
	}
	variance /= n

	return mean + d.tiers.GuardrailK*math.Sqrt(variance)
}
