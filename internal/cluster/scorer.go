package cluster

import (
	"math"
	"strings"
	"time"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/model"
)

const neutralScore = 0.5

// Scorer computes the weighted multi-factor similarity between an article
// and a candidate cluster. It is a pure function of its inputs and the
// policy it was built with, so decisions replay identically in backtests.
type Scorer struct {
	policy config.Policy
}

func NewScorer(policy config.Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score returns the final similarity and its per-factor breakdown. The final
// score is always the weighted sum of the returned components.
func (s *Scorer) Score(article *model.Article, cluster *model.StoryCluster) (float64, model.ScoreComponents) {
	w := s.policy.Weights
	components := model.ScoreComponents{}

	semantic, semanticOK := semanticSimilarity(article.Embedding, cluster.Centroid)
	components[model.FactorSemantic] = model.Component{Weight: w.Semantic, Value: semantic, Missing: !semanticOK}

	components[model.FactorEntity] = model.Component{
		Weight: w.Entity,
		Value:  entityJaccard(article.Entities, cluster.EntityCounts),
	}

	components[model.FactorTitle] = model.Component{
		Weight: w.Title,
		Value:  titleJaccard(article.Title, cluster.Title),
	}

	components[model.FactorTemporal] = model.Component{
		Weight: w.Temporal,
		Value:  s.temporalProximity(article.PublishedAt, cluster),
	}

	geo, geoOK := GeoSimilarity(article.Geo, cluster.Geo, s.policy.GeoMaxDistanceKm)
	if !geoOK {
		geo = neutralScore
	}
	components[model.FactorGeo] = model.Component{Weight: w.Geo, Value: geo, Missing: !geoOK}

	event, eventOK := EventSimilarity(article.Signature, cluster.Signature)
	if !eventOK {
		event = neutralScore
	}
	components[model.FactorEvent] = model.Component{Weight: w.Event, Value: event, Missing: !eventOK}

	return components.Total(), components
}

// semanticSimilarity is cosine similarity clamped to [0,1]. ok is false when
// either side lacks an embedding; the factor then contributes nothing, so a
// feature-extraction outage biases toward NEW_CLUSTER rather than a bad merge.
func semanticSimilarity(embedding, centroid []float32) (float64, bool) {
	if len(embedding) == 0 || len(centroid) == 0 {
		return 0, false
	}
	// Negative cosines carry no extra signal for dissimilarity here.
	return clamp01(index.Cosine(embedding, centroid)), true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func entityJaccard(entities []model.Entity, counts map[string]int) float64 {
	if len(entities) == 0 || len(counts) == 0 {
		return 0
	}

	left := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		left[normalizeEntity(e.Text)] = struct{}{}
	}
	right := make(map[string]struct{}, len(counts))
	for text := range counts {
		right[normalizeEntity(text)] = struct{}{}
	}
	return setJaccard(left, right)
}

func normalizeEntity(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func titleJaccard(left, right string) float64 {
	return setJaccard(index.TokenSet(left), index.TokenSet(right))
}

func setJaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	intersection := 0
	for k := range left {
		if _, ok := right[k]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// temporalProximity is a Gaussian decay of the publish-time gap in hours.
// Breaking clusters get the tighter variance: stories in flight move fast,
// so a day-old article is weaker evidence for them.
func (s *Scorer) temporalProximity(publishedAt time.Time, cluster *model.StoryCluster) float64 {
	reference := cluster.LastUpdated
	if _, latest := cluster.PublishSpan(); !latest.IsZero() {
		reference = latest
	}
	if publishedAt.IsZero() || reference.IsZero() {
		return neutralScore
	}

	sigma := s.policy.DefaultSigmaH
	if cluster.Breaking {
		sigma = s.policy.BreakingSigmaH
	}

	gapHours := math.Abs(publishedAt.Sub(reference).Hours())
	return math.Exp(-(gapHours * gapHours) / (2 * sigma * sigma))
}

// GeoSimilarity blends regional-context match, scope match, nearest-pair
// proximity and hierarchy overlap. ok is false when either side has no
// geographic data at all; callers substitute the neutral score.
func GeoSimilarity(a, b *model.GeoFeatures, maxDistanceKm float64) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	var parts []float64

	if a.RegionalContext != "" && b.RegionalContext != "" {
		if strings.EqualFold(a.RegionalContext, b.RegionalContext) {
			parts = append(parts, 1)
		} else {
			parts = append(parts, 0)
		}
	}

	if a.Scope != "" && b.Scope != "" {
		if strings.EqualFold(a.Scope, b.Scope) {
			parts = append(parts, 1)
		} else {
			parts = append(parts, 0)
		}
	}

	if d, ok := nearestPairKm(a, b); ok {
		if d > maxDistanceKm {
			d = maxDistanceKm
		}
		parts = append(parts, 1-d/maxDistanceKm)
	}

	if len(a.Hierarchy) > 0 && len(b.Hierarchy) > 0 {
		parts = append(parts, setJaccard(stringSet(a.Hierarchy), stringSet(b.Hierarchy)))
	}

	if len(parts) == 0 {
		return 0, false
	}

	total := 0.0
	for _, p := range parts {
		total += p
	}
	return total / float64(len(parts)), true
}

func nearestPairKm(a, b *model.GeoFeatures) (float64, bool) {
	left := a.Locations
	if len(left) == 0 && a.PrimaryLocation != nil {
		left = []model.Location{*a.PrimaryLocation}
	}
	right := b.Locations
	if len(right) == 0 && b.PrimaryLocation != nil {
		right = []model.Location{*b.PrimaryLocation}
	}
	if len(left) == 0 || len(right) == 0 {
		return 0, false
	}

	best := math.MaxFloat64
	for _, la := range left {
		for _, lb := range right {
			if d := HaversineKm(la, lb); d < best {
				best = d
			}
		}
	}
	return best, true
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two locations.
func HaversineKm(a, b model.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// EventSimilarity blends action-verb Jaccard, event-type match and
// key-entity overlap. ok is false when either signature is missing.
func EventSimilarity(a, b *model.EventSignature) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	var parts []float64

	if len(a.Actions) > 0 && len(b.Actions) > 0 {
		parts = append(parts, setJaccard(stringSet(a.Actions), stringSet(b.Actions)))
	}

	if len(a.EventTypes) > 0 && len(b.EventTypes) > 0 {
		if anyOverlap(a.EventTypes, b.EventTypes) {
			parts = append(parts, 1)
		} else {
			parts = append(parts, 0)
		}
	}

	if len(a.Entities) > 0 && len(b.Entities) > 0 {
		parts = append(parts, setJaccard(stringSet(a.Entities), stringSet(b.Entities)))
	}

	if len(parts) == 0 {
		return 0, false
	}

	total := 0.0
	for _, p := range parts {
		total += p
	}
	return total / float64(len(parts)), true
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

func anyOverlap(a, b []string) bool {
	set := stringSet(a)
	for _, v := range b {
		if _, ok := set[strings.ToLower(strings.TrimSpace(v))]; ok {
			return true
		}
	}
	return false
}
