package model

import "time"

// ClusterStatus is the verification status of a story cluster, driven by the
// number of distinct sources corroborating the event.
type ClusterStatus string

const (
	StatusMonitoring ClusterStatus = "MONITORING"
	StatusDeveloping ClusterStatus = "DEVELOPING"
	StatusBreaking   ClusterStatus = "BREAKING"
	StatusVerified   ClusterStatus = "VERIFIED"
)

// ClusterState is the lifecycle state, orthogonal to verification status.
// Superseded clusters were merged into a survivor; archived clusters decayed.
type ClusterState string

const (
	StateActive     ClusterState = "active"
	StateSuperseded ClusterState = "superseded"
	StateArchived   ClusterState = "archived"
)

// SourceArticle is one article attributed to a cluster. A cluster holds at
// most one entry per distinct source so syndicated re-reports never inflate
// the verification level.
type SourceArticle struct {
	ArticleID   string    `json:"article_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// StoryCluster aggregates articles believed to report the same real-world
// event. Version is the optimistic-concurrency token enforced by the store.
type StoryCluster struct {
	ID                 string          `json:"id"`
	Category           string          `json:"category"`
	Title              string          `json:"title"`
	Centroid           []float32       `json:"centroid,omitempty"`
	EntityCounts       map[string]int  `json:"entity_counts,omitempty"`
	Signature          *EventSignature `json:"event_signature,omitempty"`
	Geo                *GeoFeatures    `json:"geographic_features,omitempty"`
	SourceArticles     []SourceArticle `json:"source_articles"`
	VerificationLevel  int             `json:"verification_level"`
	Status             ClusterStatus   `json:"status"`
	State              ClusterState    `json:"state"`
	MergedInto         string          `json:"merged_into,omitempty"`
	FirstSeen          time.Time       `json:"first_seen"`
	LastUpdated        time.Time       `json:"last_updated"`
	Importance         float64         `json:"importance"`
	Breaking           bool            `json:"breaking"`
	BreakingDetectedAt *time.Time      `json:"breaking_detected_at,omitempty"`
	Version            int64           `json:"version"`
}

// DistinctSources counts the distinct sources across SourceArticles. The
// stored VerificationLevel must always equal this value.
func (c *StoryCluster) DistinctSources() int {
	seen := make(map[string]struct{}, len(c.SourceArticles))
	for _, sa := range c.SourceArticles {
		seen[sa.Source] = struct{}{}
	}
	return len(seen)
}

// HasSource reports whether the cluster already attributes an article from
// the given source.
func (c *StoryCluster) HasSource(source string) bool {
	for _, sa := range c.SourceArticles {
		if sa.Source == source {
			return true
		}
	}
	return false
}

// HasArticle reports whether the cluster already contains the article id.
func (c *StoryCluster) HasArticle(articleID string) bool {
	for _, sa := range c.SourceArticles {
		if sa.ArticleID == articleID {
			return true
		}
	}
	return false
}

// StatusFor derives the verification status from a distinct-source count and
// the cluster's age relative to the breaking window. The window is measured
// from FirstSeen; BreakingDetectedAt only records when the flip happened.
func (c *StoryCluster) StatusFor(sources int, now time.Time, breakingWindow time.Duration) ClusterStatus {
	switch {
	case sources <= 1:
		return StatusMonitoring
	case sources == 2:
		return StatusDeveloping
	case now.Sub(c.FirstSeen) <= breakingWindow:
		return StatusBreaking
	default:
		return StatusVerified
	}
}

// Recompute refreshes the derived fields that must stay consistent with
// SourceArticles: verification level, status and the breaking flag.
func (c *StoryCluster) Recompute(now time.Time, breakingWindow time.Duration) {
	c.VerificationLevel = c.DistinctSources()
	status := c.StatusFor(c.VerificationLevel, now, breakingWindow)
	if status == StatusBreaking && !c.Breaking {
		c.Breaking = true
		detected := now
		c.BreakingDetectedAt = &detected
	}
	if status != StatusBreaking {
		c.Breaking = false
	}
	c.Status = status
}

// PublishSpan returns the earliest and latest member publish timestamps.
func (c *StoryCluster) PublishSpan() (time.Time, time.Time) {
	var earliest, latest time.Time
	for _, sa := range c.SourceArticles {
		if earliest.IsZero() || sa.PublishedAt.Before(earliest) {
			earliest = sa.PublishedAt
		}
		if latest.IsZero() || sa.PublishedAt.After(latest) {
			latest = sa.PublishedAt
		}
	}
	return earliest, latest
}

// RecomputeCentroid sets the centroid to the mean of member embeddings.
// Members without embeddings are skipped; with none, the centroid is cleared.
func (c *StoryCluster) RecomputeCentroid() {
	var dims int
	for _, sa := range c.SourceArticles {
		if len(sa.Embedding) > 0 {
			dims = len(sa.Embedding)
			break
		}
	}
	if dims == 0 {
		c.Centroid = nil
		return
	}

	sums := make([]float64, dims)
	count := 0
	for _, sa := range c.SourceArticles {
		if len(sa.Embedding) != dims {
			continue
		}
		for i, v := range sa.Embedding {
			sums[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		c.Centroid = nil
		return
	}

	centroid := make([]float32, dims)
	for i, s := range sums {
		centroid[i] = float32(s / float64(count))
	}
	c.Centroid = centroid
}
