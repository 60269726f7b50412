package model

import (
	"math"
	"testing"
	"time"
)

const breakingWindow = 6 * time.Hour

func clusterWithSources(firstSeen time.Time, sources ...string) *StoryCluster {
	c := &StoryCluster{
		ID:        "c1",
		State:     StateActive,
		FirstSeen: firstSeen,
	}
	for i, source := range sources {
		c.SourceArticles = append(c.SourceArticles, SourceArticle{
			ArticleID:   source + "-a",
			Source:      source,
			PublishedAt: firstSeen.Add(time.Duration(i) * time.Hour),
		})
	}
	return c
}

func TestRecompute_StatusProgression(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := clusterWithSources(now, "reuters")
	c.Recompute(now, breakingWindow)
	if c.Status != StatusMonitoring || c.VerificationLevel != 1 {
		t.Fatalf("one source: expected MONITORING/1, got %s/%d", c.Status, c.VerificationLevel)
	}

	c = clusterWithSources(now, "reuters", "apnews")
	c.Recompute(now, breakingWindow)
	if c.Status != StatusDeveloping || c.VerificationLevel != 2 {
		t.Fatalf("two sources: expected DEVELOPING/2, got %s/%d", c.Status, c.VerificationLevel)
	}

	c = clusterWithSources(now, "reuters", "apnews", "bbc")
	c.Recompute(now.Add(2*time.Hour), breakingWindow)
	if c.Status != StatusBreaking || !c.Breaking {
		t.Fatalf("three sources inside window: expected BREAKING, got %s breaking=%t", c.Status, c.Breaking)
	}
	if c.BreakingDetectedAt == nil {
		t.Fatalf("breaking flip must record the detection time")
	}

	// Outside the window the same source count verifies instead.
	c = clusterWithSources(now, "reuters", "apnews", "bbc")
	c.Recompute(now.Add(8*time.Hour), breakingWindow)
	if c.Status != StatusVerified || c.Breaking {
		t.Fatalf("three sources outside window: expected VERIFIED, got %s breaking=%t", c.Status, c.Breaking)
	}
}

func TestRecompute_BreakingClearsWhenWindowPasses(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clusterWithSources(now, "reuters", "apnews", "bbc")

	c.Recompute(now.Add(time.Hour), breakingWindow)
	if !c.Breaking {
		t.Fatalf("expected breaking inside window")
	}
	detected := *c.BreakingDetectedAt

	c.Recompute(now.Add(10*time.Hour), breakingWindow)
	if c.Breaking || c.Status != StatusVerified {
		t.Fatalf("expected breaking cleared after window, got %s breaking=%t", c.Status, c.Breaking)
	}
	if c.BreakingDetectedAt == nil || !c.BreakingDetectedAt.Equal(detected) {
		t.Fatalf("detection time is historical and must survive the clear")
	}
}

func TestDistinctSources_DedupesRepeats(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clusterWithSources(now, "reuters", "reuters", "apnews")
	if got := c.DistinctSources(); got != 2 {
		t.Fatalf("expected 2 distinct sources, got %d", got)
	}
}

func TestPublishSpan(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clusterWithSources(base, "reuters", "apnews", "bbc")

	earliest, latest := c.PublishSpan()
	if !earliest.Equal(base) {
		t.Fatalf("expected earliest %v, got %v", base, earliest)
	}
	if !latest.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected latest %v, got %v", base.Add(2*time.Hour), latest)
	}
}

func TestRecomputeCentroid(t *testing.T) {
	t.Parallel()

	c := &StoryCluster{
		SourceArticles: []SourceArticle{
			{ArticleID: "a1", Source: "reuters", Embedding: []float32{1, 0}},
			{ArticleID: "a2", Source: "apnews", Embedding: []float32{0, 1}},
			{ArticleID: "a3", Source: "bbc"}, // no embedding, skipped
		},
	}
	c.RecomputeCentroid()

	if len(c.Centroid) != 2 {
		t.Fatalf("expected 2-dim centroid, got %v", c.Centroid)
	}
	for i, want := range []float64{0.5, 0.5} {
		if math.Abs(float64(c.Centroid[i])-want) > 1e-6 {
			t.Fatalf("expected centroid[%d]=%v, got %v", i, want, c.Centroid[i])
		}
	}

	c.SourceArticles = []SourceArticle{{ArticleID: "a4", Source: "cnn"}}
	c.RecomputeCentroid()
	if c.Centroid != nil {
		t.Fatalf("expected centroid cleared with no embeddings, got %v", c.Centroid)
	}
}
