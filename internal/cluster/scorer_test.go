package cluster

import (
	"math"
	"testing"
	"time"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/model"
)

func testArticle(published time.Time) *model.Article {
	return &model.Article{
		ID:          "a1",
		Source:      "reuters",
		Title:       "Earthquake strikes coastal Chile overnight",
		Category:    "world",
		PublishedAt: published,
		Embedding:   []float32{1, 0, 0},
		Entities: []model.Entity{
			{Text: "Chile", Type: "LOC"},
			{Text: "USGS", Type: "ORG"},
		},
	}
}

func matchingCluster(published time.Time) *model.StoryCluster {
	return &model.StoryCluster{
		ID:       "c1",
		Category: "world",
		Title:    "Earthquake strikes coastal Chile overnight",
		Centroid: []float32{1, 0, 0},
		EntityCounts: map[string]int{
			"Chile": 2,
			"USGS":  1,
		},
		State: model.StateActive,
		SourceArticles: []model.SourceArticle{
			{ArticleID: "seed", Source: "apnews", PublishedAt: published},
		},
		FirstSeen:   published,
		LastUpdated: published,
	}
}

func TestScore_PerfectMatchComponents(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scorer := NewScorer(config.DefaultPolicy())

	score, components := scorer.Score(testArticle(published), matchingCluster(published))

	for factor, want := range map[string]float64{
		model.FactorSemantic: 1,
		model.FactorEntity:   1,
		model.FactorTitle:    1,
		model.FactorTemporal: 1,
	} {
		if got := components[factor].Value; math.Abs(got-want) > 1e-9 {
			t.Fatalf("expected %s=%v, got %v", factor, want, got)
		}
	}

	// Geo and event data are absent on both sides: neutral, flagged missing.
	for _, factor := range []string{model.FactorGeo, model.FactorEvent} {
		comp := components[factor]
		if !comp.Missing || comp.Value != 0.5 {
			t.Fatalf("expected %s neutral+missing, got %+v", factor, comp)
		}
	}

	// 0.45 + 0.15 + 0.10 + 0.10 + 0.05 + 0.05
	if math.Abs(score-0.90) > 1e-9 {
		t.Fatalf("expected total 0.90, got %v", score)
	}
}

func TestScore_MissingEmbeddingZerosSemantic(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scorer := NewScorer(config.DefaultPolicy())

	article := testArticle(published)
	article.Embedding = nil

	score, components := scorer.Score(article, matchingCluster(published))

	semantic := components[model.FactorSemantic]
	if !semantic.Missing || semantic.Value != 0 {
		t.Fatalf("expected semantic zero+missing, got %+v", semantic)
	}
	// Everything else unchanged: 0.15 + 0.10 + 0.10 + 0.05 + 0.05
	if math.Abs(score-0.45) > 1e-9 {
		t.Fatalf("expected total 0.45 without semantic, got %v", score)
	}
}

func TestScore_TemporalGaussianDecay(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scorer := NewScorer(config.DefaultPolicy())

	article := testArticle(published.Add(72 * time.Hour))
	_, components := scorer.Score(article, matchingCluster(published))

	// One default sigma (72h) away: exp(-1/2).
	want := math.Exp(-0.5)
	if got := components[model.FactorTemporal].Value; math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected temporal %v at one sigma, got %v", want, got)
	}
}

func TestScore_BreakingClusterUsesTighterSigma(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scorer := NewScorer(config.DefaultPolicy())

	article := testArticle(published.Add(24 * time.Hour))

	calm := matchingCluster(published)
	_, calmComponents := scorer.Score(article, calm)

	breaking := matchingCluster(published)
	breaking.Breaking = true
	_, breakingComponents := scorer.Score(article, breaking)

	if breakingComponents[model.FactorTemporal].Value >= calmComponents[model.FactorTemporal].Value {
		t.Fatalf(
			"breaking sigma must decay faster: breaking=%v calm=%v",
			breakingComponents[model.FactorTemporal].Value,
			calmComponents[model.FactorTemporal].Value,
		)
	}
}

func TestGeoSimilarity(t *testing.T) {
	t.Parallel()

	santiago := model.Location{Name: "Santiago", Lat: -33.45, Lon: -70.66}
	valparaiso := model.Location{Name: "Valparaiso", Lat: -33.05, Lon: -71.61}
	tokyo := model.Location{Name: "Tokyo", Lat: 35.68, Lon: 139.69}

	if _, ok := GeoSimilarity(nil, &model.GeoFeatures{}, 500); ok {
		t.Fatalf("nil side must report missing")
	}

	near, ok := GeoSimilarity(
		&model.GeoFeatures{Locations: []model.Location{santiago}},
		&model.GeoFeatures{Locations: []model.Location{valparaiso}},
		500,
	)
	if !ok {
		t.Fatalf("expected geo similarity to be computable")
	}
	far, _ := GeoSimilarity(
		&model.GeoFeatures{Locations: []model.Location{santiago}},
		&model.GeoFeatures{Locations: []model.Location{tokyo}},
		500,
	)
	if near <= far {
		t.Fatalf("nearby locations must score higher: near=%v far=%v", near, far)
	}
	if far != 0 {
		t.Fatalf("locations past the distance cap must score 0, got %v", far)
	}
}

func TestEventSimilarity(t *testing.T) {
	t.Parallel()

	a := &model.EventSignature{
		Actions:    []string{"strikes", "damages"},
		EventTypes: []string{"earthquake"},
		Entities:   []string{"Chile"},
	}
	b := &model.EventSignature{
		Actions:    []string{"strikes"},
		EventTypes: []string{"earthquake", "tsunami"},
		Entities:   []string{"Chile"},
	}

	sim, ok := EventSimilarity(a, b)
	if !ok {
		t.Fatalf("expected event similarity to be computable")
	}
	// actions 1/2, types overlap 1, entities 1 -> mean 5/6
	if math.Abs(sim-5.0/6.0) > 1e-9 {
		t.Fatalf("expected 5/6, got %v", sim)
	}

	if _, ok := EventSimilarity(a, nil); ok {
		t.Fatalf("nil signature must report missing")
	}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	paris := model.Location{Name: "Paris", Lat: 48.8566, Lon: 2.3522}
	london := model.Location{Name: "London", Lat: 51.5074, Lon: -0.1278}

	d := HaversineKm(paris, london)
	if d < 330 || d > 360 {
		t.Fatalf("expected Paris-London around 344km, got %v", d)
	}
	if HaversineKm(paris, paris) > 1e-9 {
		t.Fatalf("distance to self must be 0")
	}
}
