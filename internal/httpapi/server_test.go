package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/cluster"
	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/experiment"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/maintenance"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
)

func newTestServer(t *testing.T, experiments []*experiment.Experiment) (*Server, *store.MemoryStore) {
	t.Helper()

	clusters := store.NewMemoryStore()
	vectors := index.NewVectorIndex()
	titles := index.NewLexicalIndex(time.Minute)
	policy := config.DefaultPolicy()
	engine := cluster.NewEngine(clusters, vectors, titles, policy, nil, zerolog.Nop())
	maint := maintenance.NewService(clusters, vectors, titles, policy, zerolog.Nop())

	return NewServer(engine, clusters, maint, experiments, zerolog.Nop(), Options{}), clusters
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.buildApp().ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_AcceptsValidPayload(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/api/v1/articles", `{
		"payload_version":"v1",
		"article_id":"reuters-1",
		"source":"reuters",
		"title":"Budget vote delayed",
		"published_at":"2026-03-01T06:30:00Z"
	}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ArticleID string `json:"article_id"`
			ClusterID string `json:"cluster_id"`
			Created   bool   `json:"created"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || !resp.Data.Created || resp.Data.ClusterID == "" {
		t.Fatalf("unexpected ingest response: %+v", resp)
	}
	if resp.Data.ArticleID != "reuters-1" {
		t.Fatalf("article id must round-trip, got %q", resp.Data.ArticleID)
	}
}

func TestHandleIngest_RejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/api/v1/articles", `{
		"payload_version":"v1",
		"source":"reuters",
		"title":"Missing article id",
		"published_at":"2026-03-01T06:30:00Z"
	}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "fail" {
		t.Fatalf("expected jsend fail, got %q", resp.Status)
	}
}

func TestHandleClusters_FiltersByUpdatedAfter(t *testing.T) {
	t.Parallel()

	s, clusters := newTestServer(t, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for id, updated := range map[string]time.Time{
		"c-old": base.Add(-48 * time.Hour),
		"c-new": base.Add(-time.Hour),
	} {
		c := &model.StoryCluster{
			ID:          id,
			Category:    "world",
			Title:       "Title " + id,
			State:       model.StateActive,
			FirstSeen:   updated.Add(-time.Hour),
			LastUpdated: updated,
		}
		if err := clusters.Create(context.Background(), c); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	type listResponse struct {
		Data struct {
			Clusters []struct {
				ClusterID string `json:"cluster_id"`
			} `json:"clusters"`
		} `json:"data"`
	}

	rec := doRequest(s, http.MethodGet, "/api/v1/clusters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var all listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(all.Data.Clusters) != 2 {
		t.Fatalf("expected both clusters unfiltered, got %d", len(all.Data.Clusters))
	}

	cutoff := base.Add(-24 * time.Hour).Format(time.RFC3339)
	rec = doRequest(s, http.MethodGet, "/api/v1/clusters?updated_after="+cutoff, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var filtered listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &filtered); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if len(filtered.Data.Clusters) != 1 || filtered.Data.Clusters[0].ClusterID != "c-new" {
		t.Fatalf("expected only c-new past the cutoff, got %+v", filtered.Data.Clusters)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/clusters?updated_after=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed updated_after must 400, got %d", rec.Code)
	}
}

func TestHandleClusterDetail_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/api/v1/clusters/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleExperimentReport_ReturnsRecordedMetrics(t *testing.T) {
	t.Parallel()

	base := config.DefaultPolicy()
	exp, err := experiment.NewExperiment("thresholds-q1", "control", []experiment.Variant{
		{Name: "control", Policy: base},
	}, map[string]float64{"control": 1.0})
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	exp.RecordMetric("article-1", "similarity_score", 0.71, nil)

	s, _ := newTestServer(t, []*experiment.Experiment{exp})

	rec := doRequest(s, http.MethodGet, "/api/v1/experiments/thresholds-q1/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Experiment string                                   `json:"experiment"`
			Control    string                                   `json:"control"`
			Metrics    map[string]map[string]experiment.Summary `json:"metrics"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if resp.Data.Experiment != "thresholds-q1" || resp.Data.Control != "control" {
		t.Fatalf("unexpected report header: %+v", resp.Data)
	}
	summary, ok := resp.Data.Metrics["control"]["similarity_score"]
	if !ok {
		t.Fatalf("expected recorded metric in report, got %+v", resp.Data.Metrics)
	}
	if summary.Count != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/experiments/unknown/report", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown experiment must 404, got %d", rec.Code)
	}
}
