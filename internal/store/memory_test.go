package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OneThum/newsreel/internal/model"
)

func newTestCluster(id, category string, lastUpdated time.Time) *model.StoryCluster {
	return &model.StoryCluster{
		ID:       id,
		Category: category,
		Title:    "test cluster " + id,
		State:    model.StateActive,
		Status:   model.StatusMonitoring,
		SourceArticles: []model.SourceArticle{
			{ArticleID: id + "-a1", Source: "reuters", PublishedAt: lastUpdated},
		},
		VerificationLevel: 1,
		FirstSeen:         lastUpdated,
		LastUpdated:       lastUpdated,
	}
}

func TestMemoryStore_CreateAssignsVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCluster("c1", "world", time.Now().UTC())

	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", c.Version)
	}
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReplaceVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	c := newTestCluster("c1", "world", time.Now().UTC())
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	read, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	read.Title = "writer one"
	updated, err := s.Replace(ctx, "c1", read, read.Version)
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after replace, got %d", updated.Version)
	}

	// Second writer still holds the old version token.
	read.Title = "writer two"
	_, err = s.Replace(ctx, "c1", read, 1)
	if !IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	final, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("get after conflict: %v", err)
	}
	if final.Title != "writer one" {
		t.Fatalf("conflicting write must not land, got title %q", final.Title)
	}
}

func TestMemoryStore_GetReturnsClone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	read, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	read.Title = "mutated locally"
	read.SourceArticles = nil

	again, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Title == "mutated locally" || len(again.SourceArticles) == 0 {
		t.Fatalf("store state leaked through returned pointer")
	}
}

func TestMemoryStore_QueryFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newTestCluster("c-older", "world", base.Add(-2*time.Hour))
	newer := newTestCluster("c-newer", "world", base)
	tech := newTestCluster("c-tech", "tech", base.Add(-time.Hour))
	archived := newTestCluster("c-archived", "world", base)
	archived.State = model.StateArchived

	for _, c := range []*model.StoryCluster{older, newer, tech, archived} {
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}

	results, err := s.Query(ctx, Filter{
		Category: "world",
		States:   []model.ClusterState{model.StateActive},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 active world clusters, got %d", len(results))
	}
	if results[0].ID != "c-newer" || results[1].ID != "c-older" {
		t.Fatalf("expected newest-first ordering, got [%s %s]", results[0].ID, results[1].ID)
	}

	limited, err := s.Query(ctx, Filter{Limit: 1, States: []model.ClusterState{model.StateActive}})
	if err != nil {
		t.Fatalf("limited query: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d results", len(limited))
	}
}
