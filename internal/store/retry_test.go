package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpdateWithRetry_AppliesMutation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := UpdateWithRetry(ctx, s, "c1", "", DefaultMaxAttempts, func(m *Mutable) error {
		m.Cluster.Title = "updated title"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Cluster.Version != 2 {
		t.Fatalf("expected version 2, got %d", result.Cluster.Version)
	}

	stored, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Title != "updated title" {
		t.Fatalf("mutation did not land, title %q", stored.Title)
	}
}

func TestUpdateWithRetry_RecoversFromInterleavedWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	interleaved := false
	result, err := UpdateWithRetry(ctx, s, "c1", "", DefaultMaxAttempts, func(m *Mutable) error {
		if !interleaved {
			interleaved = true
			// A concurrent writer lands between our read and our replace.
			rival, err := s.Get(ctx, "c1", "")
			if err != nil {
				return err
			}
			rival.Title = "rival write"
			if _, err := s.Replace(ctx, "c1", rival, rival.Version); err != nil {
				return err
			}
		}
		m.Cluster.Title = "our write"
		return nil
	})
	if err != nil {
		t.Fatalf("update should recover from a single conflict: %v", err)
	}
	if result.Cluster.Title != "our write" {
		t.Fatalf("expected our write to land after retry, got %q", result.Cluster.Title)
	}
	if result.Cluster.Version != 3 {
		t.Fatalf("expected version 3 (create, rival, ours), got %d", result.Cluster.Version)
	}
}

func TestUpdateWithRetry_SkippedLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := UpdateWithRetry(ctx, s, "c1", "", DefaultMaxAttempts, func(m *Mutable) error {
		m.Cluster.Title = "never written"
		m.Skipped = true
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skipped result")
	}

	stored, err := s.Get(ctx, "c1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 1 || stored.Title == "never written" {
		t.Fatalf("skipped update must not write, got version %d title %q", stored.Version, stored.Title)
	}
}

func TestUpdateWithRetry_Exhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Every attempt loses the race: a rival write lands after each read.
	_, err := UpdateWithRetry(ctx, s, "c1", "", 2, func(m *Mutable) error {
		rival, err := s.Get(ctx, "c1", "")
		if err != nil {
			return err
		}
		if _, err := s.Replace(ctx, "c1", rival, rival.Version); err != nil {
			return err
		}
		m.Cluster.Title = "never wins"
		return nil
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestUpdateWithRetry_MutateErrorPropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestCluster("c1", "world", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	_, err := UpdateWithRetry(ctx, s, "c1", "", DefaultMaxAttempts, func(m *Mutable) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error to propagate, got %v", err)
	}
}
