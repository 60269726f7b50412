package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/OneThum/newsreel/internal/model"
)

// MemoryStore is an in-process ClusterStore with real version-token
// semantics. It backs tests and local single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]*model.StoryCluster
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters: make(map[string]*model.StoryCluster),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id, partition string) (*model.StoryCluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cluster, ok := s.clusters[id]
	if !ok || (partition != "" && cluster.Category != partition) {
		return nil, fmt.Errorf("get cluster %s: %w", id, ErrNotFound)
	}
	return cluster.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, cluster *model.StoryCluster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cluster == nil || cluster.ID == "" {
		return fmt.Errorf("create cluster: missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clusters[cluster.ID]; exists {
		return fmt.Errorf("create cluster %s: %w", cluster.ID, ErrAlreadyExists)
	}

	stored := cluster.Clone()
	stored.Version = 1
	s.clusters[cluster.ID] = stored
	cluster.Version = stored.Version
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, id string, cluster *model.StoryCluster, expectedVersion int64) (*model.StoryCluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("replace cluster %s: %w", id, ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, &VersionConflictError{ID: id, Expected: expectedVersion, Actual: current.Version}
	}

	stored := cluster.Clone()
	stored.ID = id
	stored.Version = expectedVersion + 1
	s.clusters[id] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*model.StoryCluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*model.StoryCluster, 0)
	for _, cluster := range s.clusters {
		if filter.Matches(cluster) {
			results = append(results, cluster.Clone())
		}
	}

	// Most recently updated first, ties broken by id for determinism.
	sort.Slice(results, func(i, j int) bool {
		if !results[i].LastUpdated.Equal(results[j].LastUpdated) {
			return results[i].LastUpdated.After(results[j].LastUpdated)
		}
		return results[i].ID < results[j].ID
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}
