package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OneThum/newsreel/internal/model"
)

// ErrNotFound is returned when no cluster exists for an id/partition pair.
var ErrNotFound = errors.New("cluster not found")

// ErrAlreadyExists is returned by Create when the cluster id is taken.
// Callers whose ids are deterministic (maintenance subclusters) detect it to
// converge after a partially applied earlier run.
var ErrAlreadyExists = errors.New("cluster already exists")

// ErrUnavailable wraps infrastructure failures of the backing store. Callers
// treat it as fatal to the current operation and route the work to a retry
// queue rather than dropping it.
var ErrUnavailable = errors.New("cluster store unavailable")

// VersionConflictError reports an optimistic-concurrency mismatch on Replace.
type VersionConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on cluster %s: expected %d, found %d", e.ID, e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is a version conflict.
func IsVersionConflict(err error) bool {
	var conflict *VersionConflictError
	return errors.As(err, &conflict)
}

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	Category     string
	States       []model.ClusterState
	UpdatedAfter time.Time
	Limit        int
}

// Matches reports whether a cluster satisfies the filter.
func (f Filter) Matches(c *model.StoryCluster) bool {
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if !f.UpdatedAfter.IsZero() && c.LastUpdated.Before(f.UpdatedAfter) {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if c.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ClusterStore is the conditional-write contract the engine consumes. Any
// store with a compare-and-swap primitive can implement it; the engine never
// depends on a store-specific query language.
type ClusterStore interface {
	// Get returns the cluster or ErrNotFound. Partition is the cluster's
	// category.
	Get(ctx context.Context, id, partition string) (*model.StoryCluster, error)
	// Create persists a new cluster and assigns its initial version token.
	Create(ctx context.Context, cluster *model.StoryCluster) error
	// Replace overwrites the cluster iff the stored version still equals
	// expectedVersion, returning the new state or a *VersionConflictError.
	Replace(ctx context.Context, id string, cluster *model.StoryCluster, expectedVersion int64) (*model.StoryCluster, error)
	// Query returns clusters matching the filter.
	Query(ctx context.Context, filter Filter) ([]*model.StoryCluster, error)
}
