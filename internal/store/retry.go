package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/OneThum/newsreel/internal/model"
)

const (
	// DefaultMaxAttempts bounds the read-modify-write retry loop. Exhausting
	// it is reported, not fatal: the caller decides what to do with the work.
	DefaultMaxAttempts = 5

	retryBaseDelay = 25 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// ErrRetriesExhausted is returned when every optimistic attempt hit a
// version conflict.
var ErrRetriesExhausted = errors.New("optimistic update retries exhausted")

// Mutable wraps the freshly read cluster handed to a mutate callback.
// Setting Skipped abandons the write while still reporting the read state,
// used when a concurrent writer already applied the same change.
type Mutable struct {
	Cluster *model.StoryCluster
	Skipped bool
}

// UpdateWithRetry runs the optimistic read-modify-write protocol: read the
// latest cluster, apply mutate, and Replace under the observed version.
// On a version conflict it re-reads and retries with jittered exponential
// backoff up to maxAttempts.
func UpdateWithRetry(
	ctx context.Context,
	cs ClusterStore,
	id string,
	partition string,
	maxAttempts int,
	mutate func(cluster *Mutable) error,
) (*Mutable, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastConflict error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return nil, err
			}
		}

		current, err := cs.Get(ctx, id, partition)
		if err != nil {
			return nil, fmt.Errorf("read cluster %s for update: %w", id, err)
		}

		mutable := &Mutable{Cluster: current}
		if err := mutate(mutable); err != nil {
			return nil, err
		}
		if mutable.Skipped {
			return mutable, nil
		}

		updated, err := cs.Replace(ctx, id, mutable.Cluster, current.Version)
		if err != nil {
			if IsVersionConflict(err) {
				lastConflict = err
				continue
			}
			return nil, fmt.Errorf("replace cluster %s: %w", id, err)
		}
		mutable.Cluster = updated
		return mutable, nil
	}

	return nil, fmt.Errorf("%w after %d attempts on cluster %s: %v", ErrRetriesExhausted, maxAttempts, id, lastConflict)
}

func sleepWithJitter(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	// Full jitter keeps concurrent writers from re-colliding in lockstep.
	jittered := time.Duration(rand.Int63n(int64(delay) + 1))

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
