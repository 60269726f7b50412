package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// FlatSoftCap is the entry count past which a flat scan stops being the right
// structure. At current scale (thousands of active clusters) brute-force
// cosine is faster than maintaining an ANN graph; past this cap an HNSW or
// IVF index should replace VectorIndex behind the same Search signature.
const FlatSoftCap = 50_000

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ClusterID string
	Cosine    float64
}

type vectorEntry struct {
	vec  []float32
	seen time.Time
}

// VectorIndex is a flat cosine index over active cluster centroids. Appends
// are serialized, searches share a read lock, and structural rebuilds
// (Prune) exclude both.
type VectorIndex struct {
	mu      sync.RWMutex
	dims    int
	entries map[string]vectorEntry
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		entries: make(map[string]vectorEntry),
	}
}

// Upsert inserts or replaces a centroid. The first vector fixes the
// dimensionality; mismatched vectors are rejected.
func (x *VectorIndex) Upsert(clusterID string, vec []float32, lastUpdated time.Time) error {
	if clusterID == "" {
		return fmt.Errorf("vector index upsert: missing cluster id")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector index upsert %s: empty vector", clusterID)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dims == 0 {
		x.dims = len(vec)
	} else if len(vec) != x.dims {
		return fmt.Errorf("vector index upsert %s: got %d dims, index has %d", clusterID, len(vec), x.dims)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	x.entries[clusterID] = vectorEntry{vec: stored, seen: lastUpdated}
	return nil
}

// Remove drops a cluster from the index. Unknown ids are a no-op.
func (x *VectorIndex) Remove(clusterID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, clusterID)
}

// Touch refreshes the recency timestamp without changing the vector.
func (x *VectorIndex) Touch(clusterID string, lastUpdated time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[clusterID]; ok {
		e.seen = lastUpdated
		x.entries[clusterID] = e
	}
}

// Search returns up to limit entries whose recency falls in [from, to],
// ranked by cosine similarity to the query, best first.
func (x *VectorIndex) Search(query []float32, from, to time.Time, limit int) ([]VectorHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dims != 0 && len(query) != x.dims {
		return nil, fmt.Errorf("vector search: got %d dims, index has %d", len(query), x.dims)
	}

	hits := make([]VectorHit, 0, limit)
	for id, e := range x.entries {
		if e.seen.Before(from) || e.seen.After(to) {
			continue
		}
		hits = append(hits, VectorHit{ClusterID: id, Cosine: Cosine(query, e.vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Cosine != hits[j].Cosine {
			return hits[i].Cosine > hits[j].Cosine
		}
		return hits[i].ClusterID < hits[j].ClusterID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len reports the current entry count.
func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Prune removes entries whose recency predates the cutoff and returns the
// number dropped.
func (x *VectorIndex) Prune(cutoff time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	dropped := 0
	for id, e := range x.entries {
		if e.seen.Before(cutoff) {
			delete(x.entries, id)
			dropped++
		}
	}
	return dropped
}

// Cosine computes cosine similarity between two vectors, 0 when either has
// no magnitude or the lengths disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
