package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	lexicalMinTokenLen = 3
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "after": {}, "over": {}, "into": {}, "amid": {}, "about": {},
	"says": {}, "said": {}, "will": {}, "have": {}, "has": {}, "are": {},
	"was": {}, "were": {}, "been": {}, "not": {}, "but": {}, "his": {},
	"her": {}, "its": {}, "their": {}, "who": {}, "what": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "new": {},
}

// LexicalHit is one BM25-ranked result from the title index.
type LexicalHit struct {
	ClusterID string
	Score     float64
}

type lexicalDoc struct {
	tokens map[string]int
	length int
	seen   time.Time
}

// LexicalIndex is a rolling BM25 index over recent cluster titles. Document
// frequencies and average length are derived state, rebuilt when older than
// the staleness timer so steady appends stay cheap.
type LexicalIndex struct {
	mu     sync.RWMutex
	maxAge time.Duration

	docs map[string]lexicalDoc

	// derived, refreshed by rebuildLocked
	df      map[string]int
	avgLen  float64
	builtAt time.Time
}

// NewLexicalIndex builds an index whose derived statistics go stale after
// maxStatsAge.
func NewLexicalIndex(maxStatsAge time.Duration) *LexicalIndex {
	if maxStatsAge <= 0 {
		maxStatsAge = time.Hour
	}
	return &LexicalIndex{
		maxAge: maxStatsAge,
		docs:   make(map[string]lexicalDoc),
		df:     make(map[string]int),
	}
}

// Upsert indexes a cluster title. Titles that tokenize to nothing are dropped
// from the index.
func (x *LexicalIndex) Upsert(clusterID, title string, lastUpdated time.Time) {
	tokens := Tokenize(title)

	x.mu.Lock()
	defer x.mu.Unlock()

	if len(tokens) == 0 {
		delete(x.docs, clusterID)
		return
	}

	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	x.docs[clusterID] = lexicalDoc{tokens: counts, length: len(tokens), seen: lastUpdated}
}

// Remove drops a cluster from the index.
func (x *LexicalIndex) Remove(clusterID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.docs, clusterID)
}

// Search ranks indexed titles against the query by BM25, best first.
func (x *LexicalIndex) Search(query string, now time.Time, limit int) []LexicalHit {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || limit <= 0 {
		return nil
	}

	x.ensureFresh(now)

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docs)
	if n == 0 {
		return nil
	}

	hits := make([]LexicalHit, 0, limit)
	for id, doc := range x.docs {
		score := 0.0
		for _, term := range queryTokens {
			tf := doc.tokens[term]
			if tf == 0 {
				continue
			}
			df := x.df[term]
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			norm := float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*float64(doc.length)/x.avgLen))
			score += idf * norm
		}
		if score > 0 {
			hits = append(hits, LexicalHit{ClusterID: id, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ClusterID < hits[j].ClusterID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// PruneOlderThan drops titles whose recency predates the cutoff and forces a
// stats rebuild on the next search.
func (x *LexicalIndex) PruneOlderThan(cutoff time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	dropped := 0
	for id, doc := range x.docs {
		if doc.seen.Before(cutoff) {
			delete(x.docs, id)
			dropped++
		}
	}
	if dropped > 0 {
		x.builtAt = time.Time{}
	}
	return dropped
}

func (x *LexicalIndex) ensureFresh(now time.Time) {
	x.mu.RLock()
	fresh := !x.builtAt.IsZero() && now.Sub(x.builtAt) <= x.maxAge
	x.mu.RUnlock()
	if fresh {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.builtAt.IsZero() && now.Sub(x.builtAt) <= x.maxAge {
		return
	}
	x.rebuildLocked(now)
}

func (x *LexicalIndex) rebuildLocked(now time.Time) {
	df := make(map[string]int, len(x.df))
	totalLen := 0
	for _, doc := range x.docs {
		totalLen += doc.length
		for term := range doc.tokens {
			df[term]++
		}
	}
	x.df = df
	if len(x.docs) > 0 {
		x.avgLen = float64(totalLen) / float64(len(x.docs))
	} else {
		x.avgLen = 0
	}
	x.builtAt = now
}

// Tokenize lowercases, splits on non-alphanumerics, and drops stop-words and
// tokens shorter than three characters.
func Tokenize(text string) []string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil
	}

	parts := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) < lexicalMinTokenLen {
			continue
		}
		if _, stop := stopWords[p]; stop {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// TokenSet returns the deduplicated token set of a text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
