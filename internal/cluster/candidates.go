package cluster

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/index"
	"github.com/OneThum/newsreel/internal/model"
)

// VectorSearcher is the nearest-neighbor backend of candidate generation.
// *index.VectorIndex satisfies it; tests substitute failing backends to
// exercise the lexical-only degradation path.
type VectorSearcher interface {
	Search(query []float32, from, to time.Time, limit int) ([]index.VectorHit, error)
}

// TitleSearcher is the lexical backend of candidate generation.
type TitleSearcher interface {
	Search(query string, now time.Time, limit int) []index.LexicalHit
}

// Generator produces a bounded, deduplicated list of plausibly related
// cluster ids for a new article by unioning vector and lexical retrieval.
type Generator struct {
	vectors VectorSearcher
	titles  TitleSearcher
	logger  zerolog.Logger
}

func NewGenerator(vectors VectorSearcher, titles TitleSearcher, logger zerolog.Logger) *Generator {
	return &Generator{
		vectors: vectors,
		titles:  titles,
		logger:  logger,
	}
}

// Generate returns up to policy.MaxCandidates cluster ids for the article.
// The time window is anchored on the article's publish time with a small
// future slack for clock skew between feeds. A vector backend failure
// degrades to lexical-only retrieval; an empty result is a valid answer.
func (g *Generator) Generate(article *model.Article, policy config.CandidatePolicy, now time.Time) []string {
	from := article.PublishedAt.Add(-time.Duration(policy.WindowHours * float64(time.Hour)))
	to := article.PublishedAt.Add(time.Duration(policy.FutureSlackMinutes * float64(time.Minute)))

	seen := make(map[string]struct{}, policy.MaxCandidates)
	candidates := make([]string, 0, policy.MaxCandidates)

	add := func(id string) {
		if id == "" || len(candidates) >= policy.MaxCandidates {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}

	if len(article.Embedding) > 0 {
		hits, err := g.vectors.Search(article.Embedding, from, to, policy.MaxCandidates)
		if err != nil {
			g.logger.Warn().
				Err(err).
				Str("article_id", article.ID).
				Msg("vector candidate backend failed; degrading to lexical-only retrieval")
		} else {
			for _, hit := range hits {
				add(hit.ClusterID)
			}
		}
	}

	for _, hit := range g.titles.Search(article.Title, now, policy.MaxCandidates) {
		add(hit.ClusterID)
	}

	return candidates
}
