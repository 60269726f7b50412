package index

import (
	"testing"
	"time"
)

func TestTokenize_DropsStopWordsAndShortTokens(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("The EU and Japan sign a new trade pact")
	want := []string{"japan", "sign", "trade", "pact"}
	if len(tokens) != len(want) {
		t.Fatalf("expected tokens %v, got %v", want, tokens)
	}
	for i, tok := range want {
		if tokens[i] != tok {
			t.Fatalf("expected token[%d]=%q, got %q", i, tok, tokens[i])
		}
	}
}

func TestTokenize_EmptyAndPunctuationOnly(t *testing.T) {
	t.Parallel()

	if got := Tokenize("   "); got != nil {
		t.Fatalf("expected nil tokens for whitespace, got %v", got)
	}
	if got := Tokenize("!!! -- ??"); len(got) != 0 {
		t.Fatalf("expected no tokens for punctuation, got %v", got)
	}
}

func TestLexicalIndex_SearchRanksSharedTerms(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := NewLexicalIndex(time.Minute)
	idx.Upsert("c-earthquake", "Earthquake strikes coastal Chile", now)
	idx.Upsert("c-election", "Election results delayed in key districts", now)
	idx.Upsert("c-storm", "Storm warnings issued for coastal regions", now)

	hits := idx.Search("Chile earthquake aftershocks reported", now, 10)
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].ClusterID != "c-earthquake" {
		t.Fatalf("expected c-earthquake first, got %q", hits[0].ClusterID)
	}
	for _, h := range hits {
		if h.ClusterID == "c-election" {
			t.Fatalf("c-election shares no terms with the query and must not match")
		}
	}
}

func TestLexicalIndex_UpsertEmptyTitleRemoves(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := NewLexicalIndex(time.Minute)
	idx.Upsert("c1", "Wildfire spreads north", now)

	if hits := idx.Search("wildfire", now, 5); len(hits) != 1 {
		t.Fatalf("expected one hit before removal, got %d", len(hits))
	}

	idx.Upsert("c1", "!!", now)
	if hits := idx.Search("wildfire", now, 5); len(hits) != 0 {
		t.Fatalf("expected no hits after title degenerated, got %d", len(hits))
	}
}

func TestLexicalIndex_PruneOlderThan(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := NewLexicalIndex(time.Minute)
	idx.Upsert("c-old", "Bridge collapse investigated", now.Add(-48*time.Hour))
	idx.Upsert("c-new", "Bridge reopens after repairs", now)

	if dropped := idx.PruneOlderThan(now.Add(-24 * time.Hour)); dropped != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", dropped)
	}

	hits := idx.Search("bridge", now, 5)
	if len(hits) != 1 || hits[0].ClusterID != "c-new" {
		t.Fatalf("expected only c-new after prune, got %v", hits)
	}
}
