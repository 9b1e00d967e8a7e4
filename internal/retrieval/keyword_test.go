package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/rag/internal/vectorstore"
)

func TestTokenize(t *testing.T) {
	got := tokenize("Refund Policy: full refund within 30 days.")
	want := []string{"refund", "policy", "full", "refund", "within", "30", "days"}
	if len(got) != len(want) {
		t.Fatalf("tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScoreFavorsTermOccurrence(t *testing.T) {
	terms := tokenize("refund policy")
	high := score(terms, "refund refund refund policy policy")
	low := score(terms, "a single refund mentioned once in passing, otherwise unrelated content")

	if high <= low {
		t.Errorf("content with more term occurrences should score higher: high=%v low=%v", high, low)
	}
}

func TestScoreZeroForNoOverlap(t *testing.T) {
	terms := tokenize("quantum chromodynamics")
	got := score(terms, "refund policy covers returns within thirty days")
	if got != 0 {
		t.Errorf("want 0 score for disjoint vocabularies, got %v", got)
	}
}

func TestKeywordSearcherSearchScoresAndRanks(t *testing.T) {
	store := &fakeStore{scrollResults: []vectorstore.Point{
		{ID: "1", Payload: vectorstore.Payload{"content": "a single refund mention"}},
		{ID: "2", Payload: vectorstore.Payload{"content": "refund refund refund policy"}},
	}}

	results, err := NewKeywordSearcher(store, nil).Search(context.Background(), "tenant_t1", "refund policy", 10, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].ID != "2" {
		t.Errorf("want id 2 ranked first (more term hits), got %s", results[0].ID)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks not reassigned after sort: %+v", results)
	}
}

func TestKeywordSearcherFallsBackToDiscoverOnScrollFailure(t *testing.T) {
	store := &fakeStore{
		scrollErr: errors.New("no text index"),
		discoverResults: []vectorstore.Point{
			{ID: "1", Payload: vectorstore.Payload{"content": "refund policy applies"}},
		},
	}

	results, err := NewKeywordSearcher(store, nil).Search(context.Background(), "tenant_t1", "refund", 10, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want discover fallback to return 1 result, got %d", len(results))
	}
}

func TestKeywordSearcherFailsWhenDiscoverUnsupported(t *testing.T) {
	store := &fakeStore{
		scrollErr:   errors.New("no text index"),
		discoverErr: vectorstore.ErrDiscoverUnsupported,
	}

	_, err := NewKeywordSearcher(store, nil).Search(context.Background(), "tenant_t1", "refund", 10, vectorstore.Filter{})
	if !errors.Is(err, ErrKeywordSearchFailed) {
		t.Errorf("want ErrKeywordSearchFailed, got %v", err)
	}
}
