package reranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knoguchi/rag/internal/retrieval"
)

func ranked(id string, score float64) retrieval.Ranked {
	return retrieval.Ranked{ID: id, Content: "content for " + id, Score: score}
}

type fakeScorer struct {
	scores []float64
	err    error
	delay  time.Duration
}

func (f *fakeScorer) ScoreBatch(ctx context.Context, query string, docs []Document) ([]float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(docs))
	for i := range docs {
		if i < len(f.scores) {
			out[i] = f.scores[i]
		} else {
			out[i] = 0.5
		}
	}
	return out, nil
}

func TestRerankDisabledPassesThrough(t *testing.T) {
	r := New(&fakeScorer{}, Config{Enabled: false}, nil)
	in := []retrieval.Ranked{ranked("a", 0.9), ranked("b", 0.5)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if used {
		t.Fatal("want used=false on disabled config")
	}
	if len(out) != len(in) {
		t.Fatalf("want %d results, got %d", len(in), len(out))
	}
	for i, r := range out {
		if r.ID != in[i].ID {
			t.Errorf("pass-through reordered results: got %s at %d, want %s", r.ID, i, in[i].ID)
		}
		if r.RerankerScore == nil || *r.RerankerScore != in[i].Score {
			t.Errorf("want rerankerScore == original score for %s", r.ID)
		}
		if r.Rank != i+1 {
			t.Errorf("want rank %d, got %d", i+1, r.Rank)
		}
	}
}

func TestRerankEmptyInputPassesThrough(t *testing.T) {
	r := New(&fakeScorer{}, DefaultConfig(), nil)
	out, used := r.RerankDetailed(context.Background(), "q", nil)
	if used {
		t.Fatal("want used=false on empty input")
	}
	if len(out) != 0 {
		t.Errorf("want 0 results, got %d", len(out))
	}
}

func TestRerankScorerSortsDescending(t *testing.T) {
	r := New(&fakeScorer{scores: []float64{0.2, 0.9, 0.5}}, DefaultConfig(), nil)
	in := []retrieval.Ranked{ranked("a", 0.1), ranked("b", 0.1), ranked("c", 0.1)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if !used {
		t.Fatal("want used=true on successful scorer path")
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if out[i].ID != id {
			t.Fatalf("got order %v, want b,c,a", idsOf(out))
		}
		if out[i].Rank != i+1 {
			t.Errorf("want rank %d, got %d", i+1, out[i].Rank)
		}
	}
}

func idsOf(rs []retrieval.Ranked) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestRerankScorerErrorFallsBackToPassThrough(t *testing.T) {
	r := New(&fakeScorer{err: errors.New("boom")}, DefaultConfig(), nil)
	in := []retrieval.Ranked{ranked("a", 0.9), ranked("b", 0.5)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if used {
		t.Fatal("want used=false when scorer errors")
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("want input order preserved, got %v", idsOf(out))
	}
}

func TestRerankTimeoutFallsBackToPassThrough(t *testing.T) {
	r := New(&fakeScorer{delay: 50 * time.Millisecond}, Config{Enabled: true, Timeout: 5 * time.Millisecond}, nil)
	in := []retrieval.Ranked{ranked("a", 0.9)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if used {
		t.Fatal("want used=false on timeout")
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("want pass-through result, got %v", out)
	}
}

func TestRerankFallbackKeepsFullCardinalityBeyondTopK(t *testing.T) {
	r := New(&fakeScorer{err: errors.New("boom")}, Config{Enabled: true, TopK: 2, Timeout: time.Second}, nil)
	in := []retrieval.Ranked{ranked("a", 0.9), ranked("b", 0.8), ranked("c", 0.7), ranked("d", 0.6)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if used {
		t.Fatal("want used=false when scorer errors")
	}
	if len(out) != len(in) {
		t.Fatalf("pass-through must preserve cardinality: want %d results, got %d", len(in), len(out))
	}
	for i, r := range out {
		if r.ID != in[i].ID {
			t.Errorf("pass-through reordered results: got %s at %d, want %s", r.ID, i, in[i].ID)
		}
		if r.RerankerScore == nil || *r.RerankerScore != in[i].Score {
			t.Errorf("want rerankerScore == original score for %s", r.ID)
		}
	}
}

func TestRerankTopKTruncates(t *testing.T) {
	r := New(&fakeScorer{scores: []float64{0.1, 0.9, 0.5, 0.7}}, Config{Enabled: true, TopK: 2, Timeout: time.Second}, nil)
	in := []retrieval.Ranked{ranked("a", 0), ranked("b", 0), ranked("c", 0), ranked("d", 0)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if !used {
		t.Fatal("want used=true")
	}
	if len(out) != 2 {
		t.Fatalf("want 2 results after topK truncation, got %d", len(out))
	}
	if out[0].ID != "b" || out[1].ID != "d" {
		t.Fatalf("want b,d got %v", idsOf(out))
	}
}

func TestRerankOnlyScoresTopNIn(t *testing.T) {
	r := New(&fakeScorer{scores: []float64{0.9}}, Config{Enabled: true, TopNIn: 1, TopK: 10, Timeout: time.Second}, nil)
	in := []retrieval.Ranked{ranked("a", 0), ranked("b", 0)}

	out, used := r.RerankDetailed(context.Background(), "q", in)
	if !used {
		t.Fatal("want used=true")
	}
	if len(out) != 1 {
		t.Fatalf("want only the capped candidate set scored, got %d results", len(out))
	}
	if out[0].ID != "a" {
		t.Fatalf("want a, got %s", out[0].ID)
	}
}

func TestRerankAliasMatchesDetailed(t *testing.T) {
	r := New(&fakeScorer{scores: []float64{0.9, 0.1}}, DefaultConfig(), nil)
	in := []retrieval.Ranked{ranked("a", 0), ranked("b", 0)}

	out := r.Rerank(context.Background(), "q", in)
	detailed, _ := r.RerankDetailed(context.Background(), "q", in)
	if len(out) != len(detailed) {
		t.Fatalf("Rerank and RerankDetailed disagree on length: %d vs %d", len(out), len(detailed))
	}
	for i := range out {
		if out[i].ID != detailed[i].ID {
			t.Errorf("Rerank and RerankDetailed disagree at %d: %s vs %s", i, out[i].ID, detailed[i].ID)
		}
	}
}
