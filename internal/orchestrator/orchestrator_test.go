package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knoguchi/rag/internal/identity"
	"github.com/knoguchi/rag/internal/reranker"
	"github.com/knoguchi/rag/internal/retrieval"
	"github.com/knoguchi/rag/internal/tenantconfig"
	"github.com/knoguchi/rag/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}
func (f *fakeEmbedder) Dimension() int { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string { return "fake" }

type fakeStore struct {
	searchPoints []vectorstore.Point
	searchErr    error
	scrollPoints []vectorstore.Point
	scrollErr    error
}

func (f *fakeStore) Search(ctx context.Context, collection string, req vectorstore.SearchRequest) ([]vectorstore.Point, error) {
	return f.searchPoints, f.searchErr
}
func (f *fakeStore) Scroll(ctx context.Context, collection string, req vectorstore.ScrollRequest) (vectorstore.ScrollResult, error) {
	return vectorstore.ScrollResult{Points: f.scrollPoints}, f.scrollErr
}
func (f *fakeStore) Discover(ctx context.Context, collection string, req vectorstore.DiscoverRequest) ([]vectorstore.Point, error) {
	return nil, vectorstore.ErrDiscoverUnsupported
}

func point(id string, score float32, content string) vectorstore.Point {
	return vectorstore.Point{
		ID:    id,
		Score: score,
		Payload: vectorstore.Payload{
			"tenant":  "t1",
			"acl":     []string{"public"},
			"content": content,
		},
	}
}

func testUser() identity.UserContext {
	return identity.UserContext{UserID: "u1", TenantID: "t1", GroupIDs: []string{"g_pub"}}
}

func newTestStore(t *testing.T) *tenantconfig.Store {
	t.Helper()
	s, err := tenantconfig.New(nil, time.Minute, 16)
	if err != nil {
		t.Fatalf("tenantconfig.New: %v", err)
	}
	return s
}

func TestRetrieveClearHit(t *testing.T) {
	store := &fakeStore{
		searchPoints: []vectorstore.Point{
			point("c1", 0.95, "Refund policy: full refund within 30 days."),
			point("c2", 0.1, "Unrelated chunk."),
		},
	}
	o := New(store, &fakeEmbedder{vector: []float32{0.1, 0.2}}, nil, newTestStore(t), nil)

	result, err := o.Retrieve(context.Background(), "docs", Request{Query: "refund policy", Limit: 5}, testUser())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !result.IsAnswerable {
		t.Fatalf("want answerable, got %+v", result.Decision.Score)
	}
	if len(result.Results) == 0 || result.Results[0].ID != "c1" {
		t.Fatalf("want c1 ranked first, got %+v", result.Results)
	}
}

func TestRetrieveACLIsolation(t *testing.T) {
	store := &fakeStore{
		searchPoints: []vectorstore.Point{
			{ID: "c1", Score: 0.9, Payload: vectorstore.Payload{"tenant": "t2", "acl": []string{"public"}, "content": "other tenant doc"}},
		},
	}
	o := New(store, &fakeEmbedder{vector: []float32{0.1}}, nil, newTestStore(t), nil)

	result, err := o.Retrieve(context.Background(), "docs", Request{Query: "anything", Limit: 5}, testUser())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if result.IsAnswerable {
		t.Fatalf("want not answerable when only cross-tenant results exist")
	}
	if result.Metrics.FinalResultCount != 0 {
		t.Errorf("want finalResultCount 0, got %d", result.Metrics.FinalResultCount)
	}
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	store := &fakeStore{}
	o := New(store, &fakeEmbedder{err: errors.New("boom")}, nil, newTestStore(t), nil)

	_, err := o.Retrieve(context.Background(), "docs", Request{Query: "q", Limit: 5}, testUser())
	if err == nil {
		t.Fatal("want error on embedding failure")
	}
}

func TestRetrieveKeywordFailureDegrades(t *testing.T) {
	store := &fakeStore{
		searchPoints: []vectorstore.Point{point("c1", 0.8, "strong vector hit about refunds")},
		scrollErr:    errors.New("scroll down"),
	}
	o := New(store, &fakeEmbedder{vector: []float32{0.1}}, nil, newTestStore(t), nil)

	result, err := o.Retrieve(context.Background(), "docs", Request{Query: "refunds", Limit: 5}, testUser())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if result.Metrics.KeywordResultCount != 0 {
		t.Errorf("want keywordResultCount 0 on degraded keyword search, got %d", result.Metrics.KeywordResultCount)
	}
	for _, r := range result.Results {
		if r.SearchType != "vector_only" {
			t.Errorf("want vector_only search type, got %s", r.SearchType)
		}
	}
}

func TestRetrieveLimitZeroYieldsIDK(t *testing.T) {
	store := &fakeStore{searchPoints: []vectorstore.Point{point("c1", 0.9, "would have matched")}}
	o := New(store, &fakeEmbedder{vector: []float32{0.1}}, nil, newTestStore(t), nil)

	result, err := o.Retrieve(context.Background(), "docs", Request{Query: "q", Limit: 0}, testUser())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if result.IsAnswerable {
		t.Fatalf("want not answerable for limit=0")
	}
	if len(result.Results) != 0 {
		t.Errorf("want no results for limit=0, got %d", len(result.Results))
	}
}

func TestApplyLanguageReweightDiscountsAndReorders(t *testing.T) {
	fr := func(f float64) *float64 { return &f }
	results := []retrieval.Ranked{
		{
			ID:          "fr1",
			Score:       0.020,
			FusionScore: fr(0.020),
			Rank:        1,
			Payload:     vectorstore.Payload{"lang": "fr"},
		},
		{
			ID:          "en1",
			Score:       0.018,
			FusionScore: fr(0.018),
			Rank:        2,
			Payload:     vectorstore.Payload{"lang": "en"},
		},
	}
	user := identity.UserContext{UserID: "u1", TenantID: "t1", Language: "en"}

	got := applyLanguageReweight(results, user)

	if got[0].ID != "en1" || got[0].Rank != 1 {
		t.Fatalf("want same-language result promoted to rank 1, got %+v", got[0])
	}
	fr1 := got[1]
	if fr1.ID != "fr1" || fr1.Rank != 2 {
		t.Fatalf("want mismatched-language result demoted, got %+v", fr1)
	}
	want := 0.020 * 0.8
	if diff := fr1.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fr1 score = %v, want %v", fr1.Score, want)
	}
	if fr1.FusionScore == nil || *fr1.FusionScore != fr1.Score {
		t.Errorf("want fusion score discounted in step with score, got %+v", fr1.FusionScore)
	}
}

func TestApplyLanguageReweightNoopWithoutUserLanguage(t *testing.T) {
	fr := func(f float64) *float64 { return &f }
	results := []retrieval.Ranked{
		{ID: "a", Score: 0.02, FusionScore: fr(0.02), Rank: 1, Payload: vectorstore.Payload{"lang": "fr"}},
	}
	got := applyLanguageReweight(results, testUser())
	if got[0].Score != 0.02 {
		t.Errorf("want scores untouched when user has no language preference, got %v", got[0].Score)
	}
}

type fakeScorer struct {
	scores []float64
}

func (f *fakeScorer) ScoreBatch(ctx context.Context, query string, docs []reranker.Document) ([]float64, error) {
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

func TestRetrieveWithRerankerEnabledRecordsDocumentsReranked(t *testing.T) {
	store := &fakeStore{
		searchPoints: []vectorstore.Point{
			point("c1", 0.6, "refund policy document"),
			point("c2", 0.5, "another refund note"),
		},
	}
	tc := newTestStore(t)
	cfg := tenantconfig.DefaultConfig("t1")
	cfg.RerankerEnabled = true
	if err := tc.Update(context.Background(), cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	o := New(store, &fakeEmbedder{vector: []float32{0.1}}, &fakeScorer{scores: []float64{0.9, 0.8}}, tc, nil)

	result, err := o.Retrieve(context.Background(), "docs", Request{Query: "refund", Limit: 5}, testUser())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !result.Metrics.RerankingEnabled {
		t.Fatalf("want rerankingEnabled true")
	}
	if result.Metrics.DocumentsReranked == 0 {
		t.Errorf("want documentsReranked > 0 when reranker succeeds")
	}
}
