package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/knoguchi/rag/internal/vectorstore"
)

// ErrKeywordSearchFailed wraps a transport error from the vector store's
// filtered scroll. The orchestrator treats this as a recoverable
// degradation: the keyword list becomes empty and the pipeline
// continues vector-only.
var ErrKeywordSearchFailed = errors.New("KEYWORD_SEARCH_FAILED")

// BM25-style scoring constants. Document frequency is
// unknown without an inverted index, so idfApprox is a deliberate,
// documented approximation: a monotone function of term frequency alone.
const (
	bm25K1          = 1.2
	bm25B           = 0.75
	avgDocLength    = 1000.0
	scrollOverfetch = 4
)

// KeywordSearcher performs the lexical stage of hybrid search: a filtered
// scroll against the vector store's text-match operator, scored locally
// with a BM25-style approximation.
type KeywordSearcher struct {
	store vectorstore.VectorStore
	log   *slog.Logger
}

// NewKeywordSearcher builds a KeywordSearcher over store.
func NewKeywordSearcher(store vectorstore.VectorStore, log *slog.Logger) *KeywordSearcher {
	if log == nil {
		log = slog.Default()
	}
	return &KeywordSearcher{store: store, log: log}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

func idfApprox(tf int) float64 {
	return math.Log(1 + 1/(float64(tf)+1))
}

// score computes the BM25-style relevance of content against the query's
// distinct terms.
func score(queryTerms []string, content string) float64 {
	docTokens := tokenize(content)
	if len(docTokens) == 0 {
		return 0
	}
	docTF := termFrequencies(docTokens)
	docLen := float64(len(docTokens))

	var total float64
	for _, term := range queryTerms {
		tf := docTF[term]
		if tf == 0 {
			continue
		}
		tfF := float64(tf)
		denom := tfF + bm25K1*(1-bm25B+bm25B*(docLen/avgDocLength))
		total += (tfF * (bm25K1 + 1) / denom) * idfApprox(tf)
	}
	return total
}

// Search derives a lexical candidate set via a filtered scroll matching
// queryText against content, scores each candidate with the BM25-style
// approximation, and returns the top `limit` by descending score.
func (k *KeywordSearcher) Search(ctx context.Context, collection, queryText string, limit int, filter vectorstore.Filter) ([]Ranked, error) {
	textFilter := filter
	textFilter.Must = append(append([]vectorstore.MatchCondition{}, filter.Must...),
		vectorstore.MatchCondition{Key: "content", Text: queryText})

	result, err := k.store.Scroll(ctx, collection, vectorstore.ScrollRequest{
		Filter: textFilter,
		Limit:  limit * scrollOverfetch,
	})
	if err != nil {
		k.log.Warn("keyword scroll failed, falling back to discover", "error", err)
		points, derr := k.store.Discover(ctx, collection, vectorstore.DiscoverRequest{
			Target: queryText,
			Limit:  limit * scrollOverfetch,
			Filter: filter,
		})
		if derr != nil {
			if errors.Is(derr, vectorstore.ErrDiscoverUnsupported) {
				return nil, fmt.Errorf("%w: %v", ErrKeywordSearchFailed, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrKeywordSearchFailed, derr)
		}
		return k.scoreAndRank(queryText, points, limit), nil
	}

	return k.scoreAndRank(queryText, result.Points, limit), nil
}

func (k *KeywordSearcher) scoreAndRank(queryText string, points []vectorstore.Point, limit int) []Ranked {
	terms := tokenize(queryText)

	scored := make([]Ranked, 0, len(points))
	for _, p := range points {
		content := p.Payload.Content()
		s := score(terms, content)
		scored = append(scored, Ranked{
			ID:           p.ID,
			Payload:      p.Payload,
			Content:      content,
			Score:        s,
			KeywordScore: &s,
			SearchType:   SearchKeywordOnly,
		})
	}

	sortRankedDesc(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}
