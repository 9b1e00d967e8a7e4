// Package retrieval implements the hybrid search stages that sit between
// the access filter and the reranker: vector k-NN search, a BM25-style
// keyword search over the vector store's payload text, and Reciprocal Rank
// Fusion combining the two into a single ranked list.
package retrieval

import (
	"sort"

	"github.com/knoguchi/rag/internal/vectorstore"
)

// SearchType records which stage(s) produced a Ranked result.
type SearchType string

const (
	SearchVectorOnly  SearchType = "vector_only"
	SearchKeywordOnly SearchType = "keyword_only"
	SearchHybrid      SearchType = "hybrid"
)

// Ranked is the result type that flows between every retrieval stage:
// created by the search adapters, enriched by fusion and the reranker (each
// adds its own score field and sets Score and Rank to its own result;
// VectorScore and KeywordScore are never overwritten), filtered by the
// post-search ACL re-check, discounted by the orchestrator's language
// reweight (which scales Score, FusionScore and RerankerScore in place), and
// finally handed to the guardrail and synthesis. It is treated as immutable once handed to synthesis.
type Ranked struct {
	ID      string
	Payload vectorstore.Payload
	Content string

	Rank  int
	Score float64

	VectorScore   *float64
	KeywordScore  *float64
	FusionScore   *float64
	RerankerScore *float64

	SearchType SearchType
}

// Tenant returns the tenant the underlying chunk belongs to.
func (r Ranked) Tenant() string { return r.Payload.Tenant() }

// ACL returns the chunk's access-control list.
func (r Ranked) ACL() []string { return r.Payload.ACL() }

// Lang returns the chunk's payload language, if set.
func (r Ranked) Lang() string { return r.Payload.Lang() }

// sortRankedDesc orders results by descending Score, breaking ties by id
// lexicographic order for determinism.
func sortRankedDesc(results []Ranked) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
