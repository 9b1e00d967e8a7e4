package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/knoguchi/rag/internal/vectorstore"
)

// ErrVectorSearchFailed wraps any transport error from the vector store's
// k-NN search. The orchestrator treats this as fatal.
var ErrVectorSearchFailed = errors.New("VECTOR_SEARCH_FAILED")

// VectorSearcher performs the k-NN stage of hybrid search.
type VectorSearcher struct {
	store vectorstore.VectorStore
}

// NewVectorSearcher builds a VectorSearcher over store.
func NewVectorSearcher(store vectorstore.VectorStore) *VectorSearcher {
	return &VectorSearcher{store: store}
}

// Search performs a filtered k-NN query and returns results in descending
// similarity order, one-based ranked, with VectorScore populated.
func (v *VectorSearcher) Search(ctx context.Context, collection string, queryVector []float32, limit int, filter vectorstore.Filter) ([]Ranked, error) {
	points, err := v.store.Search(ctx, collection, vectorstore.SearchRequest{
		Vector: queryVector,
		Limit:  limit,
		Filter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorSearchFailed, err)
	}

	results := make([]Ranked, 0, len(points))
	for i, p := range points {
		score := float64(p.Score)
		results = append(results, Ranked{
			ID:          p.ID,
			Payload:     p.Payload,
			Content:     p.Payload.Content(),
			Rank:        i + 1,
			Score:       score,
			VectorScore: &score,
			SearchType:  SearchVectorOnly,
		})
	}
	return results, nil
}
