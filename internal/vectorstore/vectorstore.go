// Package vectorstore defines the interface the retrieval core consumes
// from the external vector store collaborator: filtered k-NN search,
// filtered scroll (for the keyword adapter's lexical candidate set), and
// an optional discover fallback. Upsert/delete belong to the ingestion
// pipeline and are out of scope here.
package vectorstore

import "context"

// Payload is the chunk metadata the vector store returns alongside a point.
// It carries at least tenant, docId, acl, and content; other
// fields are optional and implementation-defined.
type Payload map[string]any

func (p Payload) str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Tenant returns the payload's tenant field.
func (p Payload) Tenant() string { return p.str("tenant") }

// DocID returns the payload's docId field.
func (p Payload) DocID() string { return p.str("docId") }

// Content returns the payload's content field.
func (p Payload) Content() string { return p.str("content") }

// Lang returns the payload's optional lang field.
func (p Payload) Lang() string { return p.str("lang") }

// ACL returns the payload's access-control list.
func (p Payload) ACL() []string {
	switch v := p["acl"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Point is a single vector-store record: an id, its payload, and (for
// search results) a similarity/lexical score.
type Point struct {
	ID      string
	Score   float32
	Payload Payload
}

// MatchCondition is a single filter leaf: key matches value, any of values,
// or a text substring.
type MatchCondition struct {
	Key   string
	Value string   // exact match
	Any   []string // match any of these values
	Text  string   // text/substring match operator
}

// Filter is a conjunction/disjunction/negation of MatchConditions, mirroring
// the vector store's native filter grammar: must[], should[], must_not[].
type Filter struct {
	Must    []MatchCondition
	Should  []MatchCondition
	MustNot []MatchCondition
}

// SearchRequest parameterizes a k-NN query.
type SearchRequest struct {
	Vector []float32
	Limit  int
	Filter Filter
}

// ScrollRequest parameterizes a filtered scroll (no vector ranking).
type ScrollRequest struct {
	Filter Filter
	Limit  int
}

// ScrollResult is the page of points a scroll call returns.
type ScrollResult struct {
	Points []Point
}

// DiscoverRequest parameterizes the "discover" fallback some stores offer in
// place of a text-match filter.
type DiscoverRequest struct {
	Target string
	Limit  int
	Filter Filter
}

// ErrDiscoverUnsupported is returned by stores with no discover operator.
var ErrDiscoverUnsupported = errDiscoverUnsupported{}

type errDiscoverUnsupported struct{}

func (errDiscoverUnsupported) Error() string { return "discover operator not supported" }

// VectorStore is the external collaborator the core consumes.
// Upsert/delete are owned by ingestion and intentionally absent here.
type VectorStore interface {
	// Search performs a filtered k-NN query, returning points with payload,
	// sorted by descending similarity.
	Search(ctx context.Context, collection string, req SearchRequest) ([]Point, error)

	// Scroll performs a filtered, non-ranked listing, used by the keyword
	// adapter to gather its lexical candidate set.
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollResult, error)

	// Discover is an optional fallback search variant. Implementations that
	// don't support it return ErrDiscoverUnsupported.
	Discover(ctx context.Context, collection string, req DiscoverRequest) ([]Point, error)
}
