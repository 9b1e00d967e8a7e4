package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements VectorStore using Qdrant's gRPC API.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client.
// url is in "host:port" form (e.g. "localhost:6334").
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the underlying Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter translates the store-agnostic Filter into qdrant's native
// must/should/must_not condition grammar.
func buildFilter(f Filter) *qdrant.Filter {
	if len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0 {
		return nil
	}
	out := &qdrant.Filter{}
	for _, c := range f.Must {
		out.Must = append(out.Must, buildCondition(c))
	}
	for _, c := range f.Should {
		out.Should = append(out.Should, buildCondition(c))
	}
	for _, c := range f.MustNot {
		out.MustNot = append(out.MustNot, buildCondition(c))
	}
	return out
}

func buildCondition(c MatchCondition) *qdrant.Condition {
	field := &qdrant.FieldCondition{Key: c.Key}
	switch {
	case c.Text != "":
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: c.Text}}
	case len(c.Any) > 0:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: c.Any},
		}}
	default:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: c.Value}}
	}
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: field}}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadToMap(payload map[string]*qdrant.Value) Payload {
	out := make(Payload, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, e := range kind.ListValue.GetValues() {
			out = append(out, valueToAny(e))
		}
		return out
	default:
		return nil
	}
}

func scoredPointToResult(p *qdrant.ScoredPoint) Point {
	return Point{
		ID:      pointIDString(p.Id),
		Score:   p.Score,
		Payload: payloadToMap(p.Payload),
	}
}

// Search performs a filtered k-NN query against the named collection,
// returning points sorted by descending similarity.
func (s *QdrantStore) Search(ctx context.Context, collection string, req SearchRequest) ([]Point, error) {
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		Filter:         buildFilter(req.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]Point, 0, len(resp))
	for _, p := range resp {
		results = append(results, scoredPointToResult(p))
	}
	return results, nil
}

// Scroll performs a filtered, non-ranked listing, used by the keyword
// adapter's lexical candidate gathering.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollResult, error) {
	resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint32(req.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return ScrollResult{}, fmt.Errorf("qdrant scroll: %w", err)
	}

	points := make([]Point, 0, len(resp))
	for _, p := range resp {
		points = append(points, Point{
			ID:      pointIDString(p.Id),
			Payload: payloadToMap(p.Payload),
		})
	}
	return ScrollResult{Points: points}, nil
}

// Discover matches the target text against the content field directly. It
// exists for deployments whose collection lacks a query vector for the
// discover call; Qdrant's own Match_Text operator already covers the normal
// keyword-adapter path via Scroll.
func (s *QdrantStore) Discover(ctx context.Context, collection string, req DiscoverRequest) ([]Point, error) {
	filter := req.Filter
	filter.Must = append(append([]MatchCondition{}, filter.Must...), MatchCondition{Key: "content", Text: req.Target})

	result, err := s.Scroll(ctx, collection, ScrollRequest{Filter: filter, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("qdrant discover: %w", err)
	}
	return result.Points, nil
}

var _ VectorStore = (*QdrantStore)(nil)
