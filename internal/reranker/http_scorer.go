package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPScorer is the cross-encoder reranker variant that delegates scoring
// to a remote HTTP service. The service receives the query and a batch of
// documents and returns (id, score) pairs; scores are matched back to the
// documents by id, so the response order does not matter.
type HTTPScorer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// HTTPScorerOption configures an HTTPScorer.
type HTTPScorerOption func(*HTTPScorer)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPScorerOption {
	return func(s *HTTPScorer) {
		s.httpClient = client
	}
}

// NewHTTPScorer builds a Scorer that calls a cross-encoder service at
// baseURL. model names the model the service should use.
func NewHTTPScorer(baseURL, model string, opts ...HTTPScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rerankDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type rerankRequest struct {
	Query     string           `json:"query"`
	Documents []rerankDocument `json:"documents"`
	Model     string           `json:"model"`
	TopK      int              `json:"top_k"`
}

type rerankResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// ScoreBatch posts query and docs to the cross-encoder service's /rerank
// endpoint and returns scores in docs order, clamped into [0,1], filling in
// a neutral 0.5 for any document the response omits.
func (s *HTTPScorer) ScoreBatch(ctx context.Context, query string, docs []Document) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	reqDocs := make([]rerankDocument, len(docs))
	for i, d := range docs {
		reqDocs[i] = rerankDocument{ID: d.ID, Content: d.Content}
	}

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: reqDocs,
		Model:     s.model,
		TopK:      len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling reranker service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker service returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	byID := make(map[string]float64, len(parsed.Results))
	for _, r := range parsed.Results {
		byID[r.ID] = r.Score
	}

	scores := make([]float64, len(docs))
	for i, d := range docs {
		if v, ok := byID[d.ID]; ok {
			scores[i] = min(max(v, 0), 1)
		} else {
			scores[i] = 0.5
		}
	}
	return scores, nil
}

// Health reports whether the remote cross-encoder service is reachable, by
// calling its optional GET /health endpoint.
func (s *HTTPScorer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reranker service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var _ Scorer = (*HTTPScorer)(nil)
