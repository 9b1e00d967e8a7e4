// Package reranker provides the optional cross-encoder reranking stage of
// hybrid search.
//
// Re-ranking scores the query against each candidate document jointly
// (rather than via independently-computed embeddings), improving precision
// at the cost of latency. Two Scorer variants are provided: an HTTP
// cross-encoder service, and an in-process LLM-as-judge scorer. Both are
// wrapped by Reranker, which owns token-capping, batching, the hard
// timeout, and the pass-through fallback — a Scorer implementation never
// needs to worry about any of those.
//
// # Trade-offs
//
//   - Latency: adds up to the configured timeout (default 500ms) per query.
//   - Quality: most valuable when top-k fused results have similar scores.
//   - Cost: an extra scoring call (HTTP or LLM) per batch of candidates.
//
// Reranking is a per-tenant configuration option; disable it for
// high-throughput or latency-sensitive tenants.
package reranker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/knoguchi/rag/internal/retrieval"
)

// Default tuning values.
const (
	DefaultTopNIn         = 20
	DefaultTopK           = 8
	DefaultBatchSize      = 16
	DefaultTimeout        = 500 * time.Millisecond
	DefaultQueryMaxTokens = 300
	DefaultDocMaxTokens   = 512
	CharsPerToken         = 4
)

// Document is the (id, content) pair a Scorer evaluates against the query.
type Document struct {
	ID      string
	Content string
}

// Scorer scores a query against a batch of documents, returning one score
// per document in [0,1], in the same order as docs. Implementations do not
// need to handle timeouts, batching, or token capping themselves — Reranker
// does that around every Scorer call.
type Scorer interface {
	ScoreBatch(ctx context.Context, query string, docs []Document) ([]float64, error)
}

// Config tunes a Reranker instance.
type Config struct {
	TopNIn         int
	TopK           int
	BatchSize      int
	Timeout        time.Duration
	ScoreThreshold float64
	Enabled        bool
}

// DefaultConfig returns the documented defaults with reranking on.
func DefaultConfig() Config {
	return Config{
		TopNIn:    DefaultTopNIn,
		TopK:      DefaultTopK,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Enabled:   true,
	}
}

// Reranker wraps a Scorer with the timeout, batching, token-capping, and
// pass-through semantics required of every reranker variant.
type Reranker struct {
	scorer Scorer
	cfg    Config
	log    *slog.Logger
}

// New builds a Reranker around scorer.
func New(scorer Scorer, cfg Config, log *slog.Logger) *Reranker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TopNIn <= 0 {
		cfg.TopNIn = DefaultTopNIn
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Reranker{scorer: scorer, cfg: cfg, log: log}
}

// capTokens truncates text to approximately maxTokens tokens, using the
// assumed character-to-token ratio of 4.
func capTokens(text string, maxTokens int) string {
	maxChars := maxTokens * CharsPerToken
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// passThrough implements the fallback path: order and cardinality are
// preserved exactly, and rerankerScore is set equal to each result's
// incoming fusion-or-vector score, so downstream score statistics are
// unchanged. TopK truncation is deliberately not applied here; only the
// successful scorer path truncates.
func passThrough(results []retrieval.Ranked) []retrieval.Ranked {
	out := make([]retrieval.Ranked, len(results))
	for i, r := range results {
		score := r.Score
		r.RerankerScore = &score
		r.Rank = i + 1
		out[i] = r
	}
	return out
}

// Rerank scores the top cfg.TopNIn of results against query and returns the
// top cfg.TopK by descending rerankerScore, with each result's Score set to
// its rerankerScore (FusionScore is kept). It never returns an error: on
// disabled configuration, timeout, or scorer failure it falls back to
// pass-through, preserving input order and cardinality and setting
// rerankerScore equal to the incoming score.
func (r *Reranker) Rerank(ctx context.Context, query string, results []retrieval.Ranked) []retrieval.Ranked {
	out, _ := r.RerankDetailed(ctx, query, results)
	return out
}

// RerankDetailed behaves like Rerank but additionally reports whether the
// scorer path actually ran. The reported bool is false whenever the result
// came from the pass-through fallback (disabled, empty input, timeout, or
// scorer error) — used by the orchestrator to fill in
// metrics.documentsReranked accurately.
func (r *Reranker) RerankDetailed(ctx context.Context, query string, results []retrieval.Ranked) ([]retrieval.Ranked, bool) {
	if !r.cfg.Enabled || len(results) == 0 {
		return passThrough(results), false
	}

	candidates := results
	if len(candidates) > r.cfg.TopNIn {
		candidates = candidates[:r.cfg.TopNIn]
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	scores, err := r.scoreAll(ctx, query, candidates)
	if err != nil {
		r.log.Warn("reranker pass-through fallback", "error", err, "candidates", len(candidates))
		return passThrough(results), false
	}

	scored := make([]retrieval.Ranked, len(candidates))
	for i, c := range candidates {
		s := scores[i]
		c.RerankerScore = &s
		c.Score = s
		scored[i] = c
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankerScore > *scored[j].RerankerScore
	})

	if r.cfg.ScoreThreshold > 0 {
		filtered := scored[:0]
		for _, s := range scored {
			if *s.RerankerScore >= r.cfg.ScoreThreshold {
				filtered = append(filtered, s)
			}
		}
		scored = filtered
	}

	if r.cfg.TopK > 0 && len(scored) > r.cfg.TopK {
		scored = scored[:r.cfg.TopK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, true
}

func (r *Reranker) scoreAll(ctx context.Context, query string, candidates []retrieval.Ranked) ([]float64, error) {
	cappedQuery := capTokens(query, DefaultQueryMaxTokens)
	scores := make([]float64, len(candidates))

	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(candidates))
		batch := make([]Document, end-start)
		for i, c := range candidates[start:end] {
			batch[i] = Document{ID: c.ID, Content: capTokens(c.Content, DefaultDocMaxTokens)}
		}

		batchScores, err := r.scorer.ScoreBatch(ctx, cappedQuery, batch)
		if err != nil {
			return nil, err
		}
		copy(scores[start:end], batchScores)
	}

	return scores, nil
}
