// Package orchestrator implements the Guarded Retrieval Orchestrator: the
// single entry point that runs access filtering, hybrid search, fusion,
// optional reranking, post-filter ACL re-checks, and the answerability
// guardrail as one timed pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/rag/internal/accessfilter"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/guardrail"
	"github.com/knoguchi/rag/internal/identity"
	"github.com/knoguchi/rag/internal/pipeline"
	"github.com/knoguchi/rag/internal/reranker"
	"github.com/knoguchi/rag/internal/repository"
	"github.com/knoguchi/rag/internal/retrieval"
	"github.com/knoguchi/rag/internal/tenantconfig"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// Default per-stage timeouts.
const (
	DefaultVectorSearchTimeout  = 2 * time.Second
	DefaultKeywordSearchTimeout = 2 * time.Second
	DefaultGuardrailTimeout     = 50 * time.Millisecond
	SynthesisReserve            = 5 * time.Second
	jaccardDedupThreshold       = 0.7

	// languageMismatchFactor discounts a result whose payload language
	// differs from the user's preferred language. Monotone and bounded;
	// applied after fusion, never to raw pre-fusion scores.
	languageMismatchFactor = 0.8
)

// Request parameterizes a single retrieve call.
type Request struct {
	Query         string
	Limit         int
	Filter        vectorstore.Filter
	DocID         string
	VectorWeight  *float64
	KeywordWeight *float64
}

// Metrics records the per-stage timings and counts attached to every result.
type Metrics struct {
	VectorSearchDuration  time.Duration
	KeywordSearchDuration time.Duration
	FusionDuration        time.Duration
	RerankerDuration      time.Duration
	GuardrailDuration     time.Duration
	TotalDuration         time.Duration

	VectorResultCount  int
	KeywordResultCount int
	FinalResultCount   int
	DocumentsReranked  int
	RerankingEnabled   bool
}

// Result is the orchestrator's return contract.
type Result struct {
	IsAnswerable bool
	Results      []retrieval.Ranked
	IDKResponse  *guardrail.IDKResponse
	Decision     guardrail.Decision
	Metrics      Metrics
}

// Orchestrator wires the access filter, hybrid search, fusion, reranker, and
// guardrail stages into retrieve.
type Orchestrator struct {
	embedder        embedder.Embedder
	vectorSearcher  *retrieval.VectorSearcher
	keywordSearcher *retrieval.KeywordSearcher
	rerankerScorer  reranker.Scorer // nil disables reranking regardless of tenant config
	tenantConfig    *tenantconfig.Store
	log             *slog.Logger

	vectorTimeout  time.Duration
	keywordTimeout time.Duration
}

// New builds an Orchestrator. scorer may be nil, in which case reranking is
// always skipped even for tenants with rerankerEnabled=true.
func New(store vectorstore.VectorStore, emb embedder.Embedder, scorer reranker.Scorer, tc *tenantconfig.Store, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		embedder:        emb,
		vectorSearcher:  retrieval.NewVectorSearcher(store),
		keywordSearcher: retrieval.NewKeywordSearcher(store, log),
		rerankerScorer:  scorer,
		tenantConfig:    tc,
		log:             log,
		vectorTimeout:   DefaultVectorSearchTimeout,
		keywordTimeout:  DefaultKeywordSearchTimeout,
	}
}

// Retrieve runs the guarded retrieval pipeline for req on behalf of user
// against collection.
func (o *Orchestrator) Retrieve(ctx context.Context, collection string, req Request, user identity.UserContext) (Result, error) {
	start := time.Now()

	if err := user.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", pipeline.ErrUnauthorized, err)
	}

	// Retrieval may not consume the caller's whole deadline; synthesis
	// still has to stream an answer afterwards.
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline) - SynthesisReserve; remaining > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, remaining)
			defer cancel()
		}
	}

	cfg, err := o.tenantConfig.Get(ctx, user.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("loading tenant config: %w", err)
	}

	var extra []vectorstore.MatchCondition
	if req.DocID != "" {
		extra = append(extra, vectorstore.MatchCondition{Key: "docId", Value: req.DocID})
	}
	filter, err := accessfilter.Build(user, extra...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pipeline.ErrUnauthorized, err)
	}
	filter.Must = append(filter.Must, req.Filter.Must...)
	filter.Should = append(filter.Should, req.Filter.Should...)
	filter.MustNot = append(filter.MustNot, req.Filter.MustNot...)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if req.Limit == 0 {
		return o.emptyResult(req, user, cfg, start), nil
	}

	queryVector, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pipeline.ErrEmbeddingFailed, err)
	}

	metrics := Metrics{}
	vectorResults, keywordResults, err := o.search(ctx, collection, req.Query, queryVector, limit, filter, cfg, &metrics)
	if err != nil {
		return Result{}, err
	}

	fusionStart := time.Now()
	weights := retrieval.FusionWeights{
		K:             cfg.RRFK,
		VectorWeight:  cfg.VectorWeight,
		KeywordWeight: cfg.KeywordWeight,
	}
	if req.VectorWeight != nil {
		weights.VectorWeight = *req.VectorWeight
	}
	if req.KeywordWeight != nil {
		weights.KeywordWeight = *req.KeywordWeight
	}
	results := retrieval.Fuse(vectorResults, keywordResults, weights)
	metrics.FusionDuration = time.Since(fusionStart)

	metrics.RerankingEnabled = cfg.RerankerEnabled && o.rerankerScorer != nil
	if metrics.RerankingEnabled {
		rerankStart := time.Now()
		rerankCfg := reranker.Config{
			TopNIn:         cfg.RerankerConfig.TopNIn,
			TopK:           cfg.RerankerConfig.TopK,
			BatchSize:      cfg.RerankerConfig.BatchSize,
			Timeout:        time.Duration(cfg.RerankerConfig.TimeoutMS) * time.Millisecond,
			ScoreThreshold: cfg.RerankerConfig.ScoreThreshold,
			Enabled:        true,
		}
		r := reranker.New(o.rerankerScorer, rerankCfg, o.log)
		candidateCount := len(results)
		if rerankCfg.TopNIn > 0 && candidateCount > rerankCfg.TopNIn {
			candidateCount = rerankCfg.TopNIn
		}
		reranked, used := r.RerankDetailed(ctx, req.Query, results)
		results = reranked
		metrics.RerankerDuration = time.Since(rerankStart)
		if used {
			metrics.DocumentsReranked = candidateCount
		}
	}

	results = postFilterACL(results, user)
	results = applyLanguageReweight(results, user)
	results = deduplicate(results, jaccardDedupThreshold)

	metrics.FinalResultCount = len(results)

	guardrailStart := time.Now()
	decision := guardrail.Evaluate(req.Query, results, user, user.TenantID, cfg.Guardrail)
	metrics.GuardrailDuration = time.Since(guardrailStart)
	metrics.TotalDuration = time.Since(start)

	return Result{
		IsAnswerable: decision.IsAnswerable,
		Results:      results,
		IDKResponse:  decision.IDKResponse,
		Decision:     decision,
		Metrics:      metrics,
	}, nil
}

// emptyResult handles limit=0: empty results and an IDK decision,
// without touching any collaborator.
func (o *Orchestrator) emptyResult(req Request, user identity.UserContext, cfg repository.TenantConfig, start time.Time) Result {
	decision := guardrail.Evaluate(req.Query, nil, user, user.TenantID, cfg.Guardrail)
	return Result{
		IsAnswerable: false,
		IDKResponse:  decision.IDKResponse,
		Decision:     decision,
		Metrics: Metrics{
			TotalDuration: time.Since(start),
		},
	}
}

// search runs the vector and (if enabled) keyword searches concurrently,
// applying independent per-stage timeouts.
// Keyword failure degrades to an empty list rather than failing the
// request.
func (o *Orchestrator) search(
	ctx context.Context,
	collection, query string,
	queryVector []float32,
	limit int,
	filter vectorstore.Filter,
	cfg repository.TenantConfig,
	metrics *Metrics,
) ([]retrieval.Ranked, []retrieval.Ranked, error) {
	var vectorResults, keywordResults []retrieval.Ranked
	var vectorErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vctx, cancel := context.WithTimeout(gctx, o.vectorTimeout)
		defer cancel()
		vStart := time.Now()
		vectorResults, vectorErr = o.vectorSearcher.Search(vctx, collection, queryVector, limit*3, filter)
		metrics.VectorSearchDuration = time.Since(vStart)
		return vectorErr
	})

	if cfg.KeywordSearchEnabled {
		g.Go(func() error {
			kctx, cancel := context.WithTimeout(ctx, o.keywordTimeout)
			defer cancel()
			kStart := time.Now()
			results, err := o.keywordSearcher.Search(kctx, collection, query, limit*3, filter)
			metrics.KeywordSearchDuration = time.Since(kStart)
			if err != nil {
				o.log.Warn("keyword search degraded", "error", err)
				return nil
			}
			keywordResults = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", retrieval.ErrVectorSearchFailed, err)
	}

	metrics.VectorResultCount = len(vectorResults)
	metrics.KeywordResultCount = len(keywordResults)
	return vectorResults, keywordResults, nil
}

// postFilterACL re-checks each surviving result's ACL against user,
// defending against payload tampering between search and delivery.
func postFilterACL(results []retrieval.Ranked, user identity.UserContext) []retrieval.Ranked {
	allowed := make(map[string]struct{}, len(user.Principals()))
	for _, p := range user.Principals() {
		allowed[p] = struct{}{}
	}

	out := results[:0]
	for _, r := range results {
		if r.Tenant() != user.TenantID {
			continue
		}
		acl := r.ACL()
		ok := false
		for _, principal := range acl {
			if _, exists := allowed[principal]; exists {
				ok = true
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return append([]retrieval.Ranked(nil), out...)
}

// applyLanguageReweight multiplies each result's scores by a language
// relevance factor: 1.0 when the chunk has no language tag or it matches
// the user's preferred language, languageMismatchFactor otherwise. The
// factor is applied to every score field downstream stages read — Score
// for ordering, FusionScore and RerankerScore for the guardrail — and the
// list is re-sorted and re-ranked when anything changed, so a discounted
// result actually moves below same-language results of comparable
// relevance.
func applyLanguageReweight(results []retrieval.Ranked, user identity.UserContext) []retrieval.Ranked {
	if user.Language == "" {
		return results
	}
	changed := false
	for i := range results {
		lang := results[i].Lang()
		if lang == "" || lang == user.Language {
			continue
		}
		r := &results[i]
		r.Score *= languageMismatchFactor
		if r.FusionScore != nil {
			v := *r.FusionScore * languageMismatchFactor
			r.FusionScore = &v
		}
		if r.RerankerScore != nil {
			v := *r.RerankerScore * languageMismatchFactor
			r.RerankerScore = &v
		}
		changed = true
	}
	if !changed {
		return results
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// deduplicate drops results whose content overlaps an earlier, higher-
// ranked result by at least threshold Jaccard similarity over tokenized
// content, keeping the first (higher-scored) occurrence.
func deduplicate(results []retrieval.Ranked, threshold float64) []retrieval.Ranked {
	if len(results) <= 1 {
		return results
	}

	wordSets := make([]map[string]struct{}, len(results))
	for i, r := range results {
		wordSets[i] = tokenize(r.Content)
	}

	keep := make([]bool, len(results))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(results); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !keep[j] {
				continue
			}
			if jaccardSimilarity(wordSets[i], wordSets[j]) >= threshold {
				keep[j] = false
			}
		}
	}

	out := make([]retrieval.Ranked, 0, len(results))
	for i, r := range results {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

func tokenize(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}=<>")
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
