// Package metrics exposes the retrieval pipeline's per-stage timings and
// per-tenant counters as Prometheus collectors: vectors of named collectors
// registered once and updated from the request path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/knoguchi/rag/internal/orchestrator"
)

// Collectors holds every Prometheus collector the retrieval pipeline feeds.
type Collectors struct {
	StageDuration     *prometheus.HistogramVec
	ResultCount       *prometheus.HistogramVec
	RetrievalsTotal   *prometheus.CounterVec
	AnswerableTotal   *prometheus.CounterVec
	RerankerDocsTotal *prometheus.CounterVec
}

// stageBuckets covers the per-stage timeout budgets
// (vector/keyword 2s, reranker 500ms, guardrail 50ms) with enough
// resolution below each to be useful for alerting.
var stageBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_retrieval_stage_duration_seconds",
				Help:    "Duration of each guarded retrieval pipeline stage.",
				Buckets: stageBuckets,
			},
			[]string{"stage"},
		),
		ResultCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_retrieval_result_count",
				Help:    "Number of results surviving each named stage.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"stage"},
		),
		RetrievalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_retrievals_total",
				Help: "Total guarded retrieval calls by tenant.",
			},
			[]string{"tenant"},
		),
		AnswerableTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_answerable_total",
				Help: "Total guardrail decisions by tenant and outcome.",
			},
			[]string{"tenant", "answerable"},
		),
		RerankerDocsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_reranker_documents_total",
				Help: "Total documents scored by the reranker, by tenant.",
			},
			[]string{"tenant"},
		),
	}

	reg.MustRegister(c.StageDuration, c.ResultCount, c.RetrievalsTotal, c.AnswerableTotal, c.RerankerDocsTotal)
	return c
}

// Observe records one orchestrator.Result's stage timings and counts for
// tenant, and reports whether the guardrail allowed an answer.
func (c *Collectors) Observe(tenant string, m orchestrator.Metrics, answerable bool) {
	c.StageDuration.WithLabelValues("vector_search").Observe(m.VectorSearchDuration.Seconds())
	c.StageDuration.WithLabelValues("keyword_search").Observe(m.KeywordSearchDuration.Seconds())
	c.StageDuration.WithLabelValues("fusion").Observe(m.FusionDuration.Seconds())
	c.StageDuration.WithLabelValues("reranker").Observe(m.RerankerDuration.Seconds())
	c.StageDuration.WithLabelValues("guardrail").Observe(m.GuardrailDuration.Seconds())
	c.StageDuration.WithLabelValues("total").Observe(m.TotalDuration.Seconds())

	c.ResultCount.WithLabelValues("vector").Observe(float64(m.VectorResultCount))
	c.ResultCount.WithLabelValues("keyword").Observe(float64(m.KeywordResultCount))
	c.ResultCount.WithLabelValues("final").Observe(float64(m.FinalResultCount))

	c.RetrievalsTotal.WithLabelValues(tenant).Inc()
	c.AnswerableTotal.WithLabelValues(tenant, boolLabel(answerable)).Inc()

	if m.RerankingEnabled && m.DocumentsReranked > 0 {
		c.RerankerDocsTotal.WithLabelValues(tenant).Add(float64(m.DocumentsReranked))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
