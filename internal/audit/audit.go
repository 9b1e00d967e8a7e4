// Package audit records every guardrail decision as a structured audit
// entry, the durable trail kept for answerability
// decisions: what was asked, who asked, whether it was answered, and why.
package audit

import (
	"context"
	"log/slog"

	"github.com/knoguchi/rag/internal/guardrail"
	"github.com/knoguchi/rag/internal/orchestrator"
)

// Record is a single audit entry: a guardrail decision's trail enriched
// with the orchestrator's stage metrics for the same request.
type Record struct {
	Trail   guardrail.AuditTrail
	Metrics orchestrator.Metrics
}

// Sink persists or forwards audit records. Implementations must not block
// the request path for long; the orchestrator's guardrail stage budget is
// 50ms and audit recording happens after that budget is already spent.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

// SlogSink writes every record as a structured log line. This is the
// default sink; swap in a durable Sink (a database table, an event queue)
// without touching the orchestrator wiring.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink builds a Sink that logs through log. A nil logger uses
// slog.Default().
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

// Record logs rec at info level, with warn level reserved for a
// not-answerable decision so audit trails double as an operational signal.
func (s *SlogSink) Record(ctx context.Context, rec Record) {
	attrs := []any{
		"tenant", rec.Trail.TenantID,
		"rationale", rec.Trail.DecisionRationale,
		"results_count", rec.Trail.ResultsCount,
		"score_stats", rec.Trail.ScoreStatsSummary,
		"scoring_duration", rec.Trail.Performance.ScoringDuration,
		"total_duration", rec.Trail.Performance.TotalDuration,
		"vector_count", rec.Metrics.VectorResultCount,
		"keyword_count", rec.Metrics.KeywordResultCount,
		"final_count", rec.Metrics.FinalResultCount,
		"reranking_enabled", rec.Metrics.RerankingEnabled,
	}

	if rec.Trail.DecisionRationale == guardrail.RationaleNotAnswerable {
		s.log.WarnContext(ctx, "guardrail declined to answer", attrs...)
		return
	}
	s.log.InfoContext(ctx, "guardrail decision", attrs...)
}

var _ Sink = (*SlogSink)(nil)

// NoopSink discards every record. Useful for tests that don't care about
// audit output.
type NoopSink struct{}

// Record implements Sink by doing nothing.
func (NoopSink) Record(context.Context, Record) {}

var _ Sink = NoopSink{}

// FromResult builds a Record from an orchestrator Result's decision and
// metrics, the shape every caller of Sink.Record should use.
func FromResult(result orchestrator.Result) Record {
	return Record{Trail: result.Decision.AuditTrail, Metrics: result.Metrics}
}
