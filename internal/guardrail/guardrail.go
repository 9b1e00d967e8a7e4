// Package guardrail implements the answerability guardrail: an ensemble
// confidence score over the final ranked list plus a per-tenant threshold
// decision, with a structured "I don't know" fallback when the corpus
// doesn't support an answer.
package guardrail

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/knoguchi/rag/internal/identity"
	"github.com/knoguchi/rag/internal/ingestion"
	"github.com/knoguchi/rag/internal/repository"
	"github.com/knoguchi/rag/internal/retrieval"
)

// Decision rationales recorded on every audit trail.
const (
	RationaleAnswerable        = "ANSWERABLE"
	RationaleNotAnswerable     = "NOT_ANSWERABLE"
	RationaleGuardrailDisabled = "GUARDRAIL_DISABLED"
	RationaleBypassEnabled     = "BYPASS_ENABLED"
)

// AlgorithmScores holds the four sub-scores the guardrail's confidence is
// a weighted average of.
type AlgorithmScores struct {
	Statistical        float64
	Threshold          float64
	MLFeatures         float64
	RerankerConfidence *float64
}

// AnswerabilityScore is the ephemeral scoring record attached to every
// guardrail decision.
type AnswerabilityScore struct {
	Confidence      float64
	ScoreStats      ScoreStats
	AlgorithmScores AlgorithmScores
	Reasoning       string
}

// IDKResponse is the structured "I don't know" payload.
type IDKResponse struct {
	Message         string
	ReasonCode      repository.IDKReasonCode
	Suggestions     []string
	ConfidenceLevel string
}

// Performance records the timings an audit trail carries.
type Performance struct {
	ScoringDuration time.Duration
	TotalDuration   time.Duration
}

// AuditTrail is the record emitted by every guardrail decision. The
// query text is retained here; redaction
// is the HTTP layer's responsibility.
type AuditTrail struct {
	Timestamp         time.Time
	Query             string
	TenantID          string
	UserSummary       string
	ResultsCount      int
	ScoreStatsSummary string
	DecisionRationale string
	Performance       Performance
}

// Decision is the guardrail's verdict.
type Decision struct {
	IsAnswerable bool
	Score        AnswerabilityScore
	Threshold    repository.GuardrailThreshold
	IDKResponse  *IDKResponse
	AuditTrail   AuditTrail
}

// defaultGenericSuggestion is returned when fallback suggestion generation
// finds nothing usable.
const defaultGenericSuggestion = "Try rephrasing your question or asking about a different topic."

// Evaluate computes the answerability decision for results against query,
// on behalf of user, gated by cfg (the tenant's guardrail configuration).
func Evaluate(query string, results []retrieval.Ranked, user identity.UserContext, tenantID string, cfg repository.GuardrailConfig) Decision {
	start := time.Now()

	if !cfg.Enabled {
		return passthroughDecision(query, tenantID, user, results, cfg, RationaleGuardrailDisabled, start)
	}

	if cfg.BypassEnabled && user.IsAdmin() {
		return passthroughDecision(query, tenantID, user, results, cfg, RationaleBypassEnabled, start)
	}

	if len(results) == 0 {
		return emptyResultsDecision(query, tenantID, user, cfg, start)
	}

	scoringStart := time.Now()
	score := computeScore(results, cfg.AlgorithmWeights)
	scoringDuration := time.Since(scoringStart)

	threshold := cfg.Threshold
	answerable := score.Confidence >= threshold.MinConfidence &&
		score.ScoreStats.Max >= threshold.MinTopScore &&
		score.ScoreStats.Mean >= threshold.MinMeanScore &&
		score.ScoreStats.StdDev <= threshold.MaxStdDev &&
		score.ScoreStats.Count >= threshold.MinResultCount

	rationale := RationaleAnswerable
	var idk *IDKResponse
	if !answerable {
		rationale = RationaleNotAnswerable
		idk = buildIDKResponse(results, score, cfg)
	}

	return Decision{
		IsAnswerable: answerable,
		Score:        score,
		Threshold:    threshold,
		IDKResponse:  idk,
		AuditTrail: AuditTrail{
			Timestamp:         start,
			Query:             query,
			TenantID:          tenantID,
			UserSummary:       userSummary(user),
			ResultsCount:      len(results),
			ScoreStatsSummary: scoreStatsSummary(score.ScoreStats),
			DecisionRationale: rationale,
			Performance: Performance{
				ScoringDuration: scoringDuration,
				TotalDuration:   time.Since(start),
			},
		},
	}
}

// passthroughDecision builds the short-circuit decision used when the
// guardrail is disabled or bypassed for an admin caller: confidence 1.0,
// always answerable.
func passthroughDecision(query, tenantID string, user identity.UserContext, results []retrieval.Ranked, cfg repository.GuardrailConfig, rationale string, start time.Time) Decision {
	return Decision{
		IsAnswerable: true,
		Score: AnswerabilityScore{
			Confidence: 1.0,
			Reasoning:  "guardrail bypassed: " + rationale,
		},
		Threshold: cfg.Threshold,
		AuditTrail: AuditTrail{
			Timestamp:         start,
			Query:             query,
			TenantID:          tenantID,
			UserSummary:       userSummary(user),
			ResultsCount:      len(results),
			DecisionRationale: rationale,
			Performance: Performance{
				TotalDuration: time.Since(start),
			},
		},
	}
}

// emptyResultsDecision implements the mandatory "results empty"
// short-circuit: always NO_RELEVANT_DOCS, never a confidence computation.
func emptyResultsDecision(query, tenantID string, user identity.UserContext, cfg repository.GuardrailConfig, start time.Time) Decision {
	idk := selectTemplate(cfg.IDKTemplates, repository.ReasonNoRelevantDocs)
	return Decision{
		IsAnswerable: false,
		Score:        AnswerabilityScore{Reasoning: "no results to score"},
		Threshold:    cfg.Threshold,
		IDKResponse: &IDKResponse{
			Message:         idk.Template,
			ReasonCode:      repository.ReasonNoRelevantDocs,
			ConfidenceLevel: "none",
		},
		AuditTrail: AuditTrail{
			Timestamp:         start,
			Query:             query,
			TenantID:          tenantID,
			UserSummary:       userSummary(user),
			ResultsCount:      0,
			DecisionRationale: RationaleNotAnswerable,
			Performance: Performance{
				TotalDuration: time.Since(start),
			},
		},
	}
}

// finalScore returns the score the guardrail reasons over for a result:
// rerankerScore if the reranker ran, else fusionScore, else the plain
// score field.
func finalScore(r retrieval.Ranked) float64 {
	if r.RerankerScore != nil {
		return *r.RerankerScore
	}
	if r.FusionScore != nil {
		return *r.FusionScore
	}
	return r.Score
}

func computeScore(results []retrieval.Ranked, weights repository.AlgorithmWeights) AnswerabilityScore {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = finalScore(r)
	}
	stats := computeScoreStats(scores)

	statistical := statisticalSubScore(stats)
	thresholdScore := thresholdSubScore(stats, scores)
	mlFeatures := mlFeaturesSubScore(stats, results)

	var rerankerConf *float64
	if rerankerRan(results) {
		rc := rerankerConfidenceSubScore(results)
		rerankerConf = &rc
	}

	confidence, weightsUsed := weightedConfidence(statistical, thresholdScore, mlFeatures, rerankerConf, weights)

	return AnswerabilityScore{
		Confidence: confidence,
		ScoreStats: stats,
		AlgorithmScores: AlgorithmScores{
			Statistical:        statistical,
			Threshold:          thresholdScore,
			MLFeatures:         mlFeatures,
			RerankerConfidence: rerankerConf,
		},
		Reasoning: fmt.Sprintf(
			"confidence=%.4f from statistical=%.4f threshold=%.4f mlFeatures=%.4f reranker=%v weights=%v",
			confidence, statistical, thresholdScore, mlFeatures, rerankerConf, weightsUsed,
		),
	}
}

// statisticalSubScore mixes mean, max, and spread of the score list.
func statisticalSubScore(s ScoreStats) float64 {
	return 0.4*math.Min(s.Mean, 1) + 0.3*math.Min(s.Max, 1) + 0.3*math.Max(0, 1-s.StdDev/0.5)
}

// thresholdSubScore weighs the top score against the share of results above 0.5.
func thresholdSubScore(s ScoreStats, scores []float64) float64 {
	if s.Count == 0 {
		return 0
	}
	aboveHalf := 0
	for _, v := range scores {
		if v > 0.5 {
			aboveHalf++
		}
	}
	return math.Min(s.Max*0.7+(float64(aboveHalf)/float64(s.Count))*0.3, 1)
}

// mlFeaturesSubScore is a weighted mix of distribution-shape features.
func mlFeaturesSubScore(s ScoreStats, results []retrieval.Ranked) float64 {
	scoreRange := s.Max - s.Min
	inverseVariance := 1 - math.Min(s.StdDev, 1)
	topToMeanRatio := math.Min((s.Max/(s.Mean+1e-3))/2, 1)
	correlation := rankCorrelation(results)
	density := math.Min(float64(s.Count)/10, 1)

	return 0.2*scoreRange + 0.3*inverseVariance + 0.3*topToMeanRatio + 0.1*correlation + 0.1*density
}

func rerankerRan(results []retrieval.Ranked) bool {
	for _, r := range results {
		if r.RerankerScore != nil {
			return true
		}
	}
	return false
}

// rerankerConfidenceSubScore computes the
// `rerankerConfidence` formula over the present rerankerScores.
func rerankerConfidenceSubScore(results []retrieval.Ranked) float64 {
	var scores []float64
	for _, r := range results {
		if r.RerankerScore != nil {
			scores = append(scores, *r.RerankerScore)
		}
	}
	if len(scores) == 0 {
		return 0
	}
	max := scores[0]
	var sum float64
	for _, s := range scores {
		if s > max {
			max = s
		}
		sum += s
	}
	mean := sum / float64(len(scores))
	return 0.6*max + 0.4*mean
}

// rankCorrelation derives the vector/keyword rank-correlation feature.
// It compares, among results present
// in both a vector-score ranking and a keyword-score ranking, how closely
// the two orderings agree, mapped to [0,1] via 1 - normalized rank
// distance. Per the documented open question, a missing side (one list
// entirely empty) yields the neutral value 0.5.
func rankCorrelation(results []retrieval.Ranked) float64 {
	type scored struct {
		id    string
		score float64
	}
	var byVector, byKeyword []scored
	for _, r := range results {
		if r.VectorScore != nil {
			byVector = append(byVector, scored{r.ID, *r.VectorScore})
		}
		if r.KeywordScore != nil {
			byKeyword = append(byKeyword, scored{r.ID, *r.KeywordScore})
		}
	}
	if len(byVector) == 0 || len(byKeyword) == 0 {
		return 0.5
	}

	sort.SliceStable(byVector, func(i, j int) bool { return byVector[i].score > byVector[j].score })
	sort.SliceStable(byKeyword, func(i, j int) bool { return byKeyword[i].score > byKeyword[j].score })

	vectorRank := make(map[string]int, len(byVector))
	for i, s := range byVector {
		vectorRank[s.id] = i + 1
	}
	keywordRank := make(map[string]int, len(byKeyword))
	for i, s := range byKeyword {
		keywordRank[s.id] = i + 1
	}

	var shared int
	var distanceSum float64
	maxRank := math.Max(float64(len(byVector)), float64(len(byKeyword)))
	for id, vr := range vectorRank {
		kr, ok := keywordRank[id]
		if !ok {
			continue
		}
		shared++
		distanceSum += math.Abs(float64(vr-kr)) / maxRank
	}
	if shared == 0 {
		return 0.5
	}
	avgDistance := distanceSum / float64(shared)
	return math.Max(0, 1-avgDistance)
}

// weightedConfidence combines the sub-scores using tenant algorithm
// weights. When the reranker did not run, the weight mix
// is renormalized over the remaining three sub-scores.
func weightedConfidence(statistical, threshold, mlFeatures float64, rerankerConf *float64, weights repository.AlgorithmWeights) (float64, repository.AlgorithmWeights) {
	w := weights
	if w.Statistical == 0 && w.Threshold == 0 && w.MLFeatures == 0 && w.RerankerConfidence == 0 {
		w = DefaultAlgorithmWeights()
	}

	if rerankerConf != nil {
		sum := w.Statistical + w.Threshold + w.MLFeatures + w.RerankerConfidence
		if sum == 0 {
			sum = 1
		}
		confidence := (w.Statistical*statistical + w.Threshold*threshold + w.MLFeatures*mlFeatures + w.RerankerConfidence**rerankerConf) / sum
		return confidence, w
	}

	sum := w.Statistical + w.Threshold + w.MLFeatures
	if sum == 0 {
		sum = 1
	}
	confidence := (w.Statistical*statistical + w.Threshold*threshold + w.MLFeatures*mlFeatures) / sum
	return confidence, w
}

// DefaultAlgorithmWeights returns the default sub-score weight mix.
func DefaultAlgorithmWeights() repository.AlgorithmWeights {
	return repository.AlgorithmWeights{
		Statistical:        0.4,
		Threshold:          0.3,
		MLFeatures:         0.2,
		RerankerConfidence: 0.1,
	}
}

// buildIDKResponse picks a failure-mode template and, if enabled, derives
// suggestions from the first sentence of near-miss results.
func buildIDKResponse(results []retrieval.Ranked, score AnswerabilityScore, cfg repository.GuardrailConfig) *IDKResponse {
	reasonCode := classifyFailure(score)
	template := selectTemplate(cfg.IDKTemplates, reasonCode)

	idk := &IDKResponse{
		Message:         template.Template,
		ReasonCode:      reasonCode,
		ConfidenceLevel: confidenceLevel(score.Confidence),
	}

	if cfg.FallbackConfig.Enabled {
		idk.Suggestions = buildSuggestions(results, cfg.FallbackConfig)
	}

	return idk
}

// classifyFailure picks the IDK reason code for a failed decision.
func classifyFailure(score AnswerabilityScore) repository.IDKReasonCode {
	switch {
	case score.ScoreStats.Count == 0:
		return repository.ReasonNoRelevantDocs
	case score.Confidence < 0.3:
		return repository.ReasonLowConfidence
	case score.ScoreStats.StdDev > 0.4:
		return repository.ReasonAmbiguousQuery
	default:
		return repository.ReasonLowConfidence
	}
}

func selectTemplate(templates []repository.IDKTemplate, reasonCode repository.IDKReasonCode) repository.IDKTemplate {
	for _, t := range templates {
		if t.ReasonCode == reasonCode {
			return t
		}
	}
	return genericTemplate(reasonCode)
}

func genericTemplate(reasonCode repository.IDKReasonCode) repository.IDKTemplate {
	messages := map[repository.IDKReasonCode]string{
		repository.ReasonNoRelevantDocs: "I couldn't find any documents relevant to your question.",
		repository.ReasonLowConfidence:  "I'm not confident enough in the available information to answer that.",
		repository.ReasonAmbiguousQuery: "Your question matches several unrelated topics; could you be more specific?",
	}
	msg, ok := messages[reasonCode]
	if !ok {
		msg = "I don't have enough information to answer that question."
	}
	return repository.IDKTemplate{
		ID:                 "builtin-" + string(reasonCode),
		ReasonCode:         reasonCode,
		Template:           msg,
		IncludeSuggestions: true,
	}
}

// buildSuggestions derives up to fb.MaxSuggestions suggestions from the
// first sentence of each result whose score is >= fb.SuggestionThreshold,
// de-duplicated, falling back to a generic suggestion string when none
// qualify.
func buildSuggestions(results []retrieval.Ranked, fb repository.FallbackConfig) []string {
	seen := make(map[string]struct{})
	var suggestions []string

	for _, r := range results {
		if finalScore(r) < fb.SuggestionThreshold {
			continue
		}
		sentence := ingestion.FirstSentence(r.Content)
		if sentence == "" {
			continue
		}
		if _, ok := seen[sentence]; ok {
			continue
		}
		seen[sentence] = struct{}{}
		suggestions = append(suggestions, sentence)
		if fb.MaxSuggestions > 0 && len(suggestions) >= fb.MaxSuggestions {
			break
		}
	}

	if len(suggestions) == 0 {
		return []string{defaultGenericSuggestion}
	}
	return suggestions
}

func confidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.7:
		return "high"
	case confidence >= 0.3:
		return "medium"
	default:
		return "low"
	}
}

func userSummary(user identity.UserContext) string {
	return fmt.Sprintf("tenant=%s user=%s groups=%d", user.TenantID, user.UserID, len(user.GroupIDs))
}

func scoreStatsSummary(s ScoreStats) string {
	return fmt.Sprintf("count=%d mean=%.4f max=%.4f min=%.4f stddev=%.4f", s.Count, s.Mean, s.Max, s.Min, s.StdDev)
}
