// Package repository defines the durable tenant domain model and its
// persistence interface. The live read path for tenant configuration is the
// in-process cache in internal/tenantconfig; this package backs that cache's
// optional durable snapshot so configuration survives a restart.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// GuardrailThresholdType names a built-in guardrail preset.
type GuardrailThresholdType string

const (
	ThresholdStrict     GuardrailThresholdType = "strict"
	ThresholdStandard   GuardrailThresholdType = "standard"
	ThresholdPermissive GuardrailThresholdType = "permissive"
	ThresholdCustom     GuardrailThresholdType = "custom"
)

// GuardrailThreshold gates the answerability decision for a tenant.
type GuardrailThreshold struct {
	Type           GuardrailThresholdType `json:"type"`
	MinConfidence  float64                `json:"min_confidence"`
	MinTopScore    float64                `json:"min_top_score"`
	MinMeanScore   float64                `json:"min_mean_score"`
	MaxStdDev      float64                `json:"max_std_dev"`
	MinResultCount int                    `json:"min_result_count"`
}

// AlgorithmWeights controls how the guardrail's four sub-scores combine.
type AlgorithmWeights struct {
	Statistical        float64 `json:"statistical"`
	Threshold          float64 `json:"threshold"`
	MLFeatures         float64 `json:"ml_features"`
	RerankerConfidence float64 `json:"reranker_confidence"`
}

// IDKReasonCode classifies why the guardrail declined to answer.
type IDKReasonCode string

const (
	ReasonLowConfidence  IDKReasonCode = "LOW_CONFIDENCE"
	ReasonNoRelevantDocs IDKReasonCode = "NO_RELEVANT_DOCS"
	ReasonAmbiguousQuery IDKReasonCode = "AMBIGUOUS_QUERY"
)

// IDKTemplate renders a structured "I don't know" response for a reason code.
type IDKTemplate struct {
	ID                 string        `json:"id"`
	ReasonCode         IDKReasonCode `json:"reason_code"`
	Template           string        `json:"template"`
	IncludeSuggestions bool          `json:"include_suggestions"`
}

// FallbackConfig controls IDK suggestion generation.
type FallbackConfig struct {
	Enabled             bool    `json:"enabled"`
	MaxSuggestions      int     `json:"max_suggestions"`
	SuggestionThreshold float64 `json:"suggestion_threshold"`
}

// GuardrailConfig holds the full answerability guardrail configuration for a tenant.
type GuardrailConfig struct {
	Enabled          bool               `json:"enabled"`
	BypassEnabled    bool               `json:"bypass_enabled"`
	Threshold        GuardrailThreshold `json:"threshold"`
	AlgorithmWeights AlgorithmWeights   `json:"algorithm_weights"`
	IDKTemplates     []IDKTemplate      `json:"idk_templates"`
	FallbackConfig   FallbackConfig     `json:"fallback_config"`
}

// RerankerConfig holds reranker tuning for a tenant.
type RerankerConfig struct {
	Model          string  `json:"model"`
	TopNIn         int     `json:"top_n_in"`
	TopK           int     `json:"top_k"`
	BatchSize      int     `json:"batch_size"`
	TimeoutMS      int     `json:"timeout_ms"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// TenantConfig holds tenant-specific retrieval, reranker, and guardrail
// configuration. Invariant: VectorWeight + KeywordWeight in [0.8, 1.2];
// RRFK >= 1. Enforced by tenantconfig.Validate.
type TenantConfig struct {
	TenantID             string          `json:"tenant_id"`
	KeywordSearchEnabled bool            `json:"keyword_search_enabled"`
	VectorWeight         float64         `json:"vector_weight"`
	KeywordWeight        float64         `json:"keyword_weight"`
	RRFK                 int             `json:"rrf_k"`
	RerankerEnabled      bool            `json:"reranker_enabled"`
	RerankerConfig       RerankerConfig  `json:"reranker_config"`
	Guardrail            GuardrailConfig `json:"guardrail"`
}

// Tenant is the durable record a config snapshot is loaded from / saved to.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Config    TenantConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantRepository defines durable persistence for tenant configuration.
// Implementations back the Tenant Config Store's snapshot; the cache itself
// is the authoritative read path at request time.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
}
