package tenantconfig

import "github.com/knoguchi/rag/internal/repository"

// Strict, Standard, and Permissive are the read-only guardrail threshold
// presets. Custom configs use repository.ThresholdCustom and carry their
// own numbers.
//
// Calibration note: Reciprocal Rank Fusion is rank-only, so with
// the default rrfK=60 and vectorWeight/keywordWeight around 0.7/0.3, a
// rank-1 fusionScore sits around 0.01-0.02 regardless of how semantically
// relevant the hit is — nowhere near the [0,1] scale a raw similarity or
// reranker score would occupy. These presets are calibrated against that
// realistic fusionScore magnitude, not an idealized [0,1] one, so minTopScore
// and minMeanScore stay well below minConfidence. Tenants that enable the
// reranker feed meaningfully larger, well-calibrated rerankerScores into the
// same decision and should configure a custom, higher threshold.
var (
	Strict = repository.GuardrailThreshold{
		Type:           repository.ThresholdStrict,
		MinConfidence:  0.26,
		MinTopScore:    0.010,
		MinMeanScore:   0.008,
		MaxStdDev:      0.2,
		MinResultCount: 3,
	}

	Standard = repository.GuardrailThreshold{
		Type:           repository.ThresholdStandard,
		MinConfidence:  0.2,
		MinTopScore:    0.008,
		MinMeanScore:   0.005,
		MaxStdDev:      0.4,
		MinResultCount: 1,
	}

	Permissive = repository.GuardrailThreshold{
		Type:           repository.ThresholdPermissive,
		MinConfidence:  0.15,
		MinTopScore:    0.005,
		MinMeanScore:   0.003,
		MaxStdDev:      0.6,
		MinResultCount: 1,
	}
)

// DefaultIDKTemplates seeds every new tenant with a baseline template per
// reason code, overridable via updateTenantConfig.
func DefaultIDKTemplates() []repository.IDKTemplate {
	return []repository.IDKTemplate{
		{
			ID:                 "default-no-relevant-docs",
			ReasonCode:         repository.ReasonNoRelevantDocs,
			Template:           "I couldn't find any documents relevant to your question.",
			IncludeSuggestions: false,
		},
		{
			ID:                 "default-low-confidence",
			ReasonCode:         repository.ReasonLowConfidence,
			Template:           "I'm not confident enough in the available information to answer that.",
			IncludeSuggestions: true,
		},
		{
			ID:                 "default-ambiguous-query",
			ReasonCode:         repository.ReasonAmbiguousQuery,
			Template:           "Your question matches several unrelated topics; could you be more specific?",
			IncludeSuggestions: true,
		},
	}
}

// DefaultConfig returns the default tenant configuration spliced with
// tenantID.
func DefaultConfig(tenantID string) repository.TenantConfig {
	return repository.TenantConfig{
		TenantID:             tenantID,
		KeywordSearchEnabled: true,
		VectorWeight:         0.7,
		KeywordWeight:        0.3,
		RRFK:                 60,
		RerankerEnabled:      false,
		RerankerConfig: repository.RerankerConfig{
			TopNIn:    20,
			TopK:      8,
			BatchSize: 16,
			TimeoutMS: 500,
		},
		Guardrail: repository.GuardrailConfig{
			Enabled:          true,
			BypassEnabled:    false,
			Threshold:        Standard,
			AlgorithmWeights: repository.AlgorithmWeights{Statistical: 0.4, Threshold: 0.3, MLFeatures: 0.2, RerankerConfidence: 0.1},
			IDKTemplates:     DefaultIDKTemplates(),
			FallbackConfig: repository.FallbackConfig{
				Enabled:             true,
				MaxSuggestions:      3,
				SuggestionThreshold: 0.3,
			},
		},
	}
}
