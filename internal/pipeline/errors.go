// Package pipeline defines the sentinel error kinds the retrieval core
// raises. Callers use errors.Is/errors.As
// against these values rather than matching error strings; the HTTP layer
// (out of scope here) maps them to status codes.
package pipeline

import "errors"

var (
	// ErrUnauthorized is raised when the caller's identity fails validation.
	ErrUnauthorized = errors.New("UNAUTHORIZED")

	// ErrEmbeddingFailed is raised when the embedding collaborator fails.
	// Fatal: surfaced to the caller.
	ErrEmbeddingFailed = errors.New("EMBEDDING_FAILED")

	// ErrRerankerFailed names the reranker timeout or transport failure
	// kind. No code returns it: the reranker falls back to pass-through and
	// logs the underlying error itself.
	ErrRerankerFailed = errors.New("RERANKER_FAILED")

	// ErrStageTimeout names the per-stage timeout kind. No code returns it:
	// a stage that exceeds its deadline fails with its own error kind
	// wrapping context.DeadlineExceeded.
	ErrStageTimeout = errors.New("STAGE_TIMEOUT")

	// ErrOverallTimeout names the outer request timeout kind. No code
	// returns it: an expired request context surfaces through the failing
	// stage's own error kind.
	ErrOverallTimeout = errors.New("OVERALL_TIMEOUT")

	// ErrConfigInvalid is raised by updateTenantConfig validation.
	// Rejected synchronously, never partially applied.
	ErrConfigInvalid = errors.New("CONFIG_INVALID")
)
