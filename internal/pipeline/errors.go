package pipeline

import "errors"

// Error taxonomy. Callers branch with errors.Is; the HTTP layer maps
// each to a distinct, stable response shape.
var (
	// ErrValidation: missing or malformed request parameters, rejected
	// before any stateful operation.
	ErrValidation = errors.New("invalid request")

	// ErrUpstream: the embedding, search or inference collaborator was
	// unavailable or timed out. Retryable by the caller, never retried
	// here beyond the client's own transport-level policy.
	ErrUpstream = errors.New("upstream failure")

	// ErrInternal: ledger storage unreachable. Quota correctness cannot
	// be silently bypassed, so the request fails closed.
	ErrInternal = errors.New("internal failure")
)
