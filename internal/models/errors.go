package models

import "errors"

// Error taxonomy for the orchestration core. Handlers map these to HTTP
// statuses; everything else is folded into a well-formed response body.
var (
	// ErrMalformedRequest is returned for a missing or empty message list.
	ErrMalformedRequest = errors.New("request contains no messages")

	// ErrInvalidKeyFormat is returned before any network call when the
	// supplied credential does not look like an API key at all.
	ErrInvalidKeyFormat = errors.New("credential has invalid format")

	// ErrRateLimited is returned by the local fixed-window limiter.
	// Upstream 429s are retried internally and never mapped to this.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCredentialUnusable means no candidate model accepted the credential.
	ErrCredentialUnusable = errors.New("no model is permitted for this credential")

	// ErrAllCandidatesExhausted means every candidate model failed.
	ErrAllCandidatesExhausted = errors.New("all candidate models exhausted")

	// ErrRetrievalUnavailable marks a failed retrieval collaborator. It is
	// swallowed by the orchestrator, which degrades to general mode.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)
