package core

import "errors"

// Failure taxonomy. Every per-request failure is recovered locally into a
// degraded response; only ErrConfiguration propagates to process exit.
var (
	// ErrClassification: the Router could not confidently classify a query.
	// Recovery: fall back to the auto/generalist candidate.
	ErrClassification = errors.New("classification failure")

	// ErrRetrieval: a retrieval backend is unreachable or returned nothing.
	// Recovery: use the other source, or generate model-only with capped
	// confidence.
	ErrRetrieval = errors.New("retrieval failure")

	// ErrModel: a model provider errored or timed out. Recovery: one bounded
	// retry, then a fixed fallback message flagged as degraded.
	ErrModel = errors.New("model failure")

	// ErrPersistence: the session store is unavailable. Recovery: continue
	// with in-memory state for the turn and flag the response as non-durable.
	ErrPersistence = errors.New("persistence failure")

	// ErrConfiguration: required credentials or settings are missing at
	// startup. Fatal before the process accepts connections.
	ErrConfiguration = errors.New("configuration error")

	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)
