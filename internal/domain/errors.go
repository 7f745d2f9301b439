package domain

import "errors"

var (
	// ErrInvalidVector signals an embedding dimensionality or format mismatch.
	ErrInvalidVector = errors.New("invalid vector")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals malformed caller input (missing user id, zero k).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProviderUnavailable signals that the embedding provider is down or tripped.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrDegradedRanking signals that policy parameters are missing or corrupt and
	// ranking fell back to pure similarity. Surfaced as a warning, never as a
	// request failure.
	ErrDegradedRanking = errors.New("degraded ranking")
	// ErrStaleSession signals a session context older than the freshness window.
	ErrStaleSession = errors.New("stale session")
	// ErrPolicyCorrupt signals an unreadable policy snapshot.
	ErrPolicyCorrupt = errors.New("policy snapshot corrupt")
)
