package types

import "errors"

// Sentinel errors for the degradation conditions the core handles locally.
// Every one of these has a defined fallback or exclusion; none of them abort
// a cycle.
var (
	// ErrDataUnavailable means a required live reading is missing or older
	// than ReadingsMaxAge.
	ErrDataUnavailable = errors.New("live reading unavailable")

	// ErrInsufficientHistory means too few historical samples were available
	// to compute a baseline; the estimator falls back to its EMA.
	ErrInsufficientHistory = errors.New("insufficient history for baseline")

	// ErrGapExceeded means a historical gap was wider than the interpolation
	// bound and the period was excluded rather than guessed.
	ErrGapExceeded = errors.New("historical gap exceeds interpolation bound")

	// ErrCounterReset means a cumulative series decreased; values are never
	// interpolated across a reset.
	ErrCounterReset = errors.New("counter reset detected")

	// ErrLedgerStaleGap means more than an hour passed since the last ledger
	// delta; tracking re-anchors instead of applying the delta.
	ErrLedgerStaleGap = errors.New("ledger update gap too large")

	// ErrStorageCommit means persisting the ledger failed; the prior
	// in-memory state is retained.
	ErrStorageCommit = errors.New("storage commit failed")

	// ErrInvalidOverride means an override's duration or power was outside
	// the allowed bounds and it was rejected before being applied.
	ErrInvalidOverride = errors.New("invalid override")
)
