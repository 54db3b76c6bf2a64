package domain

import "errors"

// Error taxonomy for the decision engine. Callers match with errors.Is.
var (
	// ErrInvalidTransaction marks malformed input rejected before scoring.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrModelUnavailable marks an ensemble model that is not yet trained.
	// Scoring degrades to a neutral sub-score instead of failing.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidStateTransition marks a disallowed alert workflow move.
	// The alert is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConfigInvalid marks a rejected configuration snapshot. The prior
	// valid configuration stays active.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
