package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Grouped below by
// the RPC error taxonomy (spec.md §7). The rpc handlers turn only
// ErrDeviceNotFound (404) and ErrStaleSequence (409) on heartbeats into
// distinct HTTP statuses; every Submit error is answered with 409.

var (
	// not_found
	ErrDeviceNotFound = errors.New("device not found")
	ErrModelNotFound  = errors.New("model not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrRoundNotFound  = errors.New("round not found")

	// already_exists / already_submitted
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrAlreadySubmitted = errors.New("already submitted for this round")

	// precondition
	ErrLayerMismatch    = errors.New("submission layer set does not match architecture")
	ErrSizeMismatch     = errors.New("submission element count does not match global model")
	ErrBadMagicByte     = errors.New("unrecognized blob magic byte")
	ErrStaleSequence    = errors.New("heartbeat sequence is not increasing")
	ErrRoundNotOpen     = errors.New("round is not open for submissions")
	ErrWrongCommandType = errors.New("command envelope type mismatch")
	ErrMissingParameter = errors.New("missing or malformed command parameter")

	// unavailable
	ErrStorageUnavailable = errors.New("storage temporarily unavailable")

	// resource_exhausted
	ErrCommandQueueFull = errors.New("command queue full")
	ErrTooManyJobs      = errors.New("too many active jobs")

	// deadline_exceeded
	ErrDeadlineExceeded = errors.New("round deadline exceeded")

	// internal
	ErrAggregationInvariant = errors.New("aggregator invariant violated")
	ErrZeroSamples          = errors.New("zero total samples in round")

	// selection
	ErrInsufficientEligibleDevices = errors.New("not enough eligible devices for quorum")
	ErrDeviceQuarantined           = errors.New("device is quarantined")

	// circuit breaker (storage)
	ErrCircuitOpen = errors.New("circuit breaker is open — storage unavailable")
)
