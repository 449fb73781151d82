package engine

import "errors"

// Error kinds the core reports, per spec.md section 7. Each is a
// sentinel so callers can classify with errors.Is, following the
// teacher's internal/bfd sentinel-error-block style.
var (
	// ErrInvalidConfiguration is surfaced before workers start and
	// aborts the run.
	ErrInvalidConfiguration = errors.New("engine: invalid configuration")

	// ErrClockDesync means different cores' timebases are not
	// comparable, so no timestamp arithmetic across them is safe.
	ErrClockDesync = errors.New("engine: clock desync across workers")

	// ErrPoolExhausted/ErrAllocationFailed are fatal at setup, or
	// fatal inside a worker if raised later.
	ErrPoolExhausted    = errors.New("engine: buffer pool exhausted")
	ErrAllocationFailed = errors.New("engine: allocation failed")

	// ErrPreliminaryUnderfill means valid_entries < M after the
	// preliminary phase; measurement may still proceed under operator
	// discretion (it is not auto-aborted here).
	ErrPreliminaryUnderfill = errors.New("engine: preliminary phase underfilled the state table")

	// ErrMalformedProbe means a latency frame carried an
	// out-of-range probe id; fatal, prevents memory corruption.
	ErrMalformedProbe = errors.New("engine: malformed latency probe")

	// ErrLinkDown is fatal at setup after netio.MaxLinkRetries retries.
	ErrLinkDown = errors.New("engine: link down after retry budget exhausted")
)

// NumaMismatch and PacingViolation are not sentinel errors: spec.md
// section 7 requires them to be warnings, not aborts, so they are
// reported via the Report's Warnings field and Invalid flag instead of
// being returned as errors (see Report in engine.go and section 7.A's REDESIGN
// FLAG resolution).
