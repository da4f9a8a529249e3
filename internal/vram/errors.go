package vram

import "codeberg.org/mutker/vramwatch/internal/errors"

const (
	// Fetch errors. All of them are retry-eligible and treated identically
	// by callers; none is fatal to a polling worker.
	ErrFetchFailed    = errors.ErrorCode("vram_fetch_failed")
	ErrBadStatus      = errors.ErrorCode("vram_bad_status")
	ErrInvalidPayload = errors.ErrorCode("vram_invalid_payload")
	ErrInvalidURL     = errors.ErrorCode("vram_invalid_url")
)
