package collector

import "codeberg.org/mutker/vramwatch/internal/errors"

const (
	// Configuration errors
	ErrInvalidInterval = errors.ErrInvalidInterval

	// Lifecycle errors
	ErrFetcherInit  = errors.ErrorCode("collector_fetcher_init_failed")
	ErrWorkerStuck  = errors.ErrorCode("collector_worker_stuck")
	ErrCommitFailed = errors.ErrorCode("collector_commit_failed")

	// Agent mode errors
	ErrRegistryFetch = errors.ErrorCode("collector_registry_fetch_failed")
	ErrSubmitFailed  = errors.ErrorCode("collector_submit_failed")
)
