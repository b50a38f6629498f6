package pipeline

import "errors"

// Sentinel kinds for pipeline failures. Extraction and persistence failures
// abort a window's run (retried next tick); configuration and computation
// failures are isolated per customer or industry and reported, never fatal
// to the batch.
var (
	ErrExtraction    = errors.New("extraction failed")
	ErrPersistence   = errors.New("persistence failed")
	ErrConfiguration = errors.New("invalid configuration")
	ErrComputation   = errors.New("computation failed")
)
