package entities

import "errors"

// Sentinel errors shared across the engine. Callers wrap them with context
// and test with errors.Is.
var (
	ErrFactNotFound      = errors.New("fact not found")
	ErrIssueNotFound     = errors.New("issue not found")
	ErrInvalidTransition = errors.New("invalid issue transition")
	ErrAliasConflict     = errors.New("alias would merge conflicting facts")
	ErrScanInProgress    = errors.New("scan already in progress")
	ErrNoScan            = errors.New("no scan for book")
	ErrStoreCorrupted    = errors.New("fact store corrupted")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSessionNotFound   = errors.New("editing session not found")
	ErrSchedulerClosed   = errors.New("check scheduler closed")
)
