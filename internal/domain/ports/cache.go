package ports

import "context"

// CheckCache stores encoded incremental check results by content key.
type CheckCache interface {
	// Get returns the cached value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key.
	Set(ctx context.Context, key string, value []byte) error
}
