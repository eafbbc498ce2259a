package ports

import "context"

// Embedder turns fact text into vectors for the fact index and the semantic
// judge. Vectors from one Embedder always share a dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
