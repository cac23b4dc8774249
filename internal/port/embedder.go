package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns the vector for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedMany returns one vector per input text, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
