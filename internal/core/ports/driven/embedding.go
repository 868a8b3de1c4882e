// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// The same text with the same model must yield the same vector, so callers
// may cache results keyed by model name and text.
//
// Implementations include:
//   - OpenAI and OpenAI-compatible gateways (text-embedding-3-small)
//   - Ollama (nomic-embed-text, all-minilm)
//   - Google Gemini (text-embedding-004)
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip.
	// The result has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 768, 1536).
	// Every record in a collection shares this size.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EmbeddingFactory builds an embedding service for a model other than the
// configured default. Used for per-ingestion model overrides.
type EmbeddingFactory func(model string) (EmbeddingService, error)
