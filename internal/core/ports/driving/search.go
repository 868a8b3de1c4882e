package driving

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// Retriever answers natural-language queries against a collection.
type Retriever interface {
	// Query embeds text and returns at most k ranked records.
	// Zero matches is a valid, non-nil result. An embedding failure
	// returns an error wrapping domain.ErrEmbeddingUnavailable.
	Query(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.QueryResult, error)

	// Context runs Query and renders the matches into one prompt-ready block.
	Context(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.ContextBlock, error)

	// Answer retrieves context and asks the configured LLM to answer.
	// Returns domain.ErrLLMUnavailable when no LLM is configured.
	Answer(ctx context.Context, collection, question string, k int, filter domain.Filter) (*domain.Answer, error)
}
