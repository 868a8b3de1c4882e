package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// FetchOptions bound a fetch.
type FetchOptions struct {
	// MaxDepth is the recursive link-following depth for web pages.
	MaxDepth int

	// MaxConcurrency caps simultaneous in-flight requests.
	MaxConcurrency int

	// Timeout bounds scheduling of new fetches. Zero means no deadline.
	Timeout time.Duration
}

// SourceFetcher retrieves raw documents for a source reference.
//
// Both channels are closed once the fetch is over. Per-URL failures are
// sent on the failure channel and never stop the fetch. When
// FetchOptions.Timeout elapses, documents already fetched are still
// delivered and each unit that was queued but not fetched is reported with
// a failure wrapping domain.ErrSkipped. Cancelling ctx stops the fetch
// without further sends. Callers must drain both channels.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref domain.SourceRef, opts FetchOptions) (<-chan domain.RawDocument, <-chan domain.Failure)
}
