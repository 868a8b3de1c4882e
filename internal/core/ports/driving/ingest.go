package driving

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// IngestService runs the fetch, chunk, embed and store pipeline.
type IngestService interface {
	// Ingest fetches source into collection. Per-item failures are reported
	// in the summary; an error is returned only when the whole call failed.
	Ingest(ctx context.Context, collection, source string, opts domain.IngestOptions) (*domain.IngestSummary, error)

	// IngestMany ingests several sources one after another into one
	// collection, subject to the configured source limit.
	IngestMany(ctx context.Context, collection string, sources []string, opts domain.IngestOptions) (*domain.IngestSummary, error)
}
