package driven

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// RecordStore persists records and serves nearest-neighbour search.
//
// Implementations must guarantee:
//   - (collection, source, chunk index) is unique.
//   - ReplaceSource is atomic from a reader's perspective: a concurrent
//     Search sees either the old full set of a source or the new one.
//   - All embeddings in one collection share the same dimensionality;
//     a mismatch fails with an error wrapping domain.ErrDimensionMismatch.
//
// Errors are returned as *domain.StoreError. Errors wrapping
// domain.ErrStoreUnavailable mean the store cannot serve any request.
type RecordStore interface {
	// ReplaceSource removes every record of source in collection and
	// inserts records in its place. An empty slice deletes the source.
	ReplaceSource(ctx context.Context, collection, source string, records []domain.Record) error

	// Search returns at most k records ordered by descending cosine
	// similarity, ties broken by chunk index then source ascending.
	// An empty or unknown collection yields an empty slice and no error.
	Search(ctx context.Context, collection string, embedding []float32, k int, filter domain.Filter) ([]domain.ScoredRecord, error)

	// DeleteSource removes every record of source. Returns the number removed.
	DeleteSource(ctx context.Context, collection, source string) (int, error)

	// ListSources summarises the sources stored in a collection.
	ListSources(ctx context.Context, collection string) ([]domain.SourceInfo, error)

	// ListCollections summarises every collection.
	ListCollections(ctx context.Context) ([]domain.CollectionInfo, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}
