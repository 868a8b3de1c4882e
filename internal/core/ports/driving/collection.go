package driving

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// CollectionService inspects and prunes stored collections.
type CollectionService interface {
	// ListCollections returns every collection with its counts.
	ListCollections(ctx context.Context) ([]domain.CollectionInfo, error)

	// ListSources returns the sources stored in a collection.
	ListSources(ctx context.Context, collection string) ([]domain.SourceInfo, error)

	// DeleteSource removes a source's records. Returns domain.ErrNotFound
	// if the source has no records.
	DeleteSource(ctx context.Context, collection, source string) (int, error)

	// Stats returns the counts for one collection. Returns
	// domain.ErrNotFound if the collection does not exist.
	Stats(ctx context.Context, collection string) (*domain.CollectionInfo, error)
}
