package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Ensure CollectionService implements the interface.
var _ driving.CollectionService = (*CollectionService)(nil)

// CollectionService inspects and prunes stored collections.
type CollectionService struct {
	store driven.RecordStore
}

// NewCollectionService creates a collection service over store.
func NewCollectionService(store driven.RecordStore) *CollectionService {
	return &CollectionService{store: store}
}

// ListCollections returns every collection with its counts.
func (s *CollectionService) ListCollections(ctx context.Context) ([]domain.CollectionInfo, error) {
	infos, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if infos == nil {
		infos = []domain.CollectionInfo{}
	}
	return infos, nil
}

// ListSources returns the sources stored in collection.
func (s *CollectionService) ListSources(ctx context.Context, collection string) ([]domain.SourceInfo, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}
	sources, err := s.store.ListSources(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if sources == nil {
		sources = []domain.SourceInfo{}
	}
	return sources, nil
}

// DeleteSource removes a source's records and returns how many were removed.
func (s *CollectionService) DeleteSource(ctx context.Context, collection, source string) (int, error) {
	collection = strings.TrimSpace(collection)
	source = strings.TrimSpace(source)
	if collection == "" || source == "" {
		return 0, fmt.Errorf("%w: collection and source are required", domain.ErrInvalidInput)
	}

	n, err := s.store.DeleteSource(ctx, collection, source)
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("source %q in %q: %w", source, collection, domain.ErrNotFound)
	}
	logger.Info("Deleted %d record(s) of %s from %s", n, source, collection)
	return n, nil
}

// Stats returns the counts for one collection.
func (s *CollectionService) Stats(ctx context.Context, collection string) (*domain.CollectionInfo, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}
	infos, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Name == collection {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("collection %q: %w", collection, domain.ErrNotFound)
}
