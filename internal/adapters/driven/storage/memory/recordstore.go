package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure RecordStore implements the interface.
var _ driven.RecordStore = (*RecordStore)(nil)

// RecordStore is an in-memory implementation of driven.RecordStore.
// A replace swaps a source's slice under the write lock, so searches
// holding the read lock see either the old set or the new one.
type RecordStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	closed      bool
}

type memCollection struct {
	dims    int
	sources map[string]*memSource
}

type memSource struct {
	records []domain.Record
	updated time.Time
}

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		collections: make(map[string]*memCollection),
	}
}

// ReplaceSource swaps the records stored for source.
func (s *RecordStore) ReplaceSource(ctx context.Context, collection, source string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return storeErr("replace", collection, source, err)
	}
	dims := 0
	if len(records) > 0 {
		dims = len(records[0].Embedding)
		if dims == 0 {
			return storeErr("replace", collection, source,
				fmt.Errorf("%w: record %d has no embedding", domain.ErrInvalidInput, records[0].ChunkIndex))
		}
	}
	seen := make(map[int]bool, len(records))
	for i := range records {
		if len(records[i].Embedding) != dims {
			return storeErr("replace", collection, source, fmt.Errorf("%w: record %d has %d, expected %d",
				domain.ErrDimensionMismatch, records[i].ChunkIndex, len(records[i].Embedding), dims))
		}
		if seen[records[i].ChunkIndex] {
			return storeErr("replace", collection, source,
				fmt.Errorf("%w: duplicate chunk index %d", domain.ErrInvalidInput, records[i].ChunkIndex))
		}
		seen[records[i].ChunkIndex] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storeErr("replace", collection, source, domain.ErrStoreUnavailable)
	}

	c := s.collections[collection]
	if len(records) == 0 {
		if c != nil {
			delete(c.sources, source)
		}
		return nil
	}
	if c == nil {
		c = &memCollection{dims: dims, sources: make(map[string]*memSource)}
		s.collections[collection] = c
	}
	if c.dims != dims {
		if othersRemain(c, source) {
			return storeErr("replace", collection, source, fmt.Errorf("%w: collection has %d, got %d",
				domain.ErrDimensionMismatch, c.dims, dims))
		}
		c.dims = dims
	}

	now := time.Now().UTC()
	stored := make([]domain.Record, len(records))
	for i := range records {
		stored[i] = cloneRecord(&records[i])
		stored[i].Collection = collection
		stored[i].Source = source
		if stored[i].CreatedAt.IsZero() {
			stored[i].CreatedAt = now
		}
	}
	c.sources[source] = &memSource{records: stored, updated: now}
	return nil
}

// Search scores every record in the collection.
func (s *RecordStore) Search(
	_ context.Context, collection string, embedding []float32, k int, filter domain.Filter,
) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storeErr("search", collection, filter.Source, domain.ErrStoreUnavailable)
	}

	results := []domain.ScoredRecord{}
	c := s.collections[collection]
	if c == nil || k <= 0 || countRecords(c) == 0 {
		return results, nil
	}
	if c.dims != len(embedding) {
		return nil, storeErr("search", collection, filter.Source, fmt.Errorf("%w: collection has %d, query has %d",
			domain.ErrDimensionMismatch, c.dims, len(embedding)))
	}

	for _, src := range c.sources {
		for i := range src.records {
			r := &src.records[i]
			if !filter.Matches(r) {
				continue
			}
			results = append(results, domain.ScoredRecord{
				Record: cloneRecord(r),
				Score:  domain.Cosine(embedding, r.Embedding),
			})
		}
	}
	return domain.RankRecords(results, k), nil
}

// DeleteSource removes every record of source.
func (s *RecordStore) DeleteSource(ctx context.Context, collection, source string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeErr("delete", collection, source, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storeErr("delete", collection, source, domain.ErrStoreUnavailable)
	}

	c := s.collections[collection]
	if c == nil {
		return 0, nil
	}
	src, ok := c.sources[source]
	if !ok {
		return 0, nil
	}
	delete(c.sources, source)
	return len(src.records), nil
}

// ListSources summarises the sources in a collection, ordered by source.
func (s *RecordStore) ListSources(_ context.Context, collection string) ([]domain.SourceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storeErr("list", collection, "", domain.ErrStoreUnavailable)
	}

	out := []domain.SourceInfo{}
	c := s.collections[collection]
	if c == nil {
		return out, nil
	}
	for name, src := range c.sources {
		info := domain.SourceInfo{
			Source:    name,
			Records:   len(src.records),
			UpdatedAt: src.updated.Format(time.RFC3339Nano),
		}
		if len(src.records) > 0 {
			info.Origin = src.records[0].Metadata[domain.MetaOrigin]
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// ListCollections summarises every collection, ordered by name.
func (s *RecordStore) ListCollections(_ context.Context) ([]domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storeErr("collections", "", "", domain.ErrStoreUnavailable)
	}

	out := make([]domain.CollectionInfo, 0, len(s.collections))
	for name, c := range s.collections {
		out = append(out, domain.CollectionInfo{
			Name:       name,
			Dimensions: c.dims,
			Sources:    len(c.sources),
			Records:    countRecords(c),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Count returns the number of records in a collection.
func (s *RecordStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storeErr("count", collection, "", domain.ErrStoreUnavailable)
	}
	c := s.collections[collection]
	if c == nil {
		return 0, nil
	}
	return countRecords(c), nil
}

// Close marks the store closed and drops its contents.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

func countRecords(c *memCollection) int {
	n := 0
	for _, src := range c.sources {
		n += len(src.records)
	}
	return n
}

func othersRemain(c *memCollection, source string) bool {
	for name, src := range c.sources {
		if name != source && len(src.records) > 0 {
			return true
		}
	}
	return false
}

func cloneRecord(r *domain.Record) domain.Record {
	out := *r
	out.HeaderPath = append([]string(nil), r.HeaderPath...)
	out.Embedding = append([]float32(nil), r.Embedding...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func storeErr(op, collection, source string, err error) error {
	return &domain.StoreError{Op: op, Collection: collection, Source: source, Err: err}
}
