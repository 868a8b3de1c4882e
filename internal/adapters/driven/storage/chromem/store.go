package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.RecordStore = (*Store)(nil)

const sidecarName = "collections.json"

// Reserved metadata keys.
const (
	keySource     = "_source"
	keyChunkIndex = "_chunk_index"
	keyHeaderPath = "_header_path"
	keyCharCount  = "_char_count"
	keyWordCount  = "_word_count"
	keyCreatedAt  = "_created_at"
)

var errNoEmbedder = errors.New("chromem store only accepts precomputed embeddings")

// Store is a chromem-go backed RecordStore.
type Store struct {
	db  *chromemgo.DB
	dir string

	mu     sync.Mutex // guards state, locks and closed
	state  sidecar
	locks  map[string]*sync.RWMutex
	closed bool

	addDocuments func(context.Context, *chromemgo.Collection, []chromemgo.Document) error
}

type sidecar struct {
	Collections map[string]*collectionState `json:"collections"`
}

type collectionState struct {
	Dimensions int                     `json:"dimensions"`
	Sources    map[string]*sourceState `json:"sources"`
}

type sourceState struct {
	Records   int    `json:"records"`
	Origin    string `json:"origin,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// NewStore opens (creating if needed) a persistent chromem database in dir.
// If dir is empty, defaults to ~/.ragpipe/data/chromem.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".ragpipe", "data", "chromem")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// The sidecar sits next to the database directory, not inside it.
	db, err := chromemgo.NewPersistentDB(filepath.Join(dir, "db"), false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database: %w", err)
	}

	s := &Store{
		db:    db,
		dir:   dir,
		state: sidecar{Collections: make(map[string]*collectionState)},
		locks: make(map[string]*sync.RWMutex),

		addDocuments: addAll,
	}
	if err := s.loadSidecar(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the database directory.
func (s *Store) Dir() string {
	return s.dir
}

// ReplaceSource swaps the source's documents while holding the
// collection's write lock. The new set is written first and the stale IDs
// removed after; on any failure the previous documents are put back.
func (s *Store) ReplaceSource(ctx context.Context, collection, source string, records []domain.Record) error {
	fail := func(err error) error {
		return &domain.StoreError{Op: "replace", Collection: collection, Source: source, Err: err}
	}

	dims, err := recordDimensions(records)
	if err != nil {
		return fail(err)
	}

	lock, err := s.lockFor(collection)
	if err != nil {
		return fail(err)
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := s.checkDimensions(collection, source, dims); err != nil {
		return fail(err)
	}

	if len(records) == 0 {
		return s.removeSource(ctx, collection, source, fail)
	}

	now := time.Now().UTC()
	docs := make([]chromemgo.Document, len(records))
	for i := range records {
		if docs[i], err = toDocument(source, &records[i], now); err != nil {
			return fail(err)
		}
	}

	coll, err := s.db.GetOrCreateCollection(collection, nil, noEmbedder)
	if err != nil {
		return fail(err)
	}
	previous, err := s.snapshot(ctx, coll, collection, source)
	if err != nil {
		return fail(fmt.Errorf("reading current records: %w", err))
	}

	written := make(map[string]bool, len(docs))
	for _, d := range docs {
		written[d.ID] = true
	}
	var stale []string
	for _, d := range previous {
		if !written[d.ID] {
			stale = append(stale, d.ID)
		}
	}

	err = s.addDocuments(ctx, coll, docs)
	if err == nil {
		// AddDocuments stops early without an error once ctx is done.
		err = ctx.Err()
	}
	if err == nil && len(stale) > 0 {
		err = coll.Delete(ctx, nil, nil, stale...)
	}
	if err != nil {
		if rerr := s.restore(ctx, coll, previous, written); rerr != nil {
			logger.Warn("chromem: restoring %s in %s: %v", source, collection, rerr)
		}
		return fail(fmt.Errorf("writing records: %w", err))
	}

	return s.update(func(st *sidecar) {
		c := st.Collections[collection]
		if c == nil {
			c = &collectionState{Sources: make(map[string]*sourceState)}
			st.Collections[collection] = c
		}
		c.Dimensions = dims
		c.Sources[source] = &sourceState{
			Records:   len(records),
			Origin:    records[0].Metadata[domain.MetaOrigin],
			UpdatedAt: now.Format(time.RFC3339Nano),
		}
	}, fail)
}

// snapshot copies every document of source. Callers hold the collection's
// write lock.
func (s *Store) snapshot(ctx context.Context, coll *chromemgo.Collection, collection, source string) ([]chromemgo.Document, error) {
	s.mu.Lock()
	dims := 0
	if c := s.state.Collections[collection]; c != nil {
		dims = c.Dimensions
	}
	s.mu.Unlock()

	n := coll.Count()
	if n == 0 || dims == 0 {
		return nil, nil
	}
	query := make([]float32, dims)
	for i := range query {
		query[i] = 1
	}
	hits, err := coll.QueryEmbedding(ctx, query, n, map[string]string{keySource: source}, nil)
	if err != nil {
		return nil, err
	}
	docs := make([]chromemgo.Document, len(hits))
	for i, h := range hits {
		docs[i] = chromemgo.Document{
			ID:        h.ID,
			Metadata:  maps.Clone(h.Metadata),
			Embedding: slices.Clone(h.Embedding),
			Content:   h.Content,
		}
	}
	return docs, nil
}

// restore puts previous back and drops the IDs in written that it does
// not cover. It runs even when ctx is already cancelled.
func (s *Store) restore(ctx context.Context, coll *chromemgo.Collection, previous []chromemgo.Document, written map[string]bool) error {
	ctx = context.WithoutCancel(ctx)
	kept := make(map[string]bool, len(previous))
	for _, d := range previous {
		kept[d.ID] = true
	}
	var added []string
	for id := range written {
		if !kept[id] {
			added = append(added, id)
		}
	}

	var errs []error
	if len(added) > 0 {
		errs = append(errs, coll.Delete(ctx, nil, nil, added...))
	}
	if len(previous) > 0 {
		errs = append(errs, coll.AddDocuments(ctx, previous, runtime.NumCPU()))
	}
	return errors.Join(errs...)
}

func addAll(ctx context.Context, coll *chromemgo.Collection, docs []chromemgo.Document) error {
	return coll.AddDocuments(ctx, docs, runtime.NumCPU())
}

// Search scores the whole collection, then filters and ranks. Fetching
// every candidate keeps tie ordering deterministic.
func (s *Store) Search(
	ctx context.Context, collection string, embedding []float32, k int, filter domain.Filter,
) ([]domain.ScoredRecord, error) {
	fail := func(err error) error {
		return &domain.StoreError{Op: "search", Collection: collection, Source: filter.Source, Err: err}
	}

	lock, err := s.lockFor(collection)
	if err != nil {
		return nil, fail(err)
	}
	lock.RLock()
	defer lock.RUnlock()

	results := []domain.ScoredRecord{}
	s.mu.Lock()
	state := s.state.Collections[collection]
	total, dims := 0, 0
	if state != nil {
		dims = state.Dimensions
		for _, src := range state.Sources {
			total += src.Records
		}
	}
	s.mu.Unlock()

	coll := s.db.GetCollection(collection, noEmbedder)
	if coll == nil || total == 0 || k <= 0 {
		return results, nil
	}
	if dims != len(embedding) {
		return nil, fail(fmt.Errorf("%w: collection has %d, query has %d",
			domain.ErrDimensionMismatch, dims, len(embedding)))
	}

	n := coll.Count()
	if n == 0 {
		return results, nil
	}
	hits, err := coll.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fail(err)
	}

	for _, hit := range hits {
		rec, err := fromResult(collection, hit)
		if err != nil {
			logger.Warn("chromem: skipping record %s: %v", hit.ID, err)
			continue
		}
		if !filter.Matches(&rec) {
			continue
		}
		results = append(results, domain.ScoredRecord{
			Record: rec,
			Score:  domain.Cosine(embedding, rec.Embedding),
		})
	}
	return domain.RankRecords(results, k), nil
}

// DeleteSource removes every record of source.
func (s *Store) DeleteSource(ctx context.Context, collection, source string) (int, error) {
	fail := func(err error) error {
		return &domain.StoreError{Op: "delete", Collection: collection, Source: source, Err: err}
	}

	lock, err := s.lockFor(collection)
	if err != nil {
		return 0, fail(err)
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	removed := 0
	if c := s.state.Collections[collection]; c != nil {
		if src := c.Sources[source]; src != nil {
			removed = src.Records
		}
	}
	s.mu.Unlock()
	if removed == 0 {
		return 0, nil
	}

	if err := s.removeSource(ctx, collection, source, fail); err != nil {
		return 0, err
	}
	return removed, nil
}

// removeSource deletes a source's documents and sidecar entry. Callers
// hold the collection's write lock.
func (s *Store) removeSource(ctx context.Context, collection, source string, fail func(error) error) error {
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	coll := s.db.GetCollection(collection, noEmbedder)
	if coll == nil {
		return nil
	}
	previous, err := s.snapshot(ctx, coll, collection, source)
	if err != nil {
		return fail(fmt.Errorf("reading current records: %w", err))
	}
	if err := coll.Delete(ctx, map[string]string{keySource: source}, nil); err != nil {
		if rerr := s.restore(ctx, coll, previous, nil); rerr != nil {
			logger.Warn("chromem: restoring %s in %s: %v", source, collection, rerr)
		}
		return fail(err)
	}
	return s.update(func(st *sidecar) {
		if c := st.Collections[collection]; c != nil {
			delete(c.Sources, source)
		}
	}, fail)
}

// ListSources summarises the sources in a collection from the sidecar.
func (s *Store) ListSources(_ context.Context, collection string) ([]domain.SourceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &domain.StoreError{Op: "list", Collection: collection, Err: domain.ErrStoreUnavailable}
	}

	out := []domain.SourceInfo{}
	c := s.state.Collections[collection]
	if c == nil {
		return out, nil
	}
	for name, src := range c.Sources {
		out = append(out, domain.SourceInfo{
			Source:    name,
			Origin:    src.Origin,
			Records:   src.Records,
			UpdatedAt: src.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// ListCollections summarises every collection from the sidecar.
func (s *Store) ListCollections(_ context.Context) ([]domain.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &domain.StoreError{Op: "collections", Err: domain.ErrStoreUnavailable}
	}

	out := make([]domain.CollectionInfo, 0, len(s.state.Collections))
	for name, c := range s.state.Collections {
		info := domain.CollectionInfo{Name: name, Dimensions: c.Dimensions, Sources: len(c.Sources)}
		for _, src := range c.Sources {
			info.Records += src.Records
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(_ context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &domain.StoreError{Op: "count", Collection: collection, Err: domain.ErrStoreUnavailable}
	}

	n := 0
	if c := s.state.Collections[collection]; c != nil {
		for _, src := range c.Sources {
			n += src.Records
		}
	}
	return n, nil
}

// Close marks the store closed. Documents are already on disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lockFor returns the collection's lock, failing once the store is closed.
func (s *Store) lockFor(collection string) (*sync.RWMutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrStoreUnavailable
	}
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[collection] = l
	}
	return l, nil
}

// checkDimensions verifies dims against the collection. A collection
// holding no records besides source adopts any dimensionality.
func (s *Store) checkDimensions(collection, source string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.state.Collections[collection]
	if c == nil || dims == 0 || c.Dimensions == dims {
		return nil
	}
	for name, src := range c.Sources {
		if name != source && src.Records > 0 {
			return fmt.Errorf("%w: collection has %d, got %d", domain.ErrDimensionMismatch, c.Dimensions, dims)
		}
	}
	return nil
}

// update applies fn to the sidecar and persists it.
func (s *Store) update(fn func(*sidecar), fail func(error) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	if err := s.saveSidecar(); err != nil {
		return fail(err)
	}
	return nil
}

func (s *Store) loadSidecar() error {
	data, err := os.ReadFile(filepath.Join(s.dir, sidecarName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", sidecarName, err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("parsing %s: %w", sidecarName, err)
	}
	if s.state.Collections == nil {
		s.state.Collections = make(map[string]*collectionState)
	}
	for _, c := range s.state.Collections {
		if c.Sources == nil {
			c.Sources = make(map[string]*sourceState)
		}
	}
	return nil
}

// saveSidecar writes the sidecar atomically. Callers hold s.mu.
func (s *Store) saveSidecar() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", sidecarName, err)
	}
	path := filepath.Join(s.dir, sidecarName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", sidecarName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", sidecarName, err)
	}
	return nil
}

func noEmbedder(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func toDocument(source string, r *domain.Record, now time.Time) (chromemgo.Document, error) {
	meta := make(map[string]string, len(r.Metadata)+6)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	headerJSON, err := json.Marshal(r.HeaderPath)
	if err != nil {
		return chromemgo.Document{}, fmt.Errorf("marshalling header path: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	meta[keySource] = source
	meta[keyChunkIndex] = strconv.Itoa(r.ChunkIndex)
	meta[keyHeaderPath] = string(headerJSON)
	meta[keyCharCount] = strconv.Itoa(r.CharCount)
	meta[keyWordCount] = strconv.Itoa(r.WordCount)
	meta[keyCreatedAt] = created.Format(time.RFC3339Nano)

	rec := domain.Record{Source: source, ChunkIndex: r.ChunkIndex}
	return chromemgo.Document{
		ID:        rec.ID(),
		Metadata:  meta,
		Embedding: append([]float32(nil), r.Embedding...),
		Content:   r.Content,
	}, nil
}

func fromResult(collection string, res chromemgo.Result) (domain.Record, error) {
	rec := domain.Record{
		Collection: collection,
		Source:     res.Metadata[keySource],
		Content:    res.Content,
		Embedding:  res.Embedding,
		Metadata:   make(map[string]string, len(res.Metadata)),
	}
	var err error
	if rec.ChunkIndex, err = strconv.Atoi(res.Metadata[keyChunkIndex]); err != nil {
		return rec, fmt.Errorf("chunk index: %w", err)
	}
	rec.CharCount, _ = strconv.Atoi(res.Metadata[keyCharCount])
	rec.WordCount, _ = strconv.Atoi(res.Metadata[keyWordCount])
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, res.Metadata[keyCreatedAt])
	if hp := res.Metadata[keyHeaderPath]; hp != "" && hp != "null" {
		if err := json.Unmarshal([]byte(hp), &rec.HeaderPath); err != nil {
			return rec, fmt.Errorf("header path: %w", err)
		}
	}
	for k, v := range res.Metadata {
		if !strings.HasPrefix(k, "_") {
			rec.Metadata[k] = v
		}
	}
	return rec, nil
}

func recordDimensions(records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	dims := len(records[0].Embedding)
	if dims == 0 {
		return 0, fmt.Errorf("%w: record %d has no embedding", domain.ErrInvalidInput, records[0].ChunkIndex)
	}
	seen := make(map[int]bool, len(records))
	for i := range records {
		if len(records[i].Embedding) != dims {
			return 0, fmt.Errorf("%w: record %d has %d, expected %d",
				domain.ErrDimensionMismatch, records[i].ChunkIndex, len(records[i].Embedding), dims)
		}
		// Documents are keyed by chunk index, so a repeat would overwrite.
		if seen[records[i].ChunkIndex] {
			return 0, fmt.Errorf("%w: duplicate chunk index %d", domain.ErrInvalidInput, records[i].ChunkIndex)
		}
		seen[records[i].ChunkIndex] = true
	}
	return dims, nil
}
