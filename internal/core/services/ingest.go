package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
	"github.com/custodia-labs/ragpipe/internal/metrics"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// PipelineFactory builds the chunking pipeline for a chunk size.
type PipelineFactory func(chunkSize int) (driven.PostProcessorPipeline, error)

// IngestService runs fetch, normalise, chunk, embed and store for a
// source. Documents are processed on a bounded worker pool; writes for the
// same source are serialised while different sources proceed in parallel.
type IngestService struct {
	fetcher      driven.SourceFetcher
	normalisers  driven.NormaliserRegistry
	embedder     *BatchEmbedder
	store        driven.RecordStore
	newPipeline  PipelineFactory
	embedFactory driven.EmbeddingFactory
	defaults     domain.IngestOptions
	maxSources   int
	metrics      *metrics.Metrics
	locks        *keyedMutex
}

// IngestOption configures an IngestService.
type IngestOption func(*IngestService)

// WithPipelineFactory sets how chunking pipelines are built.
func WithPipelineFactory(f PipelineFactory) IngestOption {
	return func(s *IngestService) {
		s.newPipeline = f
	}
}

// WithEmbeddingFactory enables per-call embedding model overrides.
func WithEmbeddingFactory(f driven.EmbeddingFactory) IngestOption {
	return func(s *IngestService) {
		s.embedFactory = f
	}
}

// WithIngestSettings sets defaults for zero options and the source limit.
func WithIngestSettings(cfg domain.IngestSettings) IngestOption {
	return func(s *IngestService) {
		s.defaults = cfg.Defaults
		s.maxSources = cfg.MaxSources
	}
}

// WithIngestMetrics records pipeline metrics.
func WithIngestMetrics(m *metrics.Metrics) IngestOption {
	return func(s *IngestService) {
		s.metrics = m
	}
}

// NewIngestService creates an ingestion service. embedder may be nil, in
// which case every call fails with domain.ErrEmbeddingUnavailable.
func NewIngestService(
	fetcher driven.SourceFetcher,
	normalisers driven.NormaliserRegistry,
	embedder *BatchEmbedder,
	store driven.RecordStore,
	opts ...IngestOption,
) *IngestService {
	s := &IngestService{
		fetcher:     fetcher,
		normalisers: normalisers,
		embedder:    embedder,
		store:       store,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest fetches source into collection and returns a summary of stored
// and failed documents. Only a store that cannot serve requests, a missing
// embedder or cancellation of ctx fail the whole call.
func (s *IngestService) Ingest(
	ctx context.Context, collection, source string, opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}
	ref, err := domain.ParseSourceRef(source)
	if err != nil {
		return nil, err
	}
	opts = s.resolve(opts)

	embedder, release, err := s.embedderFor(opts.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	defer release()

	pipeline, err := s.pipeline(opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	done := s.metrics.IngestStarted()
	defer done()

	logger.Section("Ingest")
	logger.Debug("Source: %s (%s), collection %q, model %s", ref.Raw, ref.Kind, collection, embedder.ModelName())
	logger.Debug("Options: chunk=%d depth=%d concurrency=%d batch=%d timeout=%s",
		opts.ChunkSize, opts.MaxDepth, opts.MaxConcurrency, opts.BatchSize, opts.CrawlTimeout)

	run := &ingestRun{
		svc:        s,
		collection: collection,
		embedder:   embedder,
		pipeline:   pipeline,
		batchSize:  opts.BatchSize,
		summary: &domain.IngestSummary{
			Collection: collection,
			Source:     ref.Raw,
			Succeeded:  []domain.IngestedDocument{},
			Failed:     []domain.Failure{},
			Started:    time.Now(),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	docs, fails := s.fetcher.Fetch(gctx, ref, driven.FetchOptions{
		MaxDepth:       opts.MaxDepth,
		MaxConcurrency: opts.MaxConcurrency,
		Timeout:        opts.CrawlTimeout,
	})

	for docs != nil || fails != nil {
		select {
		case raw, ok := <-docs:
			if !ok {
				docs = nil
				continue
			}
			if gctx.Err() != nil {
				continue // draining after an abort
			}
			g.Go(func() error {
				return run.process(gctx, raw)
			})
		case f, ok := <-fails:
			if !ok {
				fails = nil
				continue
			}
			run.fail(f)
		}
	}

	err = g.Wait()
	run.summary.Finished = time.Now()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Warn("Ingest of %s aborted: %v", ref.Raw, err)
		return run.summary, err
	}

	logger.Info("Ingested %s: %d document(s), %d chunk(s), %d failure(s) in %s",
		ref.Raw, len(run.summary.Succeeded), run.summary.Chunks(), len(run.summary.Failed),
		run.summary.Duration().Round(time.Millisecond))
	return run.summary, nil
}

// IngestMany ingests sources one after another into collection.
// A source that cannot be started (bad reference) is reported as a failure
// and the batch continues.
func (s *IngestService) IngestMany(
	ctx context.Context, collection string, sources []string, opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources given", domain.ErrInvalidInput)
	}
	if s.maxSources > 0 && len(sources) > s.maxSources {
		return nil, fmt.Errorf("%w: %d sources given, limit is %d", domain.ErrSourceLimit, len(sources), s.maxSources)
	}

	total := &domain.IngestSummary{
		Collection: collection,
		Source:     strings.Join(sources, ", "),
		Succeeded:  []domain.IngestedDocument{},
		Failed:     []domain.Failure{},
		Started:    time.Now(),
	}

	for _, src := range sources {
		summary, err := s.Ingest(ctx, collection, src, opts)
		total.Merge(summary)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrInvalidInput) && summary == nil && strings.TrimSpace(collection) != "" {
			total.Failed = append(total.Failed, domain.Failure{
				URI:    src,
				Stage:  domain.StageFetch,
				Reason: domain.ReasonFetch,
				Err:    err,
			})
			continue
		}
		total.Finished = time.Now()
		return total, err
	}

	total.Finished = time.Now()
	return total, nil
}

// resolve fills zero options from the configured defaults, then from the
// built-in defaults.
func (s *IngestService) resolve(o domain.IngestOptions) domain.IngestOptions {
	d := s.defaults
	if o.ChunkSize == 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.EmbeddingModel == "" {
		o.EmbeddingModel = d.EmbeddingModel
	}
	if o.BatchSize == 0 {
		o.BatchSize = d.BatchSize
	}
	if o.CrawlTimeout == 0 {
		o.CrawlTimeout = d.CrawlTimeout
	}
	o.NoFollow = o.NoFollow || d.NoFollow
	return o.WithDefaults()
}

// embedderFor returns the embedder for model and a release func. A model
// other than the configured one is built through the factory and closed
// on release.
func (s *IngestService) embedderFor(model string) (*BatchEmbedder, func(), error) {
	noop := func() {}
	if s.embedder == nil {
		return nil, noop, fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable)
	}
	if model == "" || model == s.embedder.ModelName() {
		return s.embedder, noop, nil
	}
	if s.embedFactory == nil {
		return nil, noop, fmt.Errorf("%w: cannot switch to model %q", domain.ErrEmbeddingUnavailable, model)
	}

	svc, err := s.embedFactory(model)
	if err != nil {
		return nil, noop, fmt.Errorf("%w: model %q: %w", domain.ErrEmbeddingUnavailable, model, err)
	}
	logger.Debug("Using embedding model override %s", model)
	return s.embedder.WithService(svc), func() { svc.Close() }, nil
}

func (s *IngestService) pipeline(chunkSize int) (driven.PostProcessorPipeline, error) {
	if s.newPipeline == nil {
		return nil, errors.New("no chunking pipeline configured")
	}
	p, err := s.newPipeline(chunkSize)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// ingestRun holds the state of one Ingest call.
type ingestRun struct {
	svc        *IngestService
	collection string
	embedder   *BatchEmbedder
	pipeline   driven.PostProcessorPipeline
	batchSize  int

	mu      sync.Mutex
	summary *domain.IngestSummary
}

// process runs one raw document through the pipeline. Per-document
// failures are recorded in the summary; the returned error aborts the
// whole ingestion.
func (r *ingestRun) process(ctx context.Context, raw domain.RawDocument) error {
	s := r.svc
	s.metrics.DocumentFetched(string(raw.Kind))
	logger.Debug("Processing: %s", raw.URI)

	doc, err := s.normalisers.Normalise(ctx, &raw)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stage := domain.StageNormalise
		var ce *domain.ChunkingError
		if errors.As(err, &ce) {
			stage = domain.StageChunk
		}
		r.failErr(raw.URI, stage, err)
		return nil
	}

	chunks, err := r.pipeline.Process(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ce *domain.ChunkingError
		if !errors.As(err, &ce) {
			err = &domain.ChunkingError{URI: doc.URI, Err: err}
		}
		r.failErr(doc.URI, domain.StageChunk, err)
		return nil
	}
	if len(chunks) == 0 {
		r.failErr(doc.URI, domain.StageNormalise, domain.ErrEmptyDocument)
		return nil
	}
	s.metrics.Chunks(len(chunks))

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vecs, embedErrs := r.embedder.EmbedBatches(ctx, texts, r.batchSize)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(embedErrs) > 0 {
		errs := make([]error, len(embedErrs))
		for i, e := range embedErrs {
			errs[i] = e
		}
		r.failErr(doc.URI, domain.StageEmbed, errors.Join(errs...))
		return nil
	}

	now := time.Now().UTC()
	records := make([]domain.Record, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		records[i] = domain.Record{
			Collection: r.collection,
			Source:     doc.URI,
			ChunkIndex: c.Index,
			Content:    c.Content,
			HeaderPath: c.HeaderPath,
			CharCount:  c.CharCount,
			WordCount:  c.WordCount,
			Metadata:   c.Metadata,
			Embedding:  vecs[i],
			CreatedAt:  now,
		}
	}

	unlock := s.locks.Lock(r.collection + "\x00" + doc.URI)
	err = s.store.ReplaceSource(ctx, r.collection, doc.URI, records)
	unlock()
	s.metrics.StoreReplace(err)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.failErr(doc.URI, domain.StageStore, err)
		return nil
	}

	r.mu.Lock()
	r.summary.Succeeded = append(r.summary.Succeeded, domain.IngestedDocument{
		URI:        doc.URI,
		Kind:       doc.Kind,
		Title:      doc.Title,
		Chunks:     len(records),
		Characters: utf8.RuneCountInString(doc.Content),
	})
	r.mu.Unlock()
	logger.Debug("Stored %d chunk(s) for %s", len(records), doc.URI)
	return nil
}

func (r *ingestRun) failErr(uri string, stage domain.Stage, err error) {
	r.fail(domain.Failure{URI: uri, Stage: stage, Reason: reasonFor(stage, err), Err: err})
}

func (r *ingestRun) fail(f domain.Failure) {
	if f.Reason == "" {
		f.Reason = reasonFor(f.Stage, f.Err)
	}
	r.svc.metrics.Failure(string(f.Stage))
	logger.Debug("Failed %s at %s: %v", f.URI, f.Stage, f.Err)

	r.mu.Lock()
	r.summary.Failed = append(r.summary.Failed, f)
	r.mu.Unlock()
}

var stageReasons = map[domain.Stage]string{
	domain.StageFetch:     domain.ReasonFetch,
	domain.StageNormalise: domain.ReasonNormalise,
	domain.StageChunk:     domain.ReasonChunk,
	domain.StageEmbed:     domain.ReasonEmbed,
	domain.StageStore:     domain.ReasonStore,
}

// reasonFor picks the summary reason: the typed error's reason when there
// is one, else the stage's.
func reasonFor(stage domain.Stage, err error) string {
	var (
		fe *domain.FetchError
		ce *domain.ChunkingError
		ee *domain.EmbeddingError
		se *domain.StoreError
	)
	if err != nil && (errors.Is(err, domain.ErrSkipped) ||
		errors.As(err, &fe) || errors.As(err, &ce) || errors.As(err, &ee) || errors.As(err, &se)) {
		return domain.ReasonFor(err)
	}
	if r, ok := stageReasons[stage]; ok {
		return r
	}
	return string(stage)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
