package services

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/logger"
	"github.com/custodia-labs/ragpipe/internal/metrics"
	"github.com/custodia-labs/ragpipe/internal/retry"
)

// BatchEmbedder wraps an EmbeddingService with batching, the shared retry
// policy, an optional vector cache and metrics.
type BatchEmbedder struct {
	svc       driven.EmbeddingService
	policy    retry.Policy
	batchSize int
	cache     *vectorCache
	metrics   *metrics.Metrics
}

// EmbedderOption configures a BatchEmbedder.
type EmbedderOption func(*BatchEmbedder)

// WithRetryPolicy sets the retry policy applied to each batch.
func WithRetryPolicy(p retry.Policy) EmbedderOption {
	return func(b *BatchEmbedder) {
		b.policy = p
	}
}

// WithBatchSize sets the default number of texts per call.
func WithBatchSize(n int) EmbedderOption {
	return func(b *BatchEmbedder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithCache memoises up to size vectors keyed by model and text.
// A size of zero disables caching.
func WithCache(size int) EmbedderOption {
	return func(b *BatchEmbedder) {
		if size > 0 {
			b.cache = newVectorCache(size)
		} else {
			b.cache = nil
		}
	}
}

// WithEmbedderMetrics records batch outcomes and latency.
func WithEmbedderMetrics(m *metrics.Metrics) EmbedderOption {
	return func(b *BatchEmbedder) {
		b.metrics = m
	}
}

// NewBatchEmbedder wraps svc.
func NewBatchEmbedder(svc driven.EmbeddingService, opts ...EmbedderOption) *BatchEmbedder {
	b := &BatchEmbedder{
		svc:       svc,
		policy:    retry.Default(),
		batchSize: domain.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Service returns the wrapped embedding service.
func (b *BatchEmbedder) Service() driven.EmbeddingService {
	return b.svc
}

// ModelName returns the wrapped service's model.
func (b *BatchEmbedder) ModelName() string {
	return b.svc.ModelName()
}

// WithService returns a copy of b that embeds through svc, sharing the
// cache, policy and metrics.
func (b *BatchEmbedder) WithService(svc driven.EmbeddingService) *BatchEmbedder {
	cp := *b
	cp.svc = svc
	return &cp
}

// EmbedQuery embeds a single query text. Failures are returned as an
// EmbeddingError (Batch -1) wrapping domain.ErrEmbeddingUnavailable.
func (b *BatchEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, errs := b.embed(ctx, []string{text}, 1, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return vecs[0], nil
}

// EmbedBatches embeds texts in groups of batchSize (zero means the
// default). The result has one slot per text; a slot is nil when its
// batch failed, and that batch's error is returned while other batches
// still run. Errors are *domain.EmbeddingError values wrapping
// domain.ErrEmbeddingUnavailable.
func (b *BatchEmbedder) EmbedBatches(ctx context.Context, texts []string, batchSize int) ([][]float32, []*domain.EmbeddingError) {
	if batchSize <= 0 {
		batchSize = b.batchSize
	}
	return b.embed(ctx, texts, batchSize, false)
}

func (b *BatchEmbedder) embed(ctx context.Context, texts []string, batchSize int, query bool) ([][]float32, []*domain.EmbeddingError) {
	out := make([][]float32, len(texts))
	model := b.svc.ModelName()

	// Only texts missing from the cache go to the service.
	var pending []int
	for i, t := range texts {
		if v, ok := b.cache.get(model, t); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	var errs []*domain.EmbeddingError
	for batch, start := 0, 0; start < len(pending); batch, start = batch+1, start+batchSize {
		end := min(start+batchSize, len(pending))
		idx := pending[start:end]

		inputs := make([]string, len(idx))
		for j, i := range idx {
			inputs[j] = texts[i]
		}

		vecs, attempts, err := b.callWithRetry(ctx, inputs)
		if err != nil {
			n := batch
			if query {
				n = -1
			}
			errs = append(errs, &domain.EmbeddingError{
				Batch:    n,
				Attempts: attempts,
				Err:      fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err),
			})
			logger.Debug("Embedding batch %d failed after %d attempt(s): %v", batch, attempts, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		for j, i := range idx {
			out[i] = vecs[j]
			b.cache.put(model, texts[i], vecs[j])
		}
	}
	return out, errs
}

func (b *BatchEmbedder) callWithRetry(ctx context.Context, inputs []string) ([][]float32, int, error) {
	var vecs [][]float32
	start := time.Now()
	attempts, err := b.policy.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		vecs, err = b.svc.EmbedBatch(ctx, inputs)
		if err != nil {
			return err
		}
		if len(vecs) != len(inputs) {
			return retry.Permanent(fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(inputs)))
		}
		return nil
	})
	b.metrics.EmbedBatch(time.Since(start), err)
	return vecs, attempts, err
}

// vectorCache is a bounded least-recently-used map of embeddings. A nil
// cache misses every lookup.
type vectorCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	vec []float32
}

func newVectorCache(size int) *vectorCache {
	return &vectorCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

func (c *vectorCache) get(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[cacheKey(model, text)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

func (c *vectorCache) put(model, text string, vec []float32) {
	if c == nil || vec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(model, text)
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, vec: vec})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *vectorCache) count() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
