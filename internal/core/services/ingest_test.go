package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/normalisers"
)

type ingestFixture struct {
	fetcher *mockFetcher
	embed   *mockEmbedding
	store   *memory.RecordStore
	svc     *IngestService
}

func newIngestFixture(t *testing.T, fetcher *mockFetcher, opts ...IngestOption) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		fetcher: fetcher,
		embed:   newMockEmbedding(),
		store:   memory.NewRecordStore(),
	}
	t.Cleanup(func() { _ = f.store.Close() })

	embedder := NewBatchEmbedder(f.embed, WithRetryPolicy(fastPolicy(1)))
	opts = append([]IngestOption{WithPipelineFactory(defaultPipeline)}, opts...)
	f.svc = NewIngestService(fetcher, normalisers.NewRegistry(), embedder, f.store, opts...)
	return f
}

func sectioned(n, size int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		header := fmt.Sprintf("# Part %d\n\n", i)
		b.WriteString(header)
		b.WriteString(strings.Repeat("word ", (size-len(header))/5))
		b.WriteString("\n")
	}
	return b.String()
}

func TestIngestService_Ingest(t *testing.T) {
	fetcher := &mockFetcher{docs: []domain.RawDocument{
		textDoc("https://docs.example.com/a.md", sectioned(3, 800)),
		textDoc("https://docs.example.com/b.md", "# B\n\nShort page about widgets.\n"),
	}}
	f := newIngestFixture(t, fetcher)
	ctx := context.Background()

	summary, err := f.svc.Ingest(ctx, "docs", "https://docs.example.com", domain.IngestOptions{ChunkSize: 1000})

	require.NoError(t, err)
	require.Len(t, summary.Succeeded, 2)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, "docs", summary.Collection)
	assert.Equal(t, "https://docs.example.com", summary.Source)
	assert.Equal(t, 4, summary.Chunks())
	assert.False(t, summary.Finished.Before(summary.Started))

	count, err := f.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	results, err := f.store.Search(ctx, "docs", vectorFor("Short page about widgets.", 8), 1,
		domain.Filter{Source: "https://docs.example.com/b.md"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"B"}, results[0].HeaderPath)
	assert.Equal(t, "https://docs.example.com", results[0].Metadata[domain.MetaOrigin])
	assert.NotZero(t, results[0].CharCount)
}

func TestIngestService_PassesFetchOptions(t *testing.T) {
	fetcher := &mockFetcher{}
	f := newIngestFixture(t, fetcher)

	_, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com/guide", domain.IngestOptions{
		MaxDepth:       4,
		MaxConcurrency: 3,
		CrawlTimeout:   time.Minute,
	})

	require.NoError(t, err)
	assert.Equal(t, driven.FetchOptions{MaxDepth: 4, MaxConcurrency: 3, Timeout: time.Minute}, fetcher.gotOpts)
	assert.Equal(t, domain.KindWebPage, fetcher.gotRef.Kind)
}

func TestIngestService_ReingestIsIdempotent(t *testing.T) {
	fetcher := &mockFetcher{docs: []domain.RawDocument{
		textDoc("https://docs.example.com/a.md", sectioned(3, 800)),
	}}
	f := newIngestFixture(t, fetcher)
	ctx := context.Background()
	opts := domain.IngestOptions{ChunkSize: 1000}

	_, err := f.svc.Ingest(ctx, "docs", "https://docs.example.com", opts)
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, "docs", "https://docs.example.com", opts)
	require.NoError(t, err)

	count, err := f.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// A shorter document replaces all of its previous chunks.
	fetcher.docs = []domain.RawDocument{textDoc("https://docs.example.com/a.md", "# Only\n\nOne chunk now.\n")}
	_, err = f.svc.Ingest(ctx, "docs", "https://docs.example.com", opts)
	require.NoError(t, err)

	count, err = f.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestService_EmptyReingestKeepsPreviousChunks(t *testing.T) {
	fetcher := &mockFetcher{docs: []domain.RawDocument{
		textDoc("https://docs.example.com/a.md", sectioned(2, 800)),
	}}
	f := newIngestFixture(t, fetcher)
	ctx := context.Background()
	opts := domain.IngestOptions{ChunkSize: 1000}

	_, err := f.svc.Ingest(ctx, "docs", "https://docs.example.com", opts)
	require.NoError(t, err)

	fetcher.docs = []domain.RawDocument{textDoc("https://docs.example.com/a.md", "  \n\n")}
	summary, err := f.svc.Ingest(ctx, "docs", "https://docs.example.com", opts)

	require.NoError(t, err)
	assert.Empty(t, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.ErrorIs(t, summary.Failed[0].Err, domain.ErrEmptyDocument)

	count, err := f.store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngestService_PerItemFailuresAreIsolated(t *testing.T) {
	fetcher := &mockFetcher{
		docs: []domain.RawDocument{
			textDoc("https://docs.example.com/ok.md", "# Fine\n\nThis page is fine.\n"),
			textDoc("https://docs.example.com/empty.md", "   \n\n"),
			textDoc("https://docs.example.com/poison.md", "# Poison\n\npoison pill content\n"),
			{URI: "https://docs.example.com/logo.png", Kind: domain.KindImage, Content: []byte{0x89, 'P'}},
			textDoc("https://docs.example.com/locked.md", "# Locked\n\nstore refuses this one\n"),
		},
		failures: []domain.Failure{
			{
				URI:   "https://docs.example.com/missing",
				Stage: domain.StageFetch,
				Err:   &domain.FetchError{URL: "https://docs.example.com/missing", StatusCode: 404},
			},
			{
				URI:   "https://docs.example.com/late",
				Stage: domain.StageFetch,
				Err:   &domain.FetchError{URL: "https://docs.example.com/late", Err: domain.ErrSkipped},
			},
		},
	}
	f := newIngestFixture(t, fetcher)
	f.embed.failFor = map[string]error{"poison": errors.New("model rejected input")}
	f.svc.store = &failingStore{
		RecordStore: f.store,
		failFor: map[string]error{
			"https://docs.example.com/locked.md": &domain.StoreError{Op: "replace", Err: domain.ErrDimensionMismatch},
		},
	}

	summary, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com", domain.IngestOptions{})

	require.NoError(t, err)
	require.Len(t, summary.Succeeded, 1)
	assert.Equal(t, "https://docs.example.com/ok.md", summary.Succeeded[0].URI)

	got := map[string]domain.Failure{}
	for _, fl := range summary.Failed {
		got[fl.URI] = fl
	}
	require.Len(t, got, 6)
	assert.Equal(t, domain.StageNormalise, got["https://docs.example.com/empty.md"].Stage)
	assert.Equal(t, domain.ReasonNormalise, got["https://docs.example.com/empty.md"].Reason)
	assert.Equal(t, domain.StageEmbed, got["https://docs.example.com/poison.md"].Stage)
	assert.Equal(t, domain.ReasonEmbed, got["https://docs.example.com/poison.md"].Reason)
	assert.Equal(t, domain.StageChunk, got["https://docs.example.com/logo.png"].Stage)
	assert.Equal(t, domain.ReasonChunk, got["https://docs.example.com/logo.png"].Reason)
	assert.Equal(t, domain.StageStore, got["https://docs.example.com/locked.md"].Stage)
	assert.Equal(t, domain.ReasonStore, got["https://docs.example.com/locked.md"].Reason)
	assert.Equal(t, domain.ReasonFetch, got["https://docs.example.com/missing"].Reason)
	assert.Equal(t, domain.ReasonSkipped, got["https://docs.example.com/late"].Reason)
	assert.Len(t, summary.Skipped(), 1)
}

func TestIngestService_StoreUnavailableAborts(t *testing.T) {
	var docs []domain.RawDocument
	for i := 0; i < 20; i++ {
		docs = append(docs, textDoc(fmt.Sprintf("https://docs.example.com/%d.md", i), "# Page\n\nbody text\n"))
	}
	fetcher := &mockFetcher{docs: docs, block: true}
	f := newIngestFixture(t, fetcher)
	require.NoError(t, f.store.Close())

	summary, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com", domain.IngestOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Succeeded)
}

func TestIngestService_Cancelled(t *testing.T) {
	fetcher := &mockFetcher{block: true}
	f := newIngestFixture(t, fetcher)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.svc.Ingest(ctx, "docs", "https://docs.example.com", domain.IngestOptions{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestService_InvalidInput(t *testing.T) {
	f := newIngestFixture(t, &mockFetcher{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "", "https://docs.example.com", domain.IngestOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Ingest(ctx, "docs", "  ", domain.IngestOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngestService_NoEmbedder(t *testing.T) {
	svc := NewIngestService(&mockFetcher{}, normalisers.NewRegistry(), nil, memory.NewRecordStore(),
		WithPipelineFactory(defaultPipeline))

	_, err := svc.Ingest(context.Background(), "docs", "notes.txt", domain.IngestOptions{})

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestIngestService_ModelOverride(t *testing.T) {
	fetcher := &mockFetcher{docs: []domain.RawDocument{
		textDoc("https://docs.example.com/a.md", "# A\n\nbody\n"),
	}}
	override := newMockEmbedding()
	override.model = "bigger-model"
	var asked []string
	factory := func(model string) (driven.EmbeddingService, error) {
		asked = append(asked, model)
		return override, nil
	}
	f := newIngestFixture(t, fetcher, WithEmbeddingFactory(factory))

	summary, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com",
		domain.IngestOptions{EmbeddingModel: "bigger-model"})

	require.NoError(t, err)
	assert.Len(t, summary.Succeeded, 1)
	assert.Equal(t, []string{"bigger-model"}, asked)
	assert.Equal(t, 1, override.callCount())
	assert.Zero(t, f.embed.callCount())
	assert.True(t, override.closed)

	t.Run("same model uses configured embedder", func(t *testing.T) {
		_, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com",
			domain.IngestOptions{EmbeddingModel: "mock-embed"})
		require.NoError(t, err)
		assert.Len(t, asked, 1)
	})

	t.Run("no factory", func(t *testing.T) {
		g := newIngestFixture(t, fetcher)
		_, err := g.svc.Ingest(context.Background(), "docs", "https://docs.example.com",
			domain.IngestOptions{EmbeddingModel: "bigger-model"})
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	})
}

func TestIngestService_SettingsDefaults(t *testing.T) {
	fetcher := &mockFetcher{}
	f := newIngestFixture(t, fetcher, WithIngestSettings(domain.IngestSettings{
		Defaults: domain.IngestOptions{MaxDepth: 5, MaxConcurrency: 2},
	}))

	_, err := f.svc.Ingest(context.Background(), "docs", "https://docs.example.com", domain.IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, fetcher.gotOpts.MaxDepth)
	assert.Equal(t, 2, fetcher.gotOpts.MaxConcurrency)
	assert.Equal(t, domain.DefaultCrawlTimeout, fetcher.gotOpts.Timeout)

	_, err = f.svc.Ingest(context.Background(), "docs", "https://docs.example.com", domain.IngestOptions{NoFollow: true})
	require.NoError(t, err)
	assert.Zero(t, fetcher.gotOpts.MaxDepth)
}

func TestIngestService_IngestMany(t *testing.T) {
	fetcher := &mockFetcher{docs: []domain.RawDocument{
		textDoc("https://docs.example.com/a.md", "# A\n\nbody\n"),
	}}
	f := newIngestFixture(t, fetcher, WithIngestSettings(domain.IngestSettings{MaxSources: 2}))
	ctx := context.Background()

	t.Run("merges summaries and reports bad references", func(t *testing.T) {
		summary, err := f.svc.IngestMany(ctx, "docs", []string{"https://docs.example.com", "http://"}, domain.IngestOptions{})

		require.NoError(t, err)
		assert.Len(t, summary.Succeeded, 1)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "http://", summary.Failed[0].URI)
		assert.Equal(t, domain.StageFetch, summary.Failed[0].Stage)
	})

	t.Run("limit", func(t *testing.T) {
		_, err := f.svc.IngestMany(ctx, "docs", []string{"a", "b", "c"}, domain.IngestOptions{})
		assert.ErrorIs(t, err, domain.ErrSourceLimit)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := f.svc.IngestMany(ctx, "docs", nil, domain.IngestOptions{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
