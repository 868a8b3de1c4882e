package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/connectors/filesystem"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

type fakeSource struct {
	ch     chan filesystem.Change
	closed bool
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan filesystem.Change, 16)}
}

func (f *fakeSource) Run(context.Context) (<-chan filesystem.Change, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type recordingIngest struct {
	mu    sync.Mutex
	calls []string
	opts  domain.IngestOptions
	err   error
}

func (r *recordingIngest) Ingest(
	_ context.Context, collection, source string, opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collection+":"+source)
	r.opts = opts
	if r.err != nil {
		return nil, r.err
	}
	return &domain.IngestSummary{
		Collection: collection,
		Source:     source,
		Succeeded:  []domain.IngestedDocument{{URI: source, Chunks: 2}},
	}, nil
}

func (r *recordingIngest) IngestMany(
	ctx context.Context, collection string, sources []string, opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	return r.Ingest(ctx, collection, sources[0], opts)
}

func (r *recordingIngest) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingCollections struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (c *recordingCollections) ListCollections(context.Context) ([]domain.CollectionInfo, error) {
	return nil, nil
}

func (c *recordingCollections) ListSources(context.Context, string) ([]domain.SourceInfo, error) {
	return nil, nil
}

func (c *recordingCollections) DeleteSource(_ context.Context, collection, source string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, collection+":"+source)
	if c.err != nil {
		return 0, c.err
	}
	return 3, nil
}

func (c *recordingCollections) Stats(context.Context, string) (*domain.CollectionInfo, error) {
	return nil, domain.ErrNotFound
}

func (c *recordingCollections) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

func runAsync(t *testing.T, r *Runner, sources ...ChangeSource) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, sources...) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRunner_DebouncesRepeatedChanges(t *testing.T) {
	ingest := &recordingIngest{}
	src := newFakeSource()
	opts := domain.IngestOptions{ChunkSize: 300}
	r := New(ingest, nil, "notes", opts, WithDebounce(40*time.Millisecond))

	_, _ = runAsync(t, r, src)
	for range 5 {
		src.ch <- filesystem.Change{Type: filesystem.ChangeUpdated, Path: "/data/a.md"}
	}

	require.Eventually(t, func() bool { return len(ingest.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"notes:/data/a.md"}, ingest.Calls())
	assert.Equal(t, 300, ingest.opts.ChunkSize)
}

func TestRunner_DeleteRemovesSource(t *testing.T) {
	collections := &recordingCollections{}
	src := newFakeSource()
	var mu sync.Mutex
	var results []Result
	r := New(&recordingIngest{}, collections, "", domain.IngestOptions{},
		WithDebounce(10*time.Millisecond),
		WithReporter(func(res Result) {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}),
	)

	_, _ = runAsync(t, r, src)
	src.ch <- filesystem.Change{Type: filesystem.ChangeDeleted, Path: "/data/gone.txt"}

	require.Eventually(t, func() bool { return len(collections.Deleted()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{domain.DefaultCollection + ":/data/gone.txt"}, collections.Deleted())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, results[0].Deleted)
	assert.NoError(t, results[0].Err)
	mu.Unlock()
}

func TestRunner_DeleteNotFoundIsNotAnError(t *testing.T) {
	collections := &recordingCollections{err: domain.ErrNotFound}
	src := newFakeSource()
	errs := make(chan error, 1)
	r := New(&recordingIngest{}, collections, "docs", domain.IngestOptions{},
		WithDebounce(10*time.Millisecond),
		WithReporter(func(res Result) { errs <- res.Err }),
	)

	_, _ = runAsync(t, r, src)
	src.ch <- filesystem.Change{Type: filesystem.ChangeDeleted, Path: "/never/ingested"}

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("no result reported")
	}
}

func TestRunner_FilterSkipsOtherPaths(t *testing.T) {
	ingest := &recordingIngest{}
	src := newFakeSource()
	r := New(ingest, nil, "docs", domain.IngestOptions{},
		WithDebounce(10*time.Millisecond),
		WithFilter(OnlyPaths("/data/keep.md")),
	)

	_, _ = runAsync(t, r, src)
	src.ch <- filesystem.Change{Type: filesystem.ChangeUpdated, Path: "/data/other.md"}
	src.ch <- filesystem.Change{Type: filesystem.ChangeCreated, Path: "/data/keep.md"}

	require.Eventually(t, func() bool { return len(ingest.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"docs:/data/keep.md"}, ingest.Calls())
}

func TestRunner_FlushesWhenSourcesStop(t *testing.T) {
	ingest := &recordingIngest{}
	src := newFakeSource()
	r := New(ingest, nil, "docs", domain.IngestOptions{}, WithDebounce(time.Hour))

	_, done := runAsync(t, r, src)
	src.ch <- filesystem.Change{Type: filesystem.ChangeCreated, Path: "/data/new.txt"}
	close(src.ch)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"docs:/data/new.txt"}, ingest.Calls())
	assert.True(t, src.closed)
	assert.Equal(t, 0, r.Pending())
}

func TestRunner_CancelStops(t *testing.T) {
	src := newFakeSource()
	r := New(&recordingIngest{}, nil, "docs", domain.IngestOptions{})

	cancel, done := runAsync(t, r, src)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.True(t, src.closed)
}

func TestRunner_IngestErrorReported(t *testing.T) {
	ingest := &recordingIngest{err: domain.ErrEmbeddingUnavailable}
	src := newFakeSource()
	errs := make(chan error, 1)
	r := New(ingest, nil, "docs", domain.IngestOptions{},
		WithDebounce(10*time.Millisecond),
		WithReporter(func(res Result) { errs <- res.Err }),
	)

	_, _ = runAsync(t, r, src)
	src.ch <- filesystem.Change{Type: filesystem.ChangeUpdated, Path: "/data/a.md"}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	case <-time.After(time.Second):
		t.Fatal("no result reported")
	}
}

func TestRunner_Errors(t *testing.T) {
	r := New(&recordingIngest{}, nil, "docs", domain.IngestOptions{})
	assert.ErrorIs(t, r.Run(context.Background()), ErrNoSources)

	failing := &fakeSource{err: errors.New("boom")}
	err := r.Run(context.Background(), failing)
	assert.ErrorContains(t, err, "boom")
	assert.True(t, failing.closed)

	noIngest := New(nil, nil, "docs", domain.IngestOptions{})
	assert.Error(t, noIngest.Run(context.Background(), newFakeSource()))
}

func TestRunner_WithFilesystemWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := filesystem.NewWatcher(dir)
	require.NoError(t, err)

	ingest := &recordingIngest{}
	r := New(ingest, nil, "docs", domain.IngestOptions{}, WithDebounce(20*time.Millisecond))
	_, _ = runAsync(t, r, w)

	path := filepath.Join(w.Root(), "note.txt")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("hello"), 0o600)
		return len(ingest.Calls()) > 0
	}, 3*time.Second, 50*time.Millisecond)
	assert.Contains(t, ingest.Calls(), "docs:"+path)
}

func TestOnlyPaths(t *testing.T) {
	keep := OnlyPaths("/a/b.txt", "/c/../d.txt")

	assert.True(t, keep("/a/b.txt"))
	assert.True(t, keep("/d.txt"))
	assert.False(t, keep("/a/c.txt"))
}
