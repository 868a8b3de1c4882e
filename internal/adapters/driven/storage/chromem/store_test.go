package chromem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/storetest"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) driven.RecordStore {
		s, err := NewStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStore_ReopenKeepsRecordsAndSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", storetest.Records("docs", "s1", 3, 4)))
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, sidecarName))

	s, err = NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Search(ctx, "docs", storetest.Axis(4, 2), 1, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ChunkIndex)
	assert.Equal(t, []string{"Guide", "Part 2"}, got[0].HeaderPath)
	assert.NotContains(t, got[0].Metadata, keySource)
}

func TestStore_CorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sidecarName), []byte("{not json"), 0600))

	_, err := NewStore(dir)
	assert.Error(t, err)
}

func TestToDocumentRoundTrip(t *testing.T) {
	rec := storetest.Records("docs", "https://a.io/x", 1, 3)[0]
	rec.ChunkIndex = 7

	doc, err := toDocument("https://a.io/x", &rec, rec.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "https://a.io/x#7", doc.ID)
	assert.Equal(t, "7", doc.Metadata[keyChunkIndex])

	back, err := fromResult("docs", resultOf(doc))
	require.NoError(t, err)
	assert.Equal(t, rec.Source, back.Source)
	assert.Equal(t, 7, back.ChunkIndex)
	assert.Equal(t, rec.HeaderPath, back.HeaderPath)
	assert.Equal(t, rec.Metadata, back.Metadata)
	assert.Equal(t, rec.CharCount, back.CharCount)
	assert.Equal(t, "docs", back.Collection)
}

func TestFromResult_BadChunkIndex(t *testing.T) {
	doc, err := toDocument("s", &domain.Record{Content: "x", Embedding: []float32{1}}, time.Now())
	require.NoError(t, err)
	doc.Metadata[keyChunkIndex] = "abc"

	_, err = fromResult("c", resultOf(doc))
	assert.Error(t, err)
}

func resultOf(doc chromemgo.Document) chromemgo.Result {
	return chromemgo.Result{
		ID:        doc.ID,
		Metadata:  doc.Metadata,
		Embedding: doc.Embedding,
		Content:   doc.Content,
	}
}

func TestStore_PartialWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	oldSet := storetest.Records("docs", "s1", 3, 4)
	require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", oldSet))

	// Write the first new document, then fail.
	diskFull := errors.New("disk full")
	s.addDocuments = func(ctx context.Context, coll *chromemgo.Collection, docs []chromemgo.Document) error {
		require.NoError(t, coll.AddDocument(ctx, docs[0]))
		require.NoError(t, coll.AddDocument(ctx, docs[len(docs)-1]))
		return diskFull
	}

	newSet := storetest.Records("docs", "s1", 5, 4)
	for i := range newSet {
		newSet[i].Content = "rewritten"
	}
	err = s.ReplaceSource(ctx, "docs", "s1", newSet)
	require.ErrorIs(t, err, diskFull)
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "replace", se.Op)

	storetest.AssertHolds(t, s, "docs", 4, oldSet)
	sources, err := s.ListSources(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, 3, sources[0].Records)
}

func TestStore_CancelledWriteRollsBack(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	oldSet := storetest.Records("docs", "s1", 2, 4)
	require.NoError(t, s.ReplaceSource(context.Background(), "docs", "s1", oldSet))

	// Cancellation lands while documents are being added.
	ctx, cancel := context.WithCancel(context.Background())
	s.addDocuments = func(ctx context.Context, coll *chromemgo.Collection, docs []chromemgo.Document) error {
		require.NoError(t, coll.AddDocument(ctx, docs[0]))
		cancel()
		return nil
	}

	err = s.ReplaceSource(ctx, "docs", "s1", storetest.Records("docs", "s1", 4, 4))
	require.ErrorIs(t, err, context.Canceled)

	storetest.AssertHolds(t, s, "docs", 4, oldSet)
}

func TestStore_ShrinkingReplaceDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", storetest.Records("docs", "s1", 5, 4)))
	require.NoError(t, s.ReplaceSource(ctx, "docs", "s2", storetest.Records("docs", "s2", 1, 4)))

	shorter := storetest.Records("docs", "s1", 2, 4)
	require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", shorter))

	storetest.AssertHolds(t, s, "docs", 4, append(shorter, storetest.Records("docs", "s2", 1, 4)...))
}
