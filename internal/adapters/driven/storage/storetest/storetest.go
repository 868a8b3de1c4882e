// Package storetest holds the behaviour every RecordStore implementation
// must show. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) driven.RecordStore

// Records builds n records for source with embeddings of the given
// dimensionality. Record i points mostly along axis i%dims.
func Records(collection, source string, n, dims int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		emb := make([]float32, dims)
		emb[i%dims] = 1
		emb[(i+1)%dims] = 0.1
		out[i] = domain.Record{
			Collection: collection,
			Source:     source,
			ChunkIndex: i,
			Content:    fmt.Sprintf("%s chunk %d", source, i),
			HeaderPath: []string{"Guide", fmt.Sprintf("Part %d", i)},
			CharCount:  12,
			WordCount:  3,
			Metadata: map[string]string{
				domain.MetaOrigin: "https://origin.example",
				domain.MetaKind:   "webpage",
			},
			Embedding: emb,
		}
	}
	return out
}

// Axis returns a unit vector along axis i.
func Axis(dims, i int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	return v
}

// Run exercises the RecordStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) driven.RecordStore {
		t.Helper()
		s := newStore(t)
		t.Cleanup(func() { s.Close() })
		return s
	}
	ctx := context.Background()

	t.Run("empty collection search", func(t *testing.T) {
		s := open(t)
		got, err := s.Search(ctx, "none", Axis(4, 0), 5, domain.Filter{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)

		n, err := s.Count(ctx, "none")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("replace then search round trip", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "https://a.io/x", Records("docs", "https://a.io/x", 3, 4)))

		got, err := s.Search(ctx, "docs", Axis(4, 1), 1, domain.Filter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].ChunkIndex)
		assert.Equal(t, 1, got[0].Rank)
		assert.Equal(t, "https://a.io/x", got[0].Source)
		assert.Equal(t, "https://a.io/x chunk 1", got[0].Content)
		assert.Equal(t, []string{"Guide", "Part 1"}, got[0].HeaderPath)
		assert.Equal(t, "https://origin.example", got[0].Metadata[domain.MetaOrigin])
		assert.Equal(t, 12, got[0].CharCount)
		assert.Equal(t, 3, got[0].WordCount)
		assert.InDelta(t, 1/1.004987562, got[0].Score, 1e-5)
	})

	t.Run("re-ingest is idempotent", func(t *testing.T) {
		s := open(t)
		recs := Records("docs", "s1", 5, 4)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", recs))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", recs))

		n, err := s.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("replace removes stale chunks", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 5, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 2, 4)))

		n, err := s.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := s.Search(ctx, "docs", Axis(4, 3), 10, domain.Filter{})
		require.NoError(t, err)
		for _, r := range got {
			assert.Less(t, r.ChunkIndex, 2)
		}
	})

	t.Run("replace with empty slice deletes source", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 2, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", nil))

		n, err := s.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("k caps the result", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 8, 4)))

		got, err := s.Search(ctx, "docs", Axis(4, 0), 3, domain.Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = s.Search(ctx, "docs", Axis(4, 0), 50, domain.Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 8)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
			assert.Equal(t, i+1, got[i].Rank)
		}
	})

	t.Run("ties break by chunk index then source", func(t *testing.T) {
		s := open(t)
		same := func(source string, idx int) domain.Record {
			return domain.Record{Source: source, ChunkIndex: idx, Content: "x", Embedding: []float32{1, 0}}
		}
		require.NoError(t, s.ReplaceSource(ctx, "docs", "b", []domain.Record{same("b", 0), same("b", 1)}))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "a", []domain.Record{same("a", 1), same("a", 0)}))

		got, err := s.Search(ctx, "docs", []float32{1, 0}, 4, domain.Filter{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		order := make([]string, len(got))
		for i, r := range got {
			order[i] = fmt.Sprintf("%s#%d", r.Source, r.ChunkIndex)
		}
		assert.Equal(t, []string{"a#0", "b#0", "a#1", "b#1"}, order)
	})

	t.Run("source and metadata filters", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 3, 4)))
		other := Records("docs", "s2", 3, 4)
		for i := range other {
			other[i].Metadata[domain.MetaKind] = "pdf"
		}
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s2", other))

		got, err := s.Search(ctx, "docs", Axis(4, 0), 10, domain.Filter{Source: "s2"})
		require.NoError(t, err)
		assert.Len(t, got, 3)
		for _, r := range got {
			assert.Equal(t, "s2", r.Source)
		}

		got, err = s.Search(ctx, "docs", Axis(4, 0), 10, domain.Filter{Metadata: map[string]string{domain.MetaKind: "webpage"}})
		require.NoError(t, err)
		assert.Len(t, got, 3)
		for _, r := range got {
			assert.Equal(t, "s1", r.Source)
		}
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "a", "s1", Records("a", "s1", 2, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "b", "s1", Records("b", "s1", 3, 8)))

		na, err := s.Count(ctx, "a")
		require.NoError(t, err)
		nb, err := s.Count(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 2, na)
		assert.Equal(t, 3, nb)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 2, 4)))

		err := s.ReplaceSource(ctx, "docs", "s2", Records("docs", "s2", 2, 8))
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
		var se *domain.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "docs", se.Collection)

		_, err = s.Search(ctx, "docs", Axis(8, 0), 5, domain.Filter{})
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		mixed := Records("docs", "s3", 2, 4)
		mixed[1].Embedding = []float32{1}
		assert.ErrorIs(t, s.ReplaceSource(ctx, "docs", "s3", mixed), domain.ErrDimensionMismatch)

		// The failed replace left the old records alone.
		n, err := s.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("emptied collection adopts new dimensions", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 2, 4)))
		_, err := s.DeleteSource(ctx, "docs", "s1")
		require.NoError(t, err)

		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 2, 8)))
		got, err := s.Search(ctx, "docs", Axis(8, 0), 5, domain.Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("delete source", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 3, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s2", Records("docs", "s2", 1, 4)))

		n, err := s.DeleteSource(ctx, "docs", "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.DeleteSource(ctx, "docs", "missing")
		require.NoError(t, err)
		assert.Zero(t, n)

		count, err := s.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("list sources and collections", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s2", Records("docs", "s2", 1, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 3, 4)))
		require.NoError(t, s.ReplaceSource(ctx, "notes", "n1", Records("notes", "n1", 2, 6)))

		sources, err := s.ListSources(ctx, "docs")
		require.NoError(t, err)
		require.Len(t, sources, 2)
		assert.Equal(t, "s1", sources[0].Source)
		assert.Equal(t, 3, sources[0].Records)
		assert.Equal(t, "https://origin.example", sources[0].Origin)
		assert.NotEmpty(t, sources[0].UpdatedAt)
		assert.Equal(t, "s2", sources[1].Source)

		empty, err := s.ListSources(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, empty)

		cols, err := s.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, cols, 2)
		assert.Equal(t, domain.CollectionInfo{Name: "docs", Dimensions: 4, Sources: 2, Records: 4}, cols[0])
		assert.Equal(t, domain.CollectionInfo{Name: "notes", Dimensions: 6, Sources: 1, Records: 2}, cols[1])
	})

	t.Run("readers see old or new set", func(t *testing.T) {
		s := open(t)
		const dims = 4
		oldSet := Records("docs", "s1", 4, dims)
		newSet := Records("docs", "s1", 6, dims)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", oldSet))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				set := oldSet
				if i%2 == 0 {
					set = newSet
				}
				assert.NoError(t, s.ReplaceSource(ctx, "docs", "s1", set))
			}
			close(stop)
		}()

		for done := false; !done; {
			select {
			case <-stop:
				done = true
			default:
			}
			got, err := s.Search(ctx, "docs", Axis(dims, 0), 50, domain.Filter{})
			require.NoError(t, err)
			assert.Contains(t, []int{len(oldSet), len(newSet)}, len(got))
		}
		wg.Wait()
	})

	t.Run("cancelled replace keeps previous records", func(t *testing.T) {
		s := open(t)
		const dims = 4
		oldSet := Records("docs", "s1", 3, dims)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", oldSet))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		newSet := Records("docs", "s1", 5, dims)
		newSet[0].Content = "replacement"

		err := s.ReplaceSource(cancelled, "docs", "s1", newSet)
		require.Error(t, err)
		var se *domain.StoreError
		assert.ErrorAs(t, err, &se)

		assertHolds(t, s, "docs", dims, oldSet)
	})

	t.Run("cancelled delete keeps previous records", func(t *testing.T) {
		s := open(t)
		const dims = 4
		oldSet := Records("docs", "s1", 3, dims)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", oldSet))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.Error(t, s.ReplaceSource(cancelled, "docs", "s1", nil))

		assertHolds(t, s, "docs", dims, oldSet)
	})

	t.Run("failed replace keeps previous records", func(t *testing.T) {
		s := open(t)
		const dims = 4
		oldSet := Records("docs", "s1", 3, dims)
		require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", oldSet))

		// The repeated index fails once earlier chunks have been written.
		bad := Records("docs", "s1", 4, dims)
		bad[3].ChunkIndex = 1

		err := s.ReplaceSource(ctx, "docs", "s1", bad)
		require.Error(t, err)
		var se *domain.StoreError
		assert.ErrorAs(t, err, &se)

		assertHolds(t, s, "docs", dims, oldSet)
	})

	t.Run("closed store is unavailable", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())

		_, err := s.Search(ctx, "docs", Axis(4, 0), 5, domain.Filter{})
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		err = s.ReplaceSource(ctx, "docs", "s1", Records("docs", "s1", 1, 4))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

// AssertHolds checks that collection contains exactly want, by content and
// chunk index, and that Count agrees with what Search returns.
func AssertHolds(t *testing.T, s driven.RecordStore, collection string, dims int, want []domain.Record) {
	t.Helper()
	assertHolds(t, s, collection, dims, want)
}

func assertHolds(t *testing.T, s driven.RecordStore, collection string, dims int, want []domain.Record) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Search(ctx, collection, Axis(dims, 0), len(want)+10, domain.Filter{})
	require.NoError(t, err)
	n, err := s.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, len(got), n, "Count must match what Search can return")

	type key struct {
		source  string
		index   int
		content string
	}
	var wantKeys, gotKeys []key
	for _, r := range want {
		wantKeys = append(wantKeys, key{r.Source, r.ChunkIndex, r.Content})
	}
	for _, r := range got {
		gotKeys = append(gotKeys, key{r.Source, r.ChunkIndex, r.Content})
	}
	assert.ElementsMatch(t, wantKeys, gotKeys)
}
