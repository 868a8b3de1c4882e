package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/storetest"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

func TestRecordStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) driven.RecordStore {
		return NewRecordStore()
	})
}

func TestRecordStore_DoesNotAliasCallerSlices(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	recs := storetest.Records("docs", "s1", 1, 2)

	require.NoError(t, s.ReplaceSource(ctx, "docs", "s1", recs))
	recs[0].Content = "mutated"
	recs[0].Embedding[0] = -1
	recs[0].Metadata[domain.MetaOrigin] = "mutated"

	got, err := s.Search(ctx, "docs", []float32{1, 0}, 1, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1 chunk 0", got[0].Content)
	assert.Equal(t, float32(1), got[0].Embedding[0])
	assert.Equal(t, "https://origin.example", got[0].Metadata[domain.MetaOrigin])
}

func TestRecordStore_DuplicateChunkIndex(t *testing.T) {
	s := NewRecordStore()
	recs := storetest.Records("docs", "s1", 2, 2)
	recs[1].ChunkIndex = 0

	err := s.ReplaceSource(context.Background(), "docs", "s1", recs)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
