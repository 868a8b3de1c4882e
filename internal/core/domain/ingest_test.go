package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIngestOptions_WithDefaults(t *testing.T) {
	t.Run("zero values", func(t *testing.T) {
		o := IngestOptions{}.WithDefaults()
		assert.Equal(t, DefaultChunkSize, o.ChunkSize)
		assert.Equal(t, DefaultMaxDepth, o.MaxDepth)
		assert.Equal(t, DefaultMaxConcurrency, o.MaxConcurrency)
		assert.Equal(t, DefaultBatchSize, o.BatchSize)
		assert.Equal(t, DefaultCrawlTimeout, o.CrawlTimeout)
	})

	t.Run("overrides kept", func(t *testing.T) {
		o := IngestOptions{ChunkSize: 500, MaxDepth: 3, MaxConcurrency: 2, BatchSize: 8, CrawlTimeout: time.Second}.WithDefaults()
		assert.Equal(t, 500, o.ChunkSize)
		assert.Equal(t, 3, o.MaxDepth)
		assert.Equal(t, 2, o.MaxConcurrency)
		assert.Equal(t, 8, o.BatchSize)
		assert.Equal(t, time.Second, o.CrawlTimeout)
	})

	t.Run("no follow forces depth zero", func(t *testing.T) {
		o := IngestOptions{MaxDepth: 4, NoFollow: true}.WithDefaults()
		assert.Equal(t, 0, o.MaxDepth)
	})

	t.Run("negative depth means seed only", func(t *testing.T) {
		o := IngestOptions{MaxDepth: -1}.WithDefaults()
		assert.Equal(t, 0, o.MaxDepth)
	})
}

func TestIngestSummary(t *testing.T) {
	start := time.Now()
	s := &IngestSummary{
		Started: start,
		Succeeded: []IngestedDocument{
			{URI: "a", Chunks: 3},
			{URI: "b", Chunks: 2},
		},
		Failed: []Failure{
			{URI: "c", Stage: StageFetch, Reason: ReasonFetch},
			{URI: "d", Stage: StageFetch, Reason: ReasonSkipped, Err: ErrSkipped},
		},
		Finished: start.Add(2 * time.Second),
	}

	assert.Equal(t, 5, s.Chunks())
	assert.Len(t, s.Skipped(), 1)
	assert.Equal(t, 2*time.Second, s.Duration())

	other := &IngestSummary{
		Succeeded: []IngestedDocument{{URI: "e", Chunks: 1}},
		Failed:    []Failure{{URI: "f", Reason: ReasonEmbed, Err: errors.New("x")}},
		Finished:  start.Add(5 * time.Second),
	}
	s.Merge(other)
	s.Merge(nil)

	assert.Equal(t, 6, s.Chunks())
	assert.Len(t, s.Failed, 3)
	assert.Equal(t, 5*time.Second, s.Duration())
}

func TestIngestOptions_Overlay(t *testing.T) {
	base := IngestOptions{ChunkSize: 800, MaxDepth: 3, CrawlTimeout: time.Minute}

	got := base.Overlay(IngestOptions{ChunkSize: 500, NoFollow: true, EmbeddingModel: "m"})

	assert.Equal(t, IngestOptions{
		ChunkSize:      500,
		MaxDepth:       3,
		CrawlTimeout:   time.Minute,
		EmbeddingModel: "m",
		NoFollow:       true,
	}, got)
	assert.Equal(t, base, base.Overlay(IngestOptions{}))
}
