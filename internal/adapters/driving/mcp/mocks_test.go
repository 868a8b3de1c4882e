package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// mockRetriever is a mock implementation of driving.Retriever.
type mockRetriever struct {
	matches []domain.ScoredRecord
	answer  string
	err     error

	gotCollection string
	gotK          int
	gotFilter     domain.Filter
}

func (m *mockRetriever) Query(
	_ context.Context,
	collection, text string,
	k int,
	filter domain.Filter,
) (*domain.QueryResult, error) {
	m.gotCollection, m.gotK, m.gotFilter = collection, k, filter
	if m.err != nil {
		return nil, m.err
	}
	return &domain.QueryResult{Query: text, Collection: collection, K: k, Matches: m.matches}, nil
}

func (m *mockRetriever) Context(
	ctx context.Context,
	collection, text string,
	k int,
	filter domain.Filter,
) (*domain.ContextBlock, error) {
	res, err := m.Query(ctx, collection, text, k, filter)
	if err != nil {
		return nil, err
	}
	return &domain.ContextBlock{Query: text, Collection: collection, Matches: res.Matches}, nil
}

func (m *mockRetriever) Answer(
	ctx context.Context,
	collection, question string,
	k int,
	filter domain.Filter,
) (*domain.Answer, error) {
	block, err := m.Context(ctx, collection, question, k, filter)
	if err != nil {
		return nil, err
	}
	return &domain.Answer{Question: question, Text: m.answer, Model: "mock-llm", Context: block}, nil
}

// mockIngestService is a mock implementation of driving.IngestService.
type mockIngestService struct {
	summary *domain.IngestSummary
	err     error

	gotCollection string
	gotSource     string
	gotOpts       domain.IngestOptions
}

func (m *mockIngestService) Ingest(
	_ context.Context,
	collection, source string,
	opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	m.gotCollection, m.gotSource, m.gotOpts = collection, source, opts
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

func (m *mockIngestService) IngestMany(
	ctx context.Context,
	collection string,
	sources []string,
	opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	return m.Ingest(ctx, collection, sources[0], opts)
}

// mockCollectionService is a mock implementation of driving.CollectionService.
type mockCollectionService struct {
	collections []domain.CollectionInfo
	sources     []domain.SourceInfo
	deleted     int
	err         error

	gotCollection string
	gotSource     string
}

func (m *mockCollectionService) ListCollections(_ context.Context) ([]domain.CollectionInfo, error) {
	return m.collections, m.err
}

func (m *mockCollectionService) ListSources(_ context.Context, collection string) ([]domain.SourceInfo, error) {
	m.gotCollection = collection
	return m.sources, m.err
}

func (m *mockCollectionService) DeleteSource(_ context.Context, collection, source string) (int, error) {
	m.gotCollection, m.gotSource = collection, source
	return m.deleted, m.err
}

func (m *mockCollectionService) Stats(_ context.Context, collection string) (*domain.CollectionInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.collections {
		if m.collections[i].Name == collection {
			return &m.collections[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func testSummary() *domain.IngestSummary {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &domain.IngestSummary{
		Collection: "docs",
		Source:     "https://example.com",
		Succeeded: []domain.IngestedDocument{
			{URI: "https://example.com", Kind: domain.KindWebPage, Chunks: 3},
			{URI: "https://example.com/a", Kind: domain.KindWebPage, Chunks: 2},
		},
		Failed: []domain.Failure{
			{URI: "https://example.com/b", Stage: domain.StageFetch, Reason: domain.ReasonFetch},
		},
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
	}
}

func testMatches() []domain.ScoredRecord {
	return []domain.ScoredRecord{
		{
			Record: domain.Record{
				Collection: "docs",
				Source:     "https://example.com/guide",
				ChunkIndex: 2,
				Content:    "Install with go install.",
				HeaderPath: []string{"Guide", "Install"},
			},
			Score: 0.91,
			Rank:  1,
		},
	}
}
