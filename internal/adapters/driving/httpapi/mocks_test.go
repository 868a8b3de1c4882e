package httpapi

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

type mockRetriever struct {
	matches []domain.ScoredRecord
	err     error

	gotCollection string
	gotText       string
	gotK          int
	gotFilter     domain.Filter
}

func (m *mockRetriever) Query(
	_ context.Context,
	collection, text string,
	k int,
	filter domain.Filter,
) (*domain.QueryResult, error) {
	m.gotCollection, m.gotText, m.gotK, m.gotFilter = collection, text, k, filter
	if m.err != nil {
		return nil, m.err
	}
	matches := m.matches
	if matches == nil {
		matches = []domain.ScoredRecord{}
	}
	return &domain.QueryResult{Query: text, Collection: collection, K: k, Matches: matches}, nil
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
	return &domain.ContextBlock{Query: text, Collection: collection, Matches: res.Matches, Text: "[1] ctx"}, nil
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
	return &domain.Answer{Question: question, Text: "forty-two", Model: "mock-llm", Context: block}, nil
}

type mockIngestService struct {
	err error

	gotCollection string
	gotSources    []string
	gotOpts       domain.IngestOptions
	many          bool
}

func (m *mockIngestService) Ingest(
	_ context.Context,
	collection, source string,
	opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	m.gotCollection, m.gotSources, m.gotOpts = collection, []string{source}, opts
	if m.err != nil {
		return nil, m.err
	}
	return &domain.IngestSummary{
		Collection: collection,
		Source:     source,
		Succeeded:  []domain.IngestedDocument{{URI: source, Kind: domain.KindWebPage, Chunks: 2}},
		Failed:     []domain.Failure{},
	}, nil
}

func (m *mockIngestService) IngestMany(
	_ context.Context,
	collection string,
	sources []string,
	opts domain.IngestOptions,
) (*domain.IngestSummary, error) {
	m.many = true
	m.gotCollection, m.gotSources, m.gotOpts = collection, sources, opts
	if m.err != nil {
		return nil, m.err
	}
	return &domain.IngestSummary{Collection: collection, Succeeded: []domain.IngestedDocument{}, Failed: []domain.Failure{}}, nil
}

type mockCollectionService struct {
	err error

	gotCollection string
	gotSource     string
}

func (m *mockCollectionService) ListCollections(_ context.Context) ([]domain.CollectionInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []domain.CollectionInfo{{Name: "docs", Dimensions: 8, Sources: 1, Records: 3}}, nil
}

func (m *mockCollectionService) ListSources(_ context.Context, collection string) ([]domain.SourceInfo, error) {
	m.gotCollection = collection
	if m.err != nil {
		return nil, m.err
	}
	return []domain.SourceInfo{{Source: "https://example.com/a", Records: 3}}, nil
}

func (m *mockCollectionService) DeleteSource(_ context.Context, collection, source string) (int, error) {
	m.gotCollection, m.gotSource = collection, source
	if m.err != nil {
		return 0, m.err
	}
	return 3, nil
}

func (m *mockCollectionService) Stats(_ context.Context, collection string) (*domain.CollectionInfo, error) {
	if collection != "docs" {
		return nil, domain.ErrNotFound
	}
	return &domain.CollectionInfo{Name: "docs", Dimensions: 8, Sources: 1, Records: 3}, nil
}
