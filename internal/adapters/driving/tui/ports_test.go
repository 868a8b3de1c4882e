package tui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// mockRetriever implements driving.Retriever for testing.
type mockRetriever struct {
	queries []string
	err     error
}

func (m *mockRetriever) Query(
	_ context.Context, collection, text string, k int, _ domain.Filter,
) (*domain.QueryResult, error) {
	m.queries = append(m.queries, text)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.QueryResult{
		Query:      text,
		Collection: collection,
		K:          k,
		Matches: []domain.ScoredRecord{
			{Record: domain.Record{Collection: collection, Source: "https://example.com/a", Content: "alpha"}, Score: 0.8, Rank: 1},
		},
	}, nil
}

func (m *mockRetriever) Context(
	ctx context.Context, collection, text string, k int, filter domain.Filter,
) (*domain.ContextBlock, error) {
	r, err := m.Query(ctx, collection, text, k, filter)
	if err != nil {
		return nil, err
	}
	return &domain.ContextBlock{Query: text, Collection: collection, Matches: r.Matches}, nil
}

func (m *mockRetriever) Answer(
	ctx context.Context, collection, question string, k int, filter domain.Filter,
) (*domain.Answer, error) {
	block, err := m.Context(ctx, collection, question, k, filter)
	if err != nil {
		return nil, err
	}
	return &domain.Answer{Question: question, Text: "answer", Model: "m", Context: block}, nil
}

// mockCollectionService implements driving.CollectionService for testing.
type mockCollectionService struct {
	sources []domain.SourceInfo
}

func (m *mockCollectionService) ListCollections(context.Context) ([]domain.CollectionInfo, error) {
	return nil, nil
}

func (m *mockCollectionService) ListSources(context.Context, string) ([]domain.SourceInfo, error) {
	return m.sources, nil
}

func (m *mockCollectionService) DeleteSource(context.Context, string, string) (int, error) {
	return 1, nil
}

func (m *mockCollectionService) Stats(context.Context, string) (*domain.CollectionInfo, error) {
	return &domain.CollectionInfo{}, nil
}

func TestNewPorts(t *testing.T) {
	r := &mockRetriever{}
	c := &mockCollectionService{}

	p := NewPorts(r, c, "handbook", 7)

	assert.Equal(t, r, p.Retriever)
	assert.Equal(t, c, p.Collections)
	assert.Equal(t, "handbook", p.Collection)
	assert.Equal(t, 7, p.TopK)
}

func TestPorts_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ports   *Ports
		wantErr error
	}{
		{"nil ports", nil, ErrMissingRetriever},
		{"missing retriever", &Ports{Collections: &mockCollectionService{}}, ErrMissingRetriever},
		{"retriever only", &Ports{Retriever: &mockRetriever{}}, nil},
		{"all set", NewPorts(&mockRetriever{}, &mockCollectionService{}, "docs", 5), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ports.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPorts_CollectionDefault(t *testing.T) {
	assert.Equal(t, domain.DefaultCollection, (&Ports{}).collection())
	assert.Equal(t, "kb", (&Ports{Collection: "kb"}).collection())
}
