package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

func TestExtractCollection(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{name: "valid", uri: "ragpipe://collections/docs/sources", expected: "docs"},
		{name: "invalid prefix", uri: "file://collections/docs/sources", expected: ""},
		{name: "missing suffix", uri: "ragpipe://collections/docs", expected: ""},
		{name: "nested name", uri: "ragpipe://collections/a/b/sources", expected: ""},
		{name: "no name", uri: "ragpipe://collections/sources", expected: ""},
		{name: "empty URI", uri: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractCollection(tt.uri))
		})
	}
}

func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handleCollectionsResource(t *testing.T) {
	ctx := context.Background()

	t.Run("nil collection service returns empty list", func(t *testing.T) {
		server := newTestServer(t, &Ports{})

		result, err := server.handleCollectionsResource(ctx, makeReadResourceRequest("ragpipe://collections"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})

	t.Run("returns collections", func(t *testing.T) {
		server := newTestServer(t, &Ports{Collections: &mockCollectionService{
			collections: []domain.CollectionInfo{{Name: "docs", Dimensions: 768, Sources: 2, Records: 40}},
		}})

		result, err := server.handleCollectionsResource(ctx, makeReadResourceRequest("ragpipe://collections"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "application/json", result.Contents[0].MIMEType)
		assert.Contains(t, result.Contents[0].Text, `"name": "docs"`)
		assert.Contains(t, result.Contents[0].Text, `"records": 40`)
	})

	t.Run("list failure", func(t *testing.T) {
		server := newTestServer(t, &Ports{Collections: &mockCollectionService{err: errors.New("database error")}})

		_, err := server.handleCollectionsResource(ctx, makeReadResourceRequest("ragpipe://collections"))

		assert.ErrorContains(t, err, "listing collections")
	})
}

func TestServer_handleSourcesResource(t *testing.T) {
	ctx := context.Background()
	collections := &mockCollectionService{
		collections: []domain.CollectionInfo{{Name: "docs"}},
		sources:     []domain.SourceInfo{{Source: "/notes/a.md", Records: 3}},
	}

	t.Run("returns sources", func(t *testing.T) {
		server := newTestServer(t, &Ports{Collections: collections})

		result, err := server.handleSourcesResource(ctx, makeReadResourceRequest("ragpipe://collections/docs/sources"))

		require.NoError(t, err)
		assert.Contains(t, result.Contents[0].Text, "/notes/a.md")
		assert.Equal(t, "docs", collections.gotCollection)
	})

	t.Run("unknown collection", func(t *testing.T) {
		server := newTestServer(t, &Ports{Collections: collections})

		_, err := server.handleSourcesResource(ctx, makeReadResourceRequest("ragpipe://collections/missing/sources"))

		require.Error(t, err)
	})

	t.Run("invalid URI", func(t *testing.T) {
		server := newTestServer(t, &Ports{Collections: collections})

		_, err := server.handleSourcesResource(ctx, makeReadResourceRequest("ragpipe://invalid"))

		require.Error(t, err)
	})

	t.Run("nil collection service", func(t *testing.T) {
		server := newTestServer(t, &Ports{})

		_, err := server.handleSourcesResource(ctx, makeReadResourceRequest("ragpipe://collections/docs/sources"))

		require.Error(t, err)
	})
}
