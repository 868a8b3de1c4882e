package cli

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

func newCollections() *mockCollectionService {
	return &mockCollectionService{
		collections: []domain.CollectionInfo{
			{Name: "docs", Dimensions: 768, Sources: 2, Records: 14},
			{Name: "handbook", Dimensions: 768, Sources: 1, Records: 3},
		},
		sources: map[string][]domain.SourceInfo{
			"docs": {
				{Source: "https://example.com/a", Origin: "https://example.com/sitemap.xml", Records: 9, UpdatedAt: "2026-10-01T10:00:00Z"},
				{Source: "notes.md", Origin: "notes.md", Records: 5, UpdatedAt: "2026-10-02T10:00:00Z"},
			},
		},
	}
}

func TestSourcesCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range sourcesCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"list", "delete"}, names)
}

func TestSourcesListCmd(t *testing.T) {
	out, err := execute(t, &Services{Collections: newCollections()}, "", "sources", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "Sources in docs (2):")
	assert.Contains(t, out, "https://example.com/a")
	assert.Contains(t, out, "Chunks: 9")
	assert.Contains(t, out, "Origin: https://example.com/sitemap.xml")
	assert.NotContains(t, out, "Origin: notes.md")
}

func TestSourcesListCmd_Empty(t *testing.T) {
	out, err := execute(t, &Services{Collections: newCollections()}, "", "sources", "list", "-c", "handbook")

	require.NoError(t, err)
	assert.Contains(t, out, "No sources in handbook.")
}

func TestSourcesListCmd_JSON(t *testing.T) {
	out, err := execute(t, &Services{Collections: newCollections()}, "", "sources", "list", "--json")
	require.NoError(t, err)

	var sources []domain.SourceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &sources))
	assert.Len(t, sources, 2)
}

func TestSourcesDeleteCmd(t *testing.T) {
	svc := newCollections()

	out, err := execute(t, &Services{Collections: svc}, "", "sources", "delete", "notes.md")

	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, svc.deleted)
	assert.Contains(t, out, "Deleted 5 chunk(s) of notes.md from docs")
}

func TestSourcesDeleteCmd_NotStored(t *testing.T) {
	_, err := execute(t, &Services{Collections: newCollections()}, "", "sources", "rm", "missing.md")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "source missing.md is not stored in docs")
}

func TestSourcesCmd_Errors(t *testing.T) {
	_, err := execute(t, &Services{}, "", "sources", "list")
	assert.ErrorIs(t, err, errNotConfigured)

	boom := errors.New("store closed")
	_, err = execute(t, &Services{Collections: &mockCollectionService{err: boom}}, "", "sources", "list")
	assert.ErrorIs(t, err, boom)

	_, err = execute(t, &Services{Collections: newCollections()}, "", "sources", "delete")
	assert.Error(t, err)
}

func TestCollectionsCmd(t *testing.T) {
	out, err := execute(t, &Services{Collections: newCollections()}, "", "collections")

	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `docs\s+2\s+14\s+768`, out)
	assert.Regexp(t, `handbook\s+1\s+3\s+768`, out)
}

func TestCollectionsCmd_Empty(t *testing.T) {
	out, err := execute(t, &Services{Collections: &mockCollectionService{}}, "", "collections")

	require.NoError(t, err)
	assert.Contains(t, out, "No collections yet.")
}
