package normalisers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

func TestRegistry_For(t *testing.T) {
	r := NewRegistry()

	for _, kind := range []domain.SourceKind{domain.KindWebPage, domain.KindPlainText, domain.KindPDF} {
		n, err := r.For(kind)
		require.NoError(t, err, kind)
		assert.Contains(t, n.Kinds(), kind)
	}

	for _, kind := range []domain.SourceKind{domain.KindSitemap, domain.KindImage, "video"} {
		_, err := r.For(kind)
		assert.ErrorIs(t, err, domain.ErrUnsupportedType, kind)
	}
}

func TestRegistry_EveryKindHandled(t *testing.T) {
	r := NewRegistry()
	for _, kind := range domain.AllSourceKinds() {
		n, err := r.For(kind)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrUnsupportedType)
			continue
		}
		assert.NotNil(t, n)
	}
}

func TestRegistry_Normalise_StampsProvenance(t *testing.T) {
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := &domain.RawDocument{
		Source:      "https://example.com/sitemap.xml",
		URI:         "https://example.com/guide.md",
		Kind:        domain.KindPlainText,
		ContentType: "text/markdown",
		Content:     []byte("# Guide\n\nBody.\n"),
		FetchedAt:   fetched,
		Metadata:    map[string]string{"etag": "abc"},
	}

	doc, err := NewRegistry().Normalise(context.Background(), raw)
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, raw.Source, doc.Source)
	assert.Equal(t, raw.URI, doc.URI)
	assert.Equal(t, domain.KindPlainText, doc.Kind)
	assert.Equal(t, "text/markdown", doc.ContentType)
	assert.Equal(t, fetched, doc.FetchedAt)
	assert.Equal(t, "Guide", doc.Title)
	assert.Equal(t, "abc", doc.Metadata["etag"])
	assert.Equal(t, "markdown", doc.Metadata["format"])
	assert.Equal(t, raw.Source, doc.Metadata[domain.MetaOrigin])
}

func TestRegistry_Normalise_Image(t *testing.T) {
	_, err := NewRegistry().Normalise(context.Background(), &domain.RawDocument{
		URI:  "https://example.com/logo.png",
		Kind: domain.KindImage,
	})

	var ce *domain.ChunkingError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "https://example.com/logo.png", ce.URI)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	assert.Equal(t, domain.ReasonChunk, domain.ReasonFor(err))
}

func TestRegistry_Normalise_Sitemap(t *testing.T) {
	_, err := NewRegistry().Normalise(context.Background(), &domain.RawDocument{Kind: domain.KindSitemap})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestRegistry_Normalise_Empty(t *testing.T) {
	_, err := NewRegistry().Normalise(context.Background(), &domain.RawDocument{
		URI:     "blank.txt",
		Kind:    domain.KindPlainText,
		Content: []byte(" \n\n "),
	})
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestRegistry_Normalise_Nil(t *testing.T) {
	_, err := NewRegistry().Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
