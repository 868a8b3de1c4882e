package normalisers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/normalisers/html"
	"github.com/custodia-labs/ragpipe/internal/normalisers/pdf"
	"github.com/custodia-labs/ragpipe/internal/normalisers/plaintext"
)

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry maps source kinds to normalisers.
type Registry struct {
	web  driven.Normaliser
	text driven.Normaliser
	pdf  driven.Normaliser
}

// NewRegistry creates a registry with the built-in normalisers.
func NewRegistry() *Registry {
	return &Registry{
		web:  html.New(),
		text: plaintext.New(),
		pdf:  pdf.New(),
	}
}

// For returns the normaliser for kind. Sitemaps and images have no
// text extraction and return an error wrapping domain.ErrUnsupportedType.
func (r *Registry) For(kind domain.SourceKind) (driven.Normaliser, error) {
	switch kind {
	case domain.KindWebPage:
		return r.web, nil
	case domain.KindPlainText:
		return r.text, nil
	case domain.KindPDF:
		return r.pdf, nil
	case domain.KindSitemap, domain.KindImage:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedType, kind)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrUnsupportedType, kind)
	}
}

// Normalise selects a normaliser by raw.Kind and fills the document's
// identity and provenance from the raw document. An image is reported as
// a ChunkingError because it is a valid source that yields no text.
func (r *Registry) Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	n, err := r.For(raw.Kind)
	if err != nil {
		if raw.Kind == domain.KindImage {
			return nil, &domain.ChunkingError{URI: raw.URI, Err: err}
		}
		return nil, err
	}

	result, err := n.Normalise(ctx, raw)
	if err != nil {
		return nil, err
	}

	doc := result.Document
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("%s: %w", raw.URI, domain.ErrEmptyDocument)
	}

	doc.ID = uuid.New().String()
	doc.Source = raw.Source
	doc.URI = raw.URI
	doc.Kind = raw.Kind
	doc.ContentType = raw.ContentType
	doc.FetchedAt = raw.FetchedAt

	meta := make(map[string]string, len(raw.Metadata)+len(doc.Metadata)+1)
	for k, v := range raw.Metadata {
		meta[k] = v
	}
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if raw.Source != "" {
		meta[domain.MetaOrigin] = raw.Source
	}
	doc.Metadata = meta

	return &doc, nil
}
