package driven

import (
	"context"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// Normaliser transforms raw documents into normalised text.
// Each normaliser handles one or more source kinds.
type Normaliser interface {
	// Kinds returns the source kinds this normaliser handles.
	Kinds() []domain.SourceKind

	// Normalise transforms a raw document into a document with Content set.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*NormaliseResult, error)
}

// NormaliseResult contains the output of normalisation.
// Note: Normalisation only produces a Document with Content.
// Chunking is handled by the PostProcessor pipeline.
type NormaliseResult struct {
	// Document is the normalised document with Content field populated.
	Document domain.Document
}

// NormaliserRegistry selects the normaliser for a raw document's kind.
type NormaliserRegistry interface {
	// Normalise dispatches on raw.Kind. Kinds without extractable text
	// return an error wrapping domain.ErrUnsupportedType.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error)
}
