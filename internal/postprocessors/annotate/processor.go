// Package annotate copies document and chunk attributes into chunk metadata
// so they survive the trip into the record store.
package annotate

import (
	"context"
	"strconv"
	"strings"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Processor implements the interface.
var _ driven.PostProcessor = (*Processor)(nil)

// Processor fills chunk metadata. It never creates or drops chunks.
type Processor struct {
	docKeys []string
}

// Option configures the annotate processor.
type Option func(*Processor)

// WithDocumentKeys selects which document metadata keys are copied onto
// every chunk. By default only domain.MetaOrigin is copied.
func WithDocumentKeys(keys ...string) Option {
	return func(p *Processor) {
		p.docKeys = keys
	}
}

// New creates an annotate processor.
func New(opts ...Option) *Processor {
	p := &Processor{docKeys: []string{domain.MetaOrigin}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "annotate"
}

// Process annotates the chunks in place and returns them.
func (p *Processor) Process(_ context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.Chunk, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	for i := range chunks {
		c := &chunks[i]
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, 8)
		}
		for _, k := range p.docKeys {
			if v, ok := doc.Metadata[k]; ok && v != "" {
				c.Metadata[k] = v
			}
		}
		if doc.Title != "" {
			c.Metadata[domain.MetaTitle] = doc.Title
		}
		if doc.Kind != "" {
			c.Metadata[domain.MetaKind] = string(doc.Kind)
		}
		if len(c.HeaderPath) > 0 {
			c.Metadata[domain.MetaHeaderPath] = strings.Join(c.HeaderPath, domain.HeaderPathSeparator)
		}
		c.Metadata[domain.MetaCharCount] = strconv.Itoa(c.CharCount)
		c.Metadata[domain.MetaWordCount] = strconv.Itoa(c.WordCount)
		if c.Boundary != "" {
			c.Metadata[domain.MetaBoundary] = string(c.Boundary)
		}
		if c.Oversized {
			c.Metadata[domain.MetaOversized] = "true"
		}
	}

	return chunks, nil
}
