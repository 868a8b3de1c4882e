// Package pdf extracts plain text from PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// pageSeparator sits between the text of consecutive pages so the chunker
// sees a paragraph boundary.
const pageSeparator = "\n\n"

// Normaliser handles PDF documents.
type Normaliser struct{}

// New creates a new PDF normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Kinds returns the source kinds this normaliser handles.
func (n *Normaliser) Kinds() []domain.SourceKind {
	return []domain.SourceKind{domain.KindPDF}
}

// Normalise extracts the text of every page. Pages that fail to decode
// are skipped; a PDF with no extractable text yields empty content.
func (n *Normaliser) Normalise(ctx context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw.Content), int64(len(raw.Content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Debug("pdf %s: page %d: %v", raw.URI, i, err)
			continue
		}
		text = strings.TrimSpace(strings.ToValidUTF8(text, "\ufffd"))
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(pageSeparator)
		}
		sb.WriteString(text)
	}

	title := raw.Metadata[domain.MetaTitle]
	if title == "" {
		title = domain.TitleFromURI(raw.URI)
	}

	content := sb.String()
	if content != "" {
		content += "\n"
	}

	return &driven.NormaliseResult{
		Document: domain.Document{
			Title:   title,
			Content: content,
			Metadata: map[string]string{
				"format": "pdf",
				"pages":  fmt.Sprint(pages),
			},
		},
	}, nil
}
