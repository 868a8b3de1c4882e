// Package plaintext normalises plain text and Markdown documents. The text
// is kept as written apart from line endings, a leading byte order mark
// and invalid UTF-8 sequences.
package plaintext

import (
	"context"
	"path"
	"strings"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

var markdownExts = map[string]bool{
	".md": true, ".markdown": true, ".mdx": true,
}

// Normaliser handles plain text documents.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Kinds returns the source kinds this normaliser handles.
func (n *Normaliser) Kinds() []domain.SourceKind {
	return []domain.SourceKind{domain.KindPlainText}
}

// Normalise converts a raw document to a normalised document.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	content := string(raw.Content)
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ToValidUTF8(content, "\ufffd")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	format := "text"
	if isMarkdown(raw) {
		format = "markdown"
	}

	title := raw.Metadata[domain.MetaTitle]
	if title == "" {
		title = firstHeading(content)
	}
	if title == "" {
		title = domain.TitleFromURI(raw.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.Document{
			Title:    title,
			Content:  content,
			Metadata: map[string]string{"format": format},
		},
	}, nil
}

func isMarkdown(raw *domain.RawDocument) bool {
	if strings.Contains(raw.ContentType, "markdown") {
		return true
	}
	uri := raw.URI
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return markdownExts[strings.ToLower(path.Ext(uri))]
}

// firstHeading returns the text of the first ATX level one heading
// outside fenced code.
func firstHeading(content string) string {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimRight(trimmed[2:], "#"))
		}
	}
	return ""
}
