package domain

import (
	"strconv"
	"strings"
	"time"
)

// HeaderPathSeparator joins header path segments in flattened metadata.
const HeaderPathSeparator = " > "

// Document is the normalised text of one fetched unit.
// It is superseded, never mutated, when its source is re-ingested.
type Document struct {
	// ID is the unique identifier for this fetch of the document.
	ID string

	// Source is the source reference the ingestion was started with.
	Source string

	// URI is the document's own location (page URL or file path).
	URI string

	// Kind is the source variant the document was fetched as.
	Kind SourceKind

	// Title is the human-readable document title.
	Title string

	// Content is the normalised text. Chunkers split exactly this string.
	Content string

	// ContentType is the original content type hint.
	ContentType string

	// FetchedAt is when the raw bytes were obtained.
	FetchedAt time.Time

	// Metadata contains normaliser-specific key-value pairs.
	Metadata map[string]string
}

// Boundary names the structural level a chunk was cut at.
type Boundary string

// Boundaries, from coarsest to finest.
const (
	BoundaryDocument  Boundary = "document"
	BoundaryH1        Boundary = "h1"
	BoundaryH2        Boundary = "h2"
	BoundaryH3        Boundary = "h3"
	BoundaryParagraph Boundary = "paragraph"
	BoundaryHard      Boundary = "hard"
)

// Chunk is a bounded slice of a document's normalised text.
type Chunk struct {
	// DocumentID links to the owning document.
	DocumentID string

	// Index is the sequence index within the document, starting at 0.
	Index int

	// Content is the chunk text.
	Content string

	// Offset is the rune offset of Content within the document.
	Offset int

	// HeaderPath holds the titles of the enclosing sections, outermost first.
	HeaderPath []string

	// CharCount is the number of characters (runes) in Content.
	CharCount int

	// WordCount is the number of whitespace separated words in Content.
	WordCount int

	// Boundary is the structural level this chunk was cut at.
	Boundary Boundary

	// Oversized marks a chunk longer than the configured maximum because
	// its structural unit could not be divided further.
	Oversized bool

	// Metadata holds annotations added by post-processors.
	Metadata map[string]string
}

// Record is the persisted unit in a collection: a chunk, its embedding
// and provenance metadata. (Collection, Source, ChunkIndex) is unique.
type Record struct {
	// Collection is the named partition the record belongs to.
	Collection string `json:"collection"`

	// Source is the document location used for provenance (page URL or path).
	Source string `json:"source"`

	// ChunkIndex is the chunk's sequence index within the source.
	ChunkIndex int `json:"chunk_index"`

	// Content is the chunk text.
	Content string `json:"content"`

	// HeaderPath holds the titles of the enclosing sections.
	HeaderPath []string `json:"header_path,omitempty"`

	// CharCount is the number of characters in Content.
	CharCount int `json:"char_count"`

	// WordCount is the number of words in Content.
	WordCount int `json:"word_count"`

	// Metadata holds flat string metadata usable in filters.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Embedding is the vector for Content.
	Embedding []float32 `json:"-"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// ID returns a stable identifier derived from the uniqueness key.
func (r *Record) ID() string {
	return r.Source + "#" + strconv.Itoa(r.ChunkIndex)
}

// HeaderPathString returns the header path joined for display.
func (r *Record) HeaderPathString() string {
	return strings.Join(r.HeaderPath, HeaderPathSeparator)
}

// Metadata keys written on every record.
const (
	MetaHeaderPath = "header_path"
	MetaCharCount  = "char_count"
	MetaWordCount  = "word_count"
	MetaTitle      = "title"
	MetaKind       = "kind"
	MetaBoundary   = "boundary"
	MetaOrigin     = "origin"
	MetaOversized  = "oversized"
)

// TitleFromURI derives a readable title from the last path segment of a
// URL or file path, falling back to the host for a bare URL.
func TitleFromURI(uri string) string {
	s := uri
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	host := ""
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		host, _, _ = strings.Cut(s, "/")
		s = strings.TrimPrefix(s, host)
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if dot := strings.LastIndexByte(s, '.'); dot > 0 {
		s = s[:dot]
	}
	s = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	if s == "" {
		return host
	}
	return s
}
