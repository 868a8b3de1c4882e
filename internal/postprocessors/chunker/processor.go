// Package chunker provides a hierarchical, lossless text chunking processor.
//
// Text is split at the coarsest structural boundary that exists (top-level
// headings, then second and third level headings, then blank-line
// paragraphs) and only pieces still over the limit are split further.
// A hard character split is the last resort. Concatenating the chunks in
// order always reproduces the input exactly.
package chunker

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Processor implements the interface.
var _ driven.PostProcessor = (*Processor)(nil)

// DefaultChunkSize is the default maximum number of characters per chunk.
const DefaultChunkSize = domain.DefaultChunkSize

// DefaultHeadingDepth is the deepest heading level used as a split boundary.
const DefaultHeadingDepth = 3

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// Processor splits document content into bounded chunks along headings
// and paragraphs. It implements the PostProcessor interface.
type Processor struct {
	chunkSize    int
	headingDepth int
	hardSplit    bool
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithHeadingDepth sets the deepest heading level (1-6) treated as a boundary.
func WithHeadingDepth(depth int) Option {
	return func(p *Processor) {
		if depth >= 1 && depth <= 6 {
			p.headingDepth = depth
		}
	}
}

// WithHardSplit enables or disables the final character-count split.
// When disabled, a unit with no structural boundary under the limit is
// emitted whole and flagged Oversized.
func WithHardSplit(enabled bool) Option {
	return func(p *Processor) {
		p.hardSplit = enabled
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize:    DefaultChunkSize,
		headingDepth: DefaultHeadingDepth,
		hardSplit:    true,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkSize returns the configured maximum chunk size.
func (p *Processor) ChunkSize() int {
	return p.chunkSize
}

// Process splits the document content into chunks.
// Input chunks are ignored; this processor creates new chunks from document content.
func (p *Processor) Process(ctx context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}
	if doc.Content == "" {
		// Empty content produces no chunks
		return nil, nil
	}
	if !utf8.ValidString(doc.Content) {
		return nil, &domain.ChunkingError{URI: doc.URI, Err: errInvalidUTF8}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := newSplitter(doc.Content, p)
	s.split(0, len(doc.Content), 0, domain.BoundaryDocument)

	chunks := make([]domain.Chunk, 0, len(s.spans))
	offset := 0
	for i, sp := range s.spans {
		content := doc.Content[sp.start:sp.end]
		chars := utf8.RuneCountInString(content)
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Content:    content,
			Offset:     offset,
			HeaderPath: s.headerPath(s.pathOffset(sp)),
			CharCount:  chars,
			WordCount:  len(strings.Fields(content)),
			Boundary:   sp.boundary,
			Oversized:  sp.oversized,
		})
		offset += chars
	}

	return chunks, nil
}

// heading is a top-level heading found by the markdown parser.
type heading struct {
	offset int // byte offset of the heading's first line
	level  int
	title  string
}

// span is a byte range of the input that becomes one chunk.
type span struct {
	start, end int
	boundary   domain.Boundary
	oversized  bool
}

type splitter struct {
	text     string
	max      int
	hard     bool
	levels   []domain.Boundary
	headings []heading
	code     [][2]int
	spans    []span
}

var headingBoundaries = []domain.Boundary{
	domain.BoundaryH1, domain.BoundaryH2, domain.BoundaryH3,
	"h4", "h5", "h6",
}

func newSplitter(content string, p *Processor) *splitter {
	s := &splitter{
		text: content,
		max:  p.chunkSize,
		hard: p.hardSplit,
	}
	s.levels = append(s.levels, headingBoundaries[:p.headingDepth]...)
	s.levels = append(s.levels, domain.BoundaryParagraph)

	src := []byte(content)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	// Only top-level blocks count: a heading inside a list or blockquote
	// does not open a section.
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			lines := node.Lines()
			if lines.Len() == 0 {
				continue
			}
			parts := make([]string, 0, lines.Len())
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				parts = append(parts, strings.TrimSpace(string(seg.Value(src))))
			}
			s.headings = append(s.headings, heading{
				offset: lineStart(content, lines.At(0).Start),
				level:  node.Level,
				title:  strings.Join(parts, " "),
			})
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			if lines.Len() == 0 {
				continue
			}
			s.code = append(s.code, [2]int{lines.At(0).Start, lines.At(lines.Len() - 1).Stop})
		}
	}

	return s
}

// split emits spans covering [start, end). depth indexes s.levels and is
// the first boundary kind tried for this range.
func (s *splitter) split(start, end, depth int, boundary domain.Boundary) {
	if s.runes(start, end) <= s.max {
		s.emit(span{start: start, end: end, boundary: boundary})
		return
	}

	for d := depth; d < len(s.levels); d++ {
		cuts := s.cuts(s.levels[d], start, end)
		if len(cuts) == 0 {
			continue
		}
		prev := start
		for _, c := range append(cuts, end) {
			// A bare heading stays with the unit that follows it.
			if c < end && s.headingOnly(prev, c) {
				continue
			}
			if c > prev {
				s.split(prev, c, d+1, s.levels[d])
			}
			prev = c
		}
		return
	}

	if !s.hard {
		s.emit(span{start: start, end: end, boundary: boundary, oversized: true})
		return
	}
	s.hardSplit(start, end)
}

// cuts returns the byte offsets strictly inside (start, end) where a unit
// of the given boundary kind begins.
func (s *splitter) cuts(b domain.Boundary, start, end int) []int {
	if b == domain.BoundaryParagraph {
		return s.paragraphCuts(start, end)
	}

	level := 0
	for i, hb := range headingBoundaries {
		if hb == b {
			level = i + 1
		}
	}

	var out []int
	for _, h := range s.headings {
		if h.level == level && h.offset > start && h.offset < end {
			out = append(out, h.offset)
		}
	}
	return out
}

// paragraphCuts returns the starts of non-blank lines that follow a blank
// line, outside code blocks.
func (s *splitter) paragraphCuts(start, end int) []int {
	var out []int
	prevBlank := false
	for pos := start; pos < end; {
		lineEnd := end
		if nl := strings.IndexByte(s.text[pos:end], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		blank := strings.TrimSpace(s.text[pos:lineEnd]) == ""
		if !blank && prevBlank && pos > start && !s.inCode(pos) {
			out = append(out, pos)
		}
		prevBlank = blank
		pos = lineEnd
	}
	return out
}

// hardSplit cuts [start, end) every max runes.
func (s *splitter) hardSplit(start, end int) {
	pos, count := start, 0
	for i := range s.text[start:end] {
		if count == s.max {
			s.emit(span{start: pos, end: start + i, boundary: domain.BoundaryHard})
			pos, count = start+i, 0
		}
		count++
	}
	if pos < end {
		s.emit(span{start: pos, end: end, boundary: domain.BoundaryHard})
	}
}

// emit appends a span. Whitespace-only spans are folded into the previous
// span when it stays within the limit.
func (s *splitter) emit(sp span) {
	if n := len(s.spans); n > 0 && strings.TrimSpace(s.text[sp.start:sp.end]) == "" {
		prev := &s.spans[n-1]
		if prev.end == sp.start && s.runes(prev.start, sp.end) <= s.max {
			prev.end = sp.end
			return
		}
	}
	s.spans = append(s.spans, sp)
}

// headerPath returns the titles of the headings enclosing offset.
func (s *splitter) headerPath(offset int) []string {
	var path [6]string
	for _, h := range s.headings {
		if h.offset > offset {
			break
		}
		path[h.level-1] = h.title
		for l := h.level; l < len(path); l++ {
			path[l] = ""
		}
	}

	var out []string
	for _, t := range path {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// bodyStart returns the offset of the first line in [start, end) that is
// not a heading, so a chunk opening with "# A\n## B" is tagged A > B.
func (s *splitter) bodyStart(start, end int) int {
	pos := start
	for pos < end {
		lineEnd := end
		if nl := strings.IndexByte(s.text[pos:end], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		if !s.isHeadingLine(pos, lineEnd) {
			return pos
		}
		pos = lineEnd
	}
	return end
}

// pathOffset is where a span's header path is read: its first body line,
// or its last byte when it holds only headings.
func (s *splitter) pathOffset(sp span) int {
	if body := s.bodyStart(sp.start, sp.end); body < sp.end {
		return body
	}
	return sp.end - 1
}

// headingOnly reports whether [start, end) holds nothing but headings and
// blank lines.
func (s *splitter) headingOnly(start, end int) bool {
	return end > start && s.bodyStart(start, end) == end
}

func (s *splitter) isHeadingLine(start, end int) bool {
	line := strings.TrimSpace(s.text[start:end])
	if line == "" {
		return true
	}
	if strings.Trim(line, "=") == "" || strings.Trim(line, "-") == "" {
		return true
	}
	for _, h := range s.headings {
		if h.offset == start {
			return true
		}
		if h.offset > start {
			break
		}
	}
	return false
}

func (s *splitter) inCode(pos int) bool {
	for _, c := range s.code {
		if pos >= c[0] && pos < c[1] {
			return true
		}
	}
	return false
}

func (s *splitter) runes(start, end int) int {
	return utf8.RuneCountInString(s.text[start:end])
}

// lineStart returns the offset of the start of the line containing pos.
func lineStart(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	return strings.LastIndexByte(content[:pos], '\n') + 1
}
