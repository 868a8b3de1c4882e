package chunker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

func concat(chunks []domain.Chunk) string {
	var b strings.Builder
	for i := range chunks {
		b.WriteString(chunks[i].Content)
	}
	return b.String()
}

func process(t *testing.T, p *Processor, content string) []domain.Chunk {
	t.Helper()
	chunks, err := p.Process(context.Background(), &domain.Document{ID: "doc-1", URI: "test.md", Content: content}, nil)
	require.NoError(t, err)
	return chunks
}

// paragraph builds roughly n characters of prose.
func paragraph(n int) string {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[i%len(words)])
	}
	return b.String()[:n]
}

func TestNew(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		p := New()
		assert.Equal(t, DefaultChunkSize, p.ChunkSize())
		assert.Equal(t, DefaultHeadingDepth, p.headingDepth)
		assert.True(t, p.hardSplit)
	})

	t.Run("custom options", func(t *testing.T) {
		p := New(WithChunkSize(500), WithHeadingDepth(2), WithHardSplit(false))
		assert.Equal(t, 500, p.ChunkSize())
		assert.Equal(t, 2, p.headingDepth)
		assert.False(t, p.hardSplit)
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		p := New(WithChunkSize(0), WithHeadingDepth(9))
		assert.Equal(t, DefaultChunkSize, p.ChunkSize())
		assert.Equal(t, DefaultHeadingDepth, p.headingDepth)
	})
}

func TestProcessor_Name(t *testing.T) {
	assert.Equal(t, "chunker", New().Name())
}

func TestProcessor_EmptyContent(t *testing.T) {
	chunks := process(t, New(), "")
	assert.Empty(t, chunks)
}

func TestProcessor_NilDocument(t *testing.T) {
	_, err := New().Process(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProcessor_InvalidUTF8(t *testing.T) {
	_, err := New().Process(context.Background(), &domain.Document{URI: "bad.txt", Content: "ok \xff\xfe"}, nil)

	var ce *domain.ChunkingError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bad.txt", ce.URI)
}

func TestProcessor_SmallDocumentIsOneChunk(t *testing.T) {
	content := "# Title\n\nShort body.\n"
	chunks := process(t, New(), content)

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, domain.BoundaryDocument, chunks[0].Boundary)
	assert.Equal(t, []string{"Title"}, chunks[0].HeaderPath)
	assert.Equal(t, utf8.RuneCountInString(content), chunks[0].CharCount)
	assert.Equal(t, 4, chunks[0].WordCount)
}

func TestProcessor_ThreeSectionsOf2500Chars(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 3; i++ {
		header := fmt.Sprintf("# Section %d\n\n", i)
		b.WriteString(header)
		b.WriteString(paragraph(833 - len(header) - 1))
		b.WriteString("\n")
	}
	content := b.String()
	require.InDelta(t, 2500, len(content), 5)

	chunks := process(t, New(WithChunkSize(1000)), content)

	require.Len(t, chunks, 3)
	assert.Equal(t, content, concat(chunks))
	for i, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, 1000)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, []string{fmt.Sprintf("Section %d", i+1)}, c.HeaderPath)
		assert.True(t, strings.HasPrefix(c.Content, "# Section"))
		assert.Equal(t, domain.BoundaryH1, c.Boundary)
		assert.False(t, c.Oversized)
	}
}

func TestProcessor_SubdividesOnlyOversizedSections(t *testing.T) {
	content := "# A\n" + paragraph(100) + "\n" +
		"# B\n" +
		"## B1\n" + paragraph(150) + "\n" +
		"## B2\n" + paragraph(150) + "\n"

	chunks := process(t, New(WithChunkSize(200)), content)

	require.Len(t, chunks, 3)
	assert.Equal(t, content, concat(chunks))
	assert.Equal(t, []string{"A"}, chunks[0].HeaderPath)
	assert.Equal(t, domain.BoundaryH1, chunks[0].Boundary)
	// "# B" heading line travels with the first sub-section.
	assert.True(t, strings.HasPrefix(chunks[1].Content, "# B\n## B1"))
	assert.Equal(t, []string{"B", "B1"}, chunks[1].HeaderPath)
	assert.Equal(t, []string{"B", "B2"}, chunks[2].HeaderPath)
	assert.Equal(t, domain.BoundaryH2, chunks[2].Boundary)
}

func TestProcessor_SmallUnitsAreNotMerged(t *testing.T) {
	content := "# A\nx\n# B\ny\n# C\n" + paragraph(300) + "\n"

	chunks := process(t, New(WithChunkSize(200)), content)

	// A and B would fit together but stay separate.
	require.Len(t, chunks, 4)
	assert.Equal(t, "# A\nx\n", chunks[0].Content)
	assert.Equal(t, "# B\ny\n", chunks[1].Content)
	assert.Equal(t, content, concat(chunks))
}

func TestProcessor_FallsBackToParagraphs(t *testing.T) {
	content := paragraph(120) + "\n\n" + paragraph(120) + "\n\n" + paragraph(120)

	chunks := process(t, New(WithChunkSize(150)), content)

	require.Len(t, chunks, 3)
	assert.Equal(t, content, concat(chunks))
	for _, c := range chunks {
		assert.Equal(t, domain.BoundaryParagraph, c.Boundary)
		assert.LessOrEqual(t, c.CharCount, 150)
	}
	assert.True(t, strings.HasSuffix(chunks[0].Content, "\n\n"))
}

func TestProcessor_HardSplit(t *testing.T) {
	content := strings.Repeat("x", 2500)

	chunks := process(t, New(WithChunkSize(1000)), content)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, chunks[0].CharCount)
	assert.Equal(t, 1000, chunks[1].CharCount)
	assert.Equal(t, 500, chunks[2].CharCount)
	assert.Equal(t, 1000, chunks[1].Offset)
	assert.Equal(t, 2000, chunks[2].Offset)
	for _, c := range chunks {
		assert.Equal(t, domain.BoundaryHard, c.Boundary)
	}
	assert.Equal(t, content, concat(chunks))
}

func TestProcessor_HardSplitRespectsRunes(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 40)

	chunks := process(t, New(WithChunkSize(50)), content)

	assert.Equal(t, content, concat(chunks))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
		assert.LessOrEqual(t, c.CharCount, 50)
	}
}

func TestProcessor_OversizedWithoutHardSplit(t *testing.T) {
	content := strings.Repeat("y", 300)

	chunks := process(t, New(WithChunkSize(100), WithHardSplit(false)), content)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Oversized)
	assert.Equal(t, 300, chunks[0].CharCount)
}

func TestProcessor_IgnoresHeadingsInCodeFences(t *testing.T) {
	code := "```bash\n# not a heading\necho hi\n\n# still code\n```\n"
	content := "# Real\n" + paragraph(60) + "\n\n" + code + paragraph(60) + "\n"

	chunks := process(t, New(WithChunkSize(80)), content)

	assert.Equal(t, content, concat(chunks))
	for _, c := range chunks {
		assert.Equal(t, []string{"Real"}, c.HeaderPath)
		assert.NotEqual(t, "# still code\n```\n", c.Content)
	}
}

func TestProcessor_SetextHeadings(t *testing.T) {
	content := "First\n=====\n" + paragraph(90) + "\n\n" + "Second\n======\n" + paragraph(90) + "\n"

	chunks := process(t, New(WithChunkSize(120)), content)

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"First"}, chunks[0].HeaderPath)
	assert.Equal(t, []string{"Second"}, chunks[1].HeaderPath)
}

func TestProcessor_PreambleBeforeFirstHeading(t *testing.T) {
	content := paragraph(80) + "\n# Body\n" + paragraph(80) + "\n"

	chunks := process(t, New(WithChunkSize(100)), content)

	require.Len(t, chunks, 2)
	assert.Empty(t, chunks[0].HeaderPath)
	assert.Equal(t, []string{"Body"}, chunks[1].HeaderPath)
}

func TestProcessor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Process(ctx, &domain.Document{Content: "text"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestProcessor_LosslessAndBounded checks the two chunking properties over
// generated documents: exact reconstruction and the size bound.
func TestProcessor_LosslessAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pieces := []string{
		"# Heading\n", "## Sub\n", "### Deep\n", "\n", "\n\n",
		"plain words here ", "ünïcödé ✓ ", "```\ncode # x\n```\n",
		"- item\n", "> quote\n", strings.Repeat("z", 70),
	}

	for i := 0; i < 200; i++ {
		var b strings.Builder
		n := rng.Intn(60)
		for j := 0; j < n; j++ {
			b.WriteString(pieces[rng.Intn(len(pieces))])
		}
		content := b.String()
		size := 20 + rng.Intn(200)

		chunks := process(t, New(WithChunkSize(size)), content)

		require.Equal(t, content, concat(chunks), "case %d", i)
		for k, c := range chunks {
			assert.Equal(t, k, c.Index)
			assert.LessOrEqual(t, c.CharCount, size, "case %d chunk %d", i, k)
			assert.False(t, c.Oversized)
		}
	}
}
