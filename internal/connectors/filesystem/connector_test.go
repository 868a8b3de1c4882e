package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

func collect(docs <-chan domain.RawDocument, fails <-chan domain.Failure) ([]domain.RawDocument, []domain.Failure) {
	var (
		gotDocs  []domain.RawDocument
		gotFails []domain.Failure
	)
	for docs != nil || fails != nil {
		select {
		case d, ok := <-docs:
			if !ok {
				docs = nil
				continue
			}
			gotDocs = append(gotDocs, d)
		case f, ok := <-fails:
			if !ok {
				fails = nil
				continue
			}
			gotFails = append(gotFails, f)
		}
	}
	return gotDocs, gotFails
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fetch(t *testing.T, c *Connector, raw string, opts driven.FetchOptions) ([]domain.RawDocument, []domain.Failure) {
	t.Helper()
	ref, err := domain.ParseSourceRef(raw)
	require.NoError(t, err)
	require.True(t, ref.Local)
	return collect(c.Fetch(context.Background(), ref, opts))
}

func TestNew(t *testing.T) {
	c := New()
	assert.Equal(t, int64(DefaultMaxFileSize), c.maxBytes)

	c = New(WithMaxFileSize(10))
	assert.Equal(t, int64(10), c.maxBytes)
}

func TestConnector_Fetch(t *testing.T) {
	t.Run("single file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "guide.md")
		writeFile(t, path, "# Guide\n")

		docs, fails := fetch(t, New(), path, driven.FetchOptions{})

		require.Len(t, docs, 1)
		assert.Empty(t, fails)
		doc := docs[0]
		assert.Equal(t, path, doc.Source)
		assert.Equal(t, path, doc.URI)
		assert.Equal(t, domain.KindPlainText, doc.Kind)
		assert.Equal(t, "text/markdown", doc.ContentType)
		assert.Equal(t, []byte("# Guide\n"), doc.Content)
		assert.Equal(t, "guide.md", doc.Metadata["filename"])
		assert.Equal(t, "md", doc.Metadata["extension"])
		assert.Equal(t, "8", doc.Metadata["size"])
	})

	t.Run("directory is walked recursively and skips hidden files", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.txt"), "a")
		writeFile(t, filepath.Join(dir, "sub", "b.md"), "b")
		writeFile(t, filepath.Join(dir, "sub", "page.html"), "<p>c</p>")
		writeFile(t, filepath.Join(dir, ".hidden.txt"), "hidden")
		writeFile(t, filepath.Join(dir, ".git", "config"), "hidden")

		docs, fails := fetch(t, New(), dir, driven.FetchOptions{})

		assert.Empty(t, fails)
		require.Len(t, docs, 3)
		assert.Equal(t, filepath.Join(dir, "a.txt"), docs[0].URI)
		assert.Equal(t, filepath.Join(dir, "sub", "b.md"), docs[1].URI)
		assert.Equal(t, domain.KindWebPage, docs[2].Kind)
		for _, d := range docs {
			assert.Equal(t, dir, d.Source)
		}
	})

	t.Run("glob", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "docs", "one.md"), "1")
		writeFile(t, filepath.Join(dir, "docs", "deep", "two.md"), "2")
		writeFile(t, filepath.Join(dir, "docs", "three.txt"), "3")

		docs, fails := fetch(t, New(), filepath.Join(dir, "docs", "**", "*.md"), driven.FetchOptions{})

		assert.Empty(t, fails)
		require.Len(t, docs, 2)
		assert.Equal(t, filepath.Join(dir, "docs", "deep", "two.md"), docs[0].URI)
		assert.Equal(t, filepath.Join(dir, "docs", "one.md"), docs[1].URI)
	})

	t.Run("non-existent path", func(t *testing.T) {
		docs, fails := fetch(t, New(), "/non/existent/path.txt", driven.FetchOptions{})

		assert.Empty(t, docs)
		require.Len(t, fails, 1)
		assert.Equal(t, domain.ReasonFetch, fails[0].Reason)
		assert.ErrorIs(t, fails[0].Err, domain.ErrNotFound)
		assert.Contains(t, fails[0].Err.Error(), "does not exist")
	})

	t.Run("oversized file is a failure", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "big.txt"), "0123456789abcdef")
		writeFile(t, filepath.Join(dir, "small.txt"), "ok")

		docs, fails := fetch(t, New(WithMaxFileSize(8)), dir, driven.FetchOptions{})

		require.Len(t, docs, 1)
		assert.Equal(t, filepath.Join(dir, "small.txt"), docs[0].URI)
		require.Len(t, fails, 1)
		assert.ErrorIs(t, fails[0].Err, errFileTooLarge)
		var fe *domain.FetchError
		assert.ErrorAs(t, fails[0].Err, &fe)
	})

	t.Run("cancelled context closes channels", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.txt"), "a")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ref, err := domain.ParseSourceRef(dir)
		require.NoError(t, err)
		docs, fails := New().Fetch(ctx, ref, driven.FetchOptions{})

		done := make(chan struct{})
		go func() {
			collect(docs, fails)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("channels not closed")
		}
	})
}

func TestIsGlob(t *testing.T) {
	assert.True(t, IsGlob("docs/**/*.md"))
	assert.True(t, IsGlob("file?.txt"))
	assert.True(t, IsGlob("{a,b}.md"))
	assert.False(t, IsGlob("docs/guide.md"))
}

// TestDetectMIMEType tests the detectMIMEType function with various file extensions.
func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		filename     string
		expectedMIME string
	}{
		{"file", "text/plain"},
		{"doc.md", "text/markdown"},
		{"doc.markdown", "text/markdown"},
		{"code.go", "text/x-go"},
		{"config.yaml", "text/yaml"},
		{"config.toml", "text/toml"},
		{"data.json", "application/json"},
		{"page.html", "text/html"},
		{"doc.pdf", "application/pdf"},
		{"image.png", "image/png"},
		{"file.zzzzunknown", "application/octet-stream"},
		{"FILE.MD", "text/markdown"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			mimeType := detectMIMEType(tt.filename)
			assert.Equal(t, tt.expectedMIME, mimeType)
			assert.NotContains(t, mimeType, ";")
		})
	}
}

// TestIsHidden tests the isHidden function with various path scenarios.
func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{"path/to/.hidden", true},
		{"/path/.hidden/file.txt", true},
		{"dir/.git/config", true},
		{".config/.cache/data", true},
		{"file.txt", false},
		{"path/to/file.txt", false},
		{".", false},
		{"..", false},
		{"path/./file", false},
		{"path/../file", false},
		{"", false},
		{"/", false},
		{"file.hidden", false},
		{"directory.name/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isHidden(tt.path))
		})
	}
}
