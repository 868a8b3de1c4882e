// Package filesystem reads local files as sources: a single file, a
// directory walked recursively, or a doublestar glob such as docs/**/*.md.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.SourceFetcher = (*Connector)(nil)

// DefaultMaxFileSize caps the size of a single file.
const DefaultMaxFileSize = 10 << 20

var errFileTooLarge = errors.New("file exceeds size limit")

// Connector fetches files from the local filesystem.
type Connector struct {
	maxBytes int64
	now      func() time.Time
}

// Option configures the connector.
type Option func(*Connector)

// WithMaxFileSize caps the number of bytes read per file.
func WithMaxFileSize(n int64) Option {
	return func(c *Connector) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// New creates a filesystem connector.
func New(opts ...Option) *Connector {
	c := &Connector{maxBytes: DefaultMaxFileSize, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch reads every file ref resolves to. Hidden files and directories
// below the walk root are skipped.
func (c *Connector) Fetch(ctx context.Context, ref domain.SourceRef, opts driven.FetchOptions) (<-chan domain.RawDocument, <-chan domain.Failure) {
	docs := make(chan domain.RawDocument)
	fails := make(chan domain.Failure)

	go func() {
		defer close(docs)
		defer close(fails)

		sched := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			sched, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		send := func(f domain.Failure) bool {
			select {
			case fails <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		paths, err := Resolve(ref.Raw)
		if err != nil {
			send(fetchFailure(ref.Raw, err))
			return
		}

		for _, p := range paths {
			if ctx.Err() != nil {
				return
			}
			if sched.Err() != nil {
				if !send(fetchFailure(p, domain.ErrSkipped)) {
					return
				}
				continue
			}

			doc, err := c.read(ref.Raw, p)
			if err != nil {
				if !send(fetchFailure(p, err)) {
					return
				}
				continue
			}

			select {
			case docs <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return docs, fails
}

// Resolve expands a local reference to a sorted list of absolute file
// paths. A reference containing glob metacharacters is matched with
// doublestar; a directory is walked recursively.
func Resolve(ref string) ([]string, error) {
	if IsGlob(ref) {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(ref))
		matches, err := doublestar.FilepathGlob(ref, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %v", domain.ErrInvalidInput, ref, err)
		}
		return visible(filepath.FromSlash(base), matches)
	}

	info, err := os.Stat(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: path does not exist: %s", domain.ErrNotFound, ref)
		}
		return nil, err
	}

	if !info.IsDir() {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, err
		}
		return []string{abs}, nil
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(ref, "**", "*"), doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	return visible(ref, matches)
}

// IsGlob reports whether ref contains glob metacharacters.
func IsGlob(ref string) bool {
	return strings.ContainsAny(ref, "*?[{")
}

// visible drops paths hidden relative to root and returns the rest as
// sorted absolute paths.
func visible(root string, matches []string) ([]string, error) {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			rel = m
		}
		if isHidden(rel) {
			continue
		}
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Connector) read(source, path string) (domain.RawDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RawDocument{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.RawDocument{}, err
	}
	if info.Size() > c.maxBytes {
		return domain.RawDocument{}, errFileTooLarge
	}

	content, err := io.ReadAll(io.LimitReader(f, c.maxBytes+1))
	if err != nil {
		return domain.RawDocument{}, err
	}
	if int64(len(content)) > c.maxBytes {
		return domain.RawDocument{}, errFileTooLarge
	}

	filename := filepath.Base(path)
	return domain.RawDocument{
		Source:      source,
		URI:         path,
		Kind:        domain.ClassifyPath(path),
		ContentType: detectMIMEType(filename),
		Content:     content,
		FetchedAt:   c.now(),
		Metadata: map[string]string{
			"filename":  filename,
			"extension": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
			"size":      strconv.FormatInt(info.Size(), 10),
			"mod_time":  info.ModTime().UTC().Format(time.RFC3339),
		},
	}, nil
}

func fetchFailure(uri string, err error) domain.Failure {
	reason := domain.ReasonFetch
	if errors.Is(err, domain.ErrSkipped) {
		reason = domain.ReasonSkipped
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) && !errors.Is(err, domain.ErrSkipped) {
		err = &domain.FetchError{URL: uri, Err: err}
	}
	return domain.Failure{URI: uri, Stage: domain.StageFetch, Reason: reason, Err: err}
}

// Extensions the mime package does not know on every platform.
var fallbackMIMETypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mdx":      "text/markdown",
	".txt":      "text/plain",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".rs":       "text/x-rust",
	".ts":       "text/typescript",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "text/toml",
	".sh":       "text/x-shellscript",
	".sql":      "text/x-sql",
}

// detectMIMEType returns the media type for a filename, without parameters.
func detectMIMEType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "text/plain"
	}
	if mt, ok := fallbackMIMETypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	return "application/octet-stream"
}

// isHidden reports whether any element of path starts with a dot,
// ignoring "." and "..".
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
