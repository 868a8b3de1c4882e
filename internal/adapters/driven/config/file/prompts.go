package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

var _ driven.PromptStore = (*PromptStore)(nil)

const promptExt = ".txt"

// PromptStore serves answer prompts from <dir>/<name>.txt so users can
// edit them. On first use the directory is seeded with the built-in
// templates; if that fails the built-ins are served directly.
type PromptStore struct {
	dir  string
	seed func() error

	mu     sync.RWMutex
	loaded map[string]string
}

// DefaultPrompts returns the built-in templates. PromptAnswer holds the
// {{context}} and {{question}} placeholders.
func DefaultPrompts() map[string]string {
	return map[string]string{
		driven.PromptAnswerSystem: `You answer questions using only the numbered context passages you are given.
Cite passages by their number in square brackets, e.g. [2].
If the context does not contain the answer, say that you do not know.`,

		driven.PromptAnswer: `Context:
{{context}}

Question: {{question}}

Answer:`,
	}
}

// NewPromptStore returns a store over dir, ~/.ragpipe/prompts when empty.
// Nothing touches the disk until the first Load.
func NewPromptStore(dir string) (*PromptStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve prompt directory: %w", err)
		}
		dir = filepath.Join(home, ".ragpipe", "prompts")
	}
	s := &PromptStore{dir: dir, loaded: map[string]string{}}
	s.seed = sync.OnceValue(s.writeDefaults)
	return s, nil
}

func (s *PromptStore) Dir() string { return s.dir }

// Load returns the named template. An edited file wins; an empty or
// missing file falls back to the built-in of the same name.
func (s *PromptStore) Load(name string) (string, error) {
	builtin, hasBuiltin := DefaultPrompts()[name]

	if err := s.seed(); err != nil {
		if hasBuiltin {
			return builtin, nil
		}
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}

	if text, ok := s.cached(name); ok {
		return text, nil
	}

	raw, err := os.ReadFile(s.pathOf(name))
	text := strings.TrimSpace(string(raw))
	switch {
	case text != "":
	case hasBuiltin:
		return builtin, nil
	case err == nil:
		return "", fmt.Errorf("load prompt %q: file is empty", name)
	default:
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.loaded[name]; ok {
		return prev, nil
	}
	s.loaded[name] = text
	return text, nil
}

// Reload forgets what was read so edits on disk are picked up.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	clear(s.loaded)
	s.mu.Unlock()
}

func (s *PromptStore) cached(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.loaded[name]
	return text, ok
}

func (s *PromptStore) pathOf(name string) string {
	return filepath.Join(s.dir, name+promptExt)
}

// writeDefaults creates the directory and any built-in file not yet
// present. Existing files are left alone.
func (s *PromptStore) writeDefaults() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create prompt directory: %w", err)
	}
	for name, text := range DefaultPrompts() {
		f, err := os.OpenFile(s.pathOf(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed prompt %q: %w", name, err)
		}
		_, werr := f.WriteString(text + "\n")
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("seed prompt %q: %w", name, werr)
		}
	}
	return nil
}
