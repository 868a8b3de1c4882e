// Package watch re-ingests local files when they change. It drives the
// same IngestService as the CLI, one file at a time, after the file has
// been quiet for the debounce delay.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ragpipe/internal/connectors/filesystem"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// DefaultDebounce is how long a file must stay unchanged before it is
// re-ingested.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoSources is returned by Run when there is nothing to watch.
var ErrNoSources = errors.New("watch: no change sources")

// ChangeSource produces filesystem changes. *filesystem.Watcher satisfies it.
type ChangeSource interface {
	Run(ctx context.Context) (<-chan filesystem.Change, error)
	Close() error
}

// Result reports what happened to one changed path.
type Result struct {
	Path    string
	Change  filesystem.ChangeType
	Summary *domain.IngestSummary
	Deleted int
	Err     error
}

// Runner applies debounced filesystem changes to a collection.
type Runner struct {
	ingest      driving.IngestService
	collections driving.CollectionService
	collection  string
	opts        domain.IngestOptions
	debounce    time.Duration
	filter      func(path string) bool
	report      func(Result)

	mu      sync.Mutex
	pending map[string]pendingChange
}

type pendingChange struct {
	change filesystem.ChangeType
	seen   time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithFilter restricts the paths acted on.
func WithFilter(keep func(path string) bool) Option {
	return func(r *Runner) {
		r.filter = keep
	}
}

// WithReporter registers a callback invoked after each path is handled.
func WithReporter(fn func(Result)) Option {
	return func(r *Runner) {
		r.report = fn
	}
}

// OnlyPaths returns a filter accepting exactly the given files.
func OnlyPaths(paths ...string) func(string) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		set[filepath.Clean(p)] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[filepath.Clean(path)]
		return ok
	}
}

// New creates a Runner writing into collection. collections may be nil, in
// which case deletions are logged and otherwise ignored.
func New(
	ingest driving.IngestService,
	collections driving.CollectionService,
	collection string,
	opts domain.IngestOptions,
	options ...Option,
) *Runner {
	if collection == "" {
		collection = domain.DefaultCollection
	}
	r := &Runner{
		ingest:      ingest,
		collections: collections,
		collection:  collection,
		opts:        opts,
		debounce:    DefaultDebounce,
		pending:     make(map[string]pendingChange),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run consumes changes from every source until ctx is done or all sources
// stop. Sources are closed on return.
func (r *Runner) Run(ctx context.Context, sources ...ChangeSource) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	if r.ingest == nil {
		return errors.New("watch: ingest service is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		for _, s := range sources {
			if err := s.Close(); err != nil {
				logger.Warn("close watcher: %v", err)
			}
		}
	}()

	merged := make(chan filesystem.Change)
	var wg sync.WaitGroup
	for _, s := range sources {
		changes, err := s.Run(ctx)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range changes {
				select {
				case merged <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	ticker := time.NewTicker(max(r.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-merged:
			if !ok {
				r.flush(ctx, time.Time{})
				return nil
			}
			r.observe(c, time.Now())
		case now := <-ticker.C:
			r.flush(ctx, now)
		}
	}
}

func (r *Runner) observe(c filesystem.Change, now time.Time) {
	if r.filter != nil && !r.filter(c.Path) {
		return
	}
	r.mu.Lock()
	r.pending[c.Path] = pendingChange{change: c.Type, seen: now}
	r.mu.Unlock()
	logger.Debug("watch: %s %s", c.Type, c.Path)
}

// flush handles every pending path quiet since before now minus the
// debounce delay. A zero now flushes everything.
func (r *Runner) flush(ctx context.Context, now time.Time) {
	r.mu.Lock()
	var ready []string
	for path, p := range r.pending {
		if now.IsZero() || now.Sub(p.seen) >= r.debounce {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)
	changes := make([]filesystem.ChangeType, len(ready))
	for i, path := range ready {
		changes[i] = r.pending[path].change
		delete(r.pending, path)
	}
	r.mu.Unlock()

	for i, path := range ready {
		if ctx.Err() != nil {
			return
		}
		r.apply(ctx, path, changes[i])
	}
}

// Pending returns the number of changes waiting for their quiet period.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Runner) apply(ctx context.Context, path string, change filesystem.ChangeType) {
	res := Result{Path: path, Change: change}

	if change == filesystem.ChangeDeleted {
		if r.collections == nil {
			logger.Debug("watch: %s removed, no collection service to prune it", path)
			return
		}
		n, err := r.collections.DeleteSource(ctx, r.collection, path)
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
		res.Deleted, res.Err = n, err
		if err != nil {
			logger.Warn("watch: delete %s: %v", path, err)
		} else {
			logger.Info("watch: removed %d chunks of %s", n, path)
		}
	} else {
		summary, err := r.ingest.Ingest(ctx, r.collection, path, r.opts)
		res.Summary, res.Err = summary, err
		switch {
		case err != nil:
			logger.Warn("watch: ingest %s: %v", path, err)
		case len(summary.Failed) > 0:
			logger.Warn("watch: ingest %s: %s", path, summary.Failed[0].Reason)
		default:
			logger.Info("watch: re-ingested %s (%d chunks)", path, summary.Chunks())
		}
	}

	if r.report != nil {
		r.report(res)
	}
}
