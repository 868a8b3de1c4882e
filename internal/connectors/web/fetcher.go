package web

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Ensure Fetcher implements the interface.
var _ driven.SourceFetcher = (*Fetcher)(nil)

// Fetcher retrieves remote sources: it crawls web pages, expands sitemaps
// and downloads single documents.
type Fetcher struct {
	client *Client
	now    func() time.Time
}

// NewFetcher creates a fetcher backed by client.
func NewFetcher(client *Client) *Fetcher {
	if client == nil {
		client = NewClient()
	}
	return &Fetcher{client: client, now: time.Now}
}

// Fetch starts fetching ref in the background.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.SourceRef, opts driven.FetchOptions) (<-chan domain.RawDocument, <-chan domain.Failure) {
	docs := make(chan domain.RawDocument)
	fails := make(chan domain.Failure)

	go func() {
		defer close(docs)
		defer close(fails)

		out := &sink{ctx: ctx, docs: docs, fails: fails}

		sched := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			sched, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		switch ref.Kind {
		case domain.KindWebPage:
			f.crawl(sched, out, ref.Raw, []string{ref.Raw}, 0, opts.MaxDepth, opts)
		case domain.KindSitemap:
			f.sitemap(sched, out, ref.Raw, opts)
		case domain.KindPlainText, domain.KindPDF, domain.KindImage:
			f.crawl(sched, out, ref.Raw, []string{ref.Raw}, 0, 0, opts)
		default:
			out.fail(ref.Raw, fmt.Errorf("%w: %s", domain.ErrUnsupportedType, ref.Kind))
		}
	}()

	return docs, fails
}

// sitemap fetches a sitemap, expands one level of sitemap index and then
// fetches every listed page once without following links.
func (f *Fetcher) sitemap(ctx context.Context, out *sink, source string, opts driven.FetchOptions) {
	sm, err := f.fetchSitemap(ctx, source)
	if err != nil {
		out.fail(source, f.classify(ctx, out.ctx, err))
		return
	}

	pages := sm.URLs
	for _, nested := range sm.Sitemaps {
		child, err := f.fetchSitemap(ctx, nested)
		if err != nil {
			out.fail(nested, f.classify(ctx, out.ctx, err))
			continue
		}
		pages = append(pages, child.URLs...)
	}
	logger.Debug("sitemap %s lists %d pages", source, len(pages))

	f.crawl(ctx, out, source, pages, 1, 1, opts)
}

func (f *Fetcher) fetchSitemap(ctx context.Context, rawURL string) (*Sitemap, error) {
	resp, err := f.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	sm, err := ParseSitemap(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	return sm, nil
}

// crawl fetches frontier breadth first. Pages found at depth below
// maxDepth contribute their same-origin links to the next level. Each URL
// is fetched at most once. Once ctx expires, every URL not yet fetched is
// reported as skipped.
func (f *Fetcher) crawl(ctx context.Context, out *sink, source string, frontier []string, depth, maxDepth int, opts driven.FetchOptions) {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = domain.DefaultMaxConcurrency
	}

	seen := make(map[string]bool)
	frontier = f.unseen(out, seen, frontier)

	for ; len(frontier) > 0; depth++ {
		if out.ctx.Err() != nil {
			return
		}

		var (
			mu   sync.Mutex
			next []string
		)
		follow := depth < maxDepth

		g := new(errgroup.Group)
		g.SetLimit(limit)
		for _, u := range frontier {
			if ctx.Err() != nil {
				out.fail(u, f.classify(ctx, out.ctx, ctx.Err()))
				continue
			}
			g.Go(func() error {
				links := f.fetchOne(ctx, out, source, u, depth, follow)
				if len(links) > 0 {
					mu.Lock()
					next = append(next, links...)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		sort.Strings(next)
		frontier = f.unseen(out, seen, next)
	}
}

// unseen marks and returns the URLs of candidates not seen before.
// Candidates that are not valid http(s) URLs are reported as failures.
func (f *Fetcher) unseen(out *sink, seen map[string]bool, candidates []string) []string {
	var fresh []string
	for _, c := range candidates {
		n, err := NormalizeURL(c)
		if err != nil {
			out.fail(c, &domain.FetchError{URL: c, Err: err})
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		fresh = append(fresh, n)
	}
	return fresh
}

// fetchOne fetches a single URL, delivers it and returns its links when
// follow is set and the page is HTML.
func (f *Fetcher) fetchOne(ctx context.Context, out *sink, source, u string, depth int, follow bool) []string {
	if ctx.Err() != nil {
		out.fail(u, f.classify(ctx, out.ctx, ctx.Err()))
		return nil
	}

	resp, err := f.client.Get(ctx, u)
	if err != nil {
		out.fail(u, f.classify(ctx, out.ctx, err))
		return nil
	}

	uri := u
	if final, err := NormalizeURL(resp.URL); err == nil {
		uri = final
	}
	kind := domain.KindFromContentType(resp.ContentType, uri)

	meta := map[string]string{}
	if etag := resp.Header.Get("ETag"); etag != "" {
		meta["etag"] = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		meta["last_modified"] = lm
	}

	doc := domain.RawDocument{
		Source:      source,
		URI:         uri,
		Kind:        kind,
		ContentType: resp.ContentType,
		Content:     resp.Body,
		FetchedAt:   f.now(),
		Depth:       depth,
		Metadata:    meta,
	}
	if !out.doc(doc) {
		return nil
	}

	if !follow || kind != domain.KindWebPage {
		return nil
	}
	return ExtractLinks(uri, resp.Body)
}

// classify turns a fetch error into the error reported for a URL. A
// context error caused by the crawl deadline, while the caller is still
// waiting, means the URL was skipped.
func (f *Fetcher) classify(sched, parent context.Context, err error) error {
	if parent.Err() == nil && sched.Err() != nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return domain.ErrSkipped
	}
	return err
}

// sink delivers results while the caller's context is alive.
type sink struct {
	ctx   context.Context
	docs  chan<- domain.RawDocument
	fails chan<- domain.Failure
}

func (s *sink) doc(d domain.RawDocument) bool {
	select {
	case s.docs <- d:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *sink) fail(uri string, err error) {
	f := domain.Failure{
		URI:    uri,
		Stage:  domain.StageFetch,
		Reason: domain.ReasonFetch,
		Err:    err,
	}
	if errors.Is(err, domain.ErrSkipped) {
		f.Reason = domain.ReasonSkipped
	}
	select {
	case s.fails <- f:
	case <-s.ctx.Done():
	}
}
