package connectors

import (
	"context"
	"fmt"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Router implements the interface.
var _ driven.SourceFetcher = (*Router)(nil)

// Router dispatches a source reference to the fetcher for its location.
type Router struct {
	web   driven.SourceFetcher
	files driven.SourceFetcher
}

// NewRouter creates a router. Either fetcher may be nil, in which case
// references it would handle fail as unsupported.
func NewRouter(web, files driven.SourceFetcher) *Router {
	return &Router{web: web, files: files}
}

// Fetch sends local references to the filesystem connector and remote
// references to the web fetcher.
func (r *Router) Fetch(ctx context.Context, ref domain.SourceRef, opts driven.FetchOptions) (<-chan domain.RawDocument, <-chan domain.Failure) {
	if ref.Local {
		if r.files == nil {
			return unsupported(ref, "local files")
		}
		return r.files.Fetch(ctx, ref, opts)
	}

	switch ref.Kind {
	case domain.KindWebPage, domain.KindSitemap, domain.KindPlainText, domain.KindPDF, domain.KindImage:
		if r.web == nil {
			return unsupported(ref, "remote sources")
		}
		return r.web.Fetch(ctx, ref, opts)
	default:
		return unsupported(ref, fmt.Sprintf("kind %q", ref.Kind))
	}
}

// unsupported reports a single failure for ref and closes both channels.
func unsupported(ref domain.SourceRef, what string) (<-chan domain.RawDocument, <-chan domain.Failure) {
	docs := make(chan domain.RawDocument)
	fails := make(chan domain.Failure, 1)
	close(docs)

	fails <- domain.Failure{
		URI:    ref.Raw,
		Stage:  domain.StageFetch,
		Reason: domain.ReasonFetch,
		Err:    &domain.FetchError{URL: ref.Raw, Err: fmt.Errorf("%w: no fetcher for %s", domain.ErrUnsupportedType, what)},
	}
	close(fails)

	return docs, fails
}
