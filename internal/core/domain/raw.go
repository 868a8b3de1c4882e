package domain

import "time"

// RawDocument represents bytes fetched for one URL or file.
// It is the fetcher's output before normalisation and is never mutated.
type RawDocument struct {
	// Source is the source reference the ingestion was started with.
	Source string

	// URI is the location this unit was fetched from (URL with the
	// fragment stripped, or a file path).
	URI string

	// Kind is the variant decided at fetch time.
	Kind SourceKind

	// ContentType is the content type hint (e.g., "text/html").
	ContentType string

	// Content is the raw bytes.
	Content []byte

	// FetchedAt is when the bytes were obtained.
	FetchedAt time.Time

	// Depth is the crawl depth at which the unit was found (0 for the seed).
	Depth int

	// Metadata contains fetcher-specific key-value pairs.
	Metadata map[string]string
}

// Stage names the pipeline stage a Failure happened in.
type Stage string

// Pipeline stages.
const (
	StageFetch     Stage = "fetch"
	StageNormalise Stage = "normalise"
	StageChunk     Stage = "chunk"
	StageEmbed     Stage = "embed"
	StageStore     Stage = "store"
)

// Failure records a per-item error that did not abort the ingestion.
type Failure struct {
	// URI identifies the failing item.
	URI string `json:"uri"`

	// Stage is where the failure happened.
	Stage Stage `json:"stage"`

	// Reason is a short, user-facing reason (e.g., "fetch error").
	Reason string `json:"reason"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error returns a one-line description of the failure.
func (f Failure) Error() string {
	if f.Err == nil {
		return f.URI + ": " + f.Reason
	}
	return f.URI + ": " + f.Reason + ": " + f.Err.Error()
}
