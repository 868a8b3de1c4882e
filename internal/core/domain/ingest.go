package domain

import "time"

// Ingestion defaults. They mirror the command-line defaults of the crawler
// this tool replaces.
const (
	DefaultChunkSize      = 1000
	DefaultMaxDepth       = 2
	DefaultMaxConcurrency = 10
	DefaultBatchSize      = 100
	DefaultCrawlTimeout   = 5 * time.Minute
	DefaultCollection     = "docs"
)

// IngestOptions are per-call overrides for an ingestion.
// Zero values mean "use the default".
type IngestOptions struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`

	// MaxDepth is the maximum recursive crawl depth for web pages.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// MaxConcurrency caps simultaneous in-flight fetches and workers.
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`

	// EmbeddingModel overrides the configured embedding model.
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`

	// BatchSize is the number of chunks sent per embedding call.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`

	// CrawlTimeout is the overall deadline for fetching.
	CrawlTimeout time.Duration `json:"crawl_timeout,omitempty" yaml:"crawl_timeout,omitempty"`

	// NoFollow disables link following for web pages.
	NoFollow bool `json:"no_follow,omitempty" yaml:"no_follow,omitempty"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (o IngestOptions) WithDefaults() IngestOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	// A negative depth means "seed page only", like NoFollow.
	switch {
	case o.NoFollow || o.MaxDepth < 0:
		o.MaxDepth = 0
	case o.MaxDepth == 0:
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CrawlTimeout <= 0 {
		o.CrawlTimeout = DefaultCrawlTimeout
	}
	return o
}

// Overlay returns o with every non-zero field of top applied.
func (o IngestOptions) Overlay(top IngestOptions) IngestOptions {
	if top.ChunkSize != 0 {
		o.ChunkSize = top.ChunkSize
	}
	if top.MaxDepth != 0 {
		o.MaxDepth = top.MaxDepth
	}
	if top.MaxConcurrency != 0 {
		o.MaxConcurrency = top.MaxConcurrency
	}
	if top.EmbeddingModel != "" {
		o.EmbeddingModel = top.EmbeddingModel
	}
	if top.BatchSize != 0 {
		o.BatchSize = top.BatchSize
	}
	if top.CrawlTimeout != 0 {
		o.CrawlTimeout = top.CrawlTimeout
	}
	if top.NoFollow {
		o.NoFollow = true
	}
	return o
}

// IngestedDocument describes one document that was stored.
type IngestedDocument struct {
	// URI is the document location.
	URI string `json:"uri"`

	// Kind is the source variant.
	Kind SourceKind `json:"kind"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Chunks is the number of records written.
	Chunks int `json:"chunks"`

	// Characters is the length of the normalised text.
	Characters int `json:"characters"`
}

// IngestSummary reports the outcome of an ingestion. It is returned for
// partial successes; only whole-call failures produce an error instead.
type IngestSummary struct {
	// Collection is the target collection.
	Collection string `json:"collection"`

	// Source is the reference the ingestion was started with.
	Source string `json:"source"`

	// Succeeded lists stored documents in completion order.
	Succeeded []IngestedDocument `json:"succeeded"`

	// Failed lists per-item failures with reasons.
	Failed []Failure `json:"failed"`

	// Started is when the ingestion began.
	Started time.Time `json:"started"`

	// Finished is when the ingestion ended.
	Finished time.Time `json:"finished"`
}

// Chunks returns the total number of records written.
func (s *IngestSummary) Chunks() int {
	n := 0
	for i := range s.Succeeded {
		n += s.Succeeded[i].Chunks
	}
	return n
}

// Skipped returns the failures caused by the crawl deadline.
func (s *IngestSummary) Skipped() []Failure {
	var out []Failure
	for _, f := range s.Failed {
		if f.Reason == ReasonSkipped {
			out = append(out, f)
		}
	}
	return out
}

// Duration returns how long the ingestion took.
func (s *IngestSummary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Merge appends another summary's documents and failures.
func (s *IngestSummary) Merge(other *IngestSummary) {
	if other == nil {
		return
	}
	s.Succeeded = append(s.Succeeded, other.Succeeded...)
	s.Failed = append(s.Failed, other.Failed...)
	if other.Finished.After(s.Finished) {
		s.Finished = other.Finished
	}
}

// User-facing failure reasons.
const (
	ReasonFetch     = "fetch error"
	ReasonSkipped   = "skipped"
	ReasonNormalise = "normalise error"
	ReasonChunk     = "chunking error"
	ReasonEmbed     = "embedding error"
	ReasonStore     = "store error"
)
