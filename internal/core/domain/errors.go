package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates a source kind with no text to extract.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrEmbeddingUnavailable indicates the embedding service failed or is
	// not configured. Queries cannot run without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	// Answer generation is disabled.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrStoreUnavailable indicates the store cannot serve any request.
	// It aborts a whole ingestion rather than one document.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDimensionMismatch indicates an embedding whose size differs from
	// the size already fixed for its collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrSourceLimit indicates more sources than the configured limit.
	ErrSourceLimit = errors.New("too many sources")

	// ErrSkipped indicates an item that was not processed because the
	// crawl deadline expired first.
	ErrSkipped = errors.New("skipped: crawl deadline exceeded")

	// ErrEmptyDocument indicates a document with no text after normalisation.
	ErrEmptyDocument = errors.New("document has no text")
)

// FetchError is a per-URL failure: network error, timeout or non-2xx status.
// It is recoverable and reported in the ingest summary.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChunkingError is fatal only for the offending document.
type ChunkingError struct {
	URI string
	Err error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.URI, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// EmbeddingError is an external model failure for one batch, surfaced
// after retries are exhausted.
type EmbeddingError struct {
	// Batch is the batch index, or -1 for a single query embedding.
	Batch    int
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	where := "query"
	if e.Batch >= 0 {
		where = "batch " + strconv.Itoa(e.Batch)
	}
	return fmt.Sprintf("embed %s after %d attempt(s): %v", where, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError is a constraint violation or connection failure. It is fatal
// for the current call but leaves prior state intact.
type StoreError struct {
	Op         string
	Collection string
	Source     string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("store %s %s/%s: %v", e.Op, e.Collection, e.Source, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ReasonFor maps an error to the short reason reported in summaries.
func ReasonFor(err error) string {
	var (
		fe *FetchError
		ce *ChunkingError
		ee *EmbeddingError
		se *StoreError
	)
	switch {
	case errors.Is(err, ErrSkipped):
		return ReasonSkipped
	case errors.As(err, &fe):
		return ReasonFetch
	case errors.As(err, &ce):
		return ReasonChunk
	case errors.As(err, &ee):
		return ReasonEmbed
	case errors.As(err, &se):
		return ReasonStore
	default:
		return err.Error()
	}
}
