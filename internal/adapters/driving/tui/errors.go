package tui

import "errors"

// ErrMissingRetriever is returned when no retriever is provided.
var ErrMissingRetriever = errors.New("tui: retriever is required")
