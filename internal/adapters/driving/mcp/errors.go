// Package mcp provides an MCP (Model Context Protocol) server adapter for
// ragpipe. It lets AI assistants ingest sources and retrieve context from
// the local vector store.
package mcp

import "errors"

// ErrMissingRetriever is returned when the retriever is not provided.
var ErrMissingRetriever = errors.New("mcp: retriever is required")
