package mcp

import (
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server calls.
type Ports struct {
	// Retriever answers queries. Required.
	Retriever driving.Retriever

	// Ingest runs ingestions. Without it the ingest_source tool reports
	// that ingestion is disabled.
	Ingest driving.IngestService

	// Collections lists and prunes stored sources.
	Collections driving.CollectionService

	// DefaultCollection is used when a tool call names no collection.
	DefaultCollection string

	// DefaultTopK is used when a query names no k.
	DefaultTopK int

	// RemoteOnly makes ingest_source refuse local paths and globs, so
	// network clients cannot read the host's filesystem.
	RemoteOnly bool
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Retriever == nil {
		return ErrMissingRetriever
	}
	return nil
}

func (p *Ports) collection(name string) string {
	if name != "" {
		return name
	}
	if p.DefaultCollection != "" {
		return p.DefaultCollection
	}
	return domain.DefaultCollection
}
