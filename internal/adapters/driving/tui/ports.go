// Package tui provides an interactive terminal user interface for ragpipe.
// It implements a driving adapter following hexagonal architecture principles.
package tui

import (
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
)

// Ports aggregates the driving ports used by the TUI.
type Ports struct {
	// Retriever answers queries. Required.
	Retriever driving.Retriever

	// Collections lists and deletes stored sources. The sources view shows
	// an error when nil.
	Collections driving.CollectionService

	// Collection is the collection the TUI works against.
	Collection string

	// TopK caps the number of matches per query. Zero uses the retriever's
	// default.
	TopK int
}

// NewPorts creates a Ports aggregate.
func NewPorts(retriever driving.Retriever, collections driving.CollectionService, collection string, topK int) *Ports {
	return &Ports{
		Retriever:   retriever,
		Collections: collections,
		Collection:  collection,
		TopK:        topK,
	}
}

// Validate ensures the required ports are set.
func (p *Ports) Validate() error {
	if p == nil || p.Retriever == nil {
		return ErrMissingRetriever
	}
	return nil
}

func (p *Ports) collection() string {
	if p.Collection == "" {
		return domain.DefaultCollection
	}
	return p.Collection
}
