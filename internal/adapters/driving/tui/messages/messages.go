// Package messages defines Bubbletea message types for the TUI.
package messages

import (
	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// ViewType identifies which view is currently active.
type ViewType int

const (
	// ViewMenu is the main navigation menu.
	ViewMenu ViewType = iota
	// ViewQuery is the query input and ranked matches view.
	ViewQuery
	// ViewSources lists the sources stored in the collection.
	ViewSources
	// ViewHelp is the keybindings view.
	ViewHelp
)

// String returns the string representation of the view type.
func (v ViewType) String() string {
	switch v {
	case ViewMenu:
		return "menu"
	case ViewQuery:
		return "query"
	case ViewSources:
		return "sources"
	case ViewHelp:
		return "help"
	default:
		return "unknown"
	}
}

// ViewChanged is sent when navigating between views.
type ViewChanged struct {
	View ViewType
}

// QueryCompleted carries retrieval results back to the model.
type QueryCompleted struct {
	Result *domain.QueryResult
	Err    error
}

// AnswerCompleted carries a generated answer back to the model.
type AnswerCompleted struct {
	Answer *domain.Answer
	Err    error
}

// SourcesLoaded carries the sources stored in a collection.
type SourcesLoaded struct {
	Collection string
	Sources    []domain.SourceInfo
	Err        error
}

// SourceDeleted signals that a source's records were removed.
type SourceDeleted struct {
	Source  string
	Deleted int
	Err     error
}

// ErrorOccurred signals that an error happened.
type ErrorOccurred struct {
	Err error
}
