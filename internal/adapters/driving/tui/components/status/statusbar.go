// Package status renders the one-line bar under the query view.
package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
)

// State selects the bar's left-hand text and its key hints.
type State string

const (
	StateReady     State = "ready"
	StateQuerying  State = "querying"
	StateAnswering State = "answering"
	StateError     State = "error"
	StateHelp      State = "help"
	StateResults   State = "results"
	StateSources   State = "sources"
)

// Bar displays the active collection, query state and keybinding hints.
type Bar struct {
	styles     *styles.Styles
	keymap     *keymap.KeyMap
	state      State
	message    string
	collection string
	matches    int
	width      int
}

// NewBar returns a bar in StateReady. Nil arguments take the defaults.
func NewBar(s *styles.Styles, km *keymap.KeyMap) *Bar {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}

	return &Bar{
		styles: s,
		keymap: km,
		state:  StateReady,
		width:  80,
	}
}

func (s *Bar) Init() tea.Cmd { return nil }

// Update ignores messages; owners drive the bar through its setters.
func (s *Bar) Update(tea.Msg) (*Bar, tea.Cmd) { return s, nil }

// View renders the status bar.
func (s *Bar) View() string {
	left := s.renderLeft()
	right := s.renderRight()

	padding := max(s.width-lipgloss.Width(left)-lipgloss.Width(right), 1)

	return s.styles.StatusBar.Width(s.width).Render(
		left + strings.Repeat(" ", padding) + right,
	)
}

func (s *Bar) renderLeft() string {
	switch s.state {
	case StateQuerying:
		return s.styles.Muted.Render("Querying...")
	case StateAnswering:
		return s.styles.Muted.Render("Generating answer...")
	case StateError:
		if s.message != "" {
			return s.styles.Error.Render(fmt.Sprintf("Error: %s", s.message))
		}
		return s.styles.Error.Render("Error")
	case StateHelp:
		return s.styles.Normal.Render("Help")
	case StateReady, StateResults, StateSources:
	}

	if s.message != "" {
		return s.styles.Normal.Render(s.message)
	}
	if s.state == StateResults {
		text := fmt.Sprintf("%d matches", s.matches)
		if s.matches == 1 {
			text = "1 match"
		}
		if s.collection != "" {
			text += " in " + s.collection
		}
		return s.styles.Normal.Render(text)
	}
	if s.collection != "" {
		return s.styles.Muted.Render("Ready · " + s.collection)
	}
	return s.styles.Muted.Render("Ready")
}

func (s *Bar) renderRight() string {
	var bindings []key.Binding
	switch s.state {
	case StateResults:
		bindings = s.keymap.ResultsHelp()
	case StateSources:
		bindings = s.keymap.SourcesHelp()
	default:
		bindings = s.keymap.ShortHelp()
	}

	hints := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, fmt.Sprintf("%s: %s", h.Key, h.Desc))
	}
	return s.styles.Muted.Render(strings.Join(hints, " | "))
}

func (s *Bar) SetState(state State)      { s.state = state }
func (s *Bar) SetMessage(msg string)     { s.message = msg }
func (s *Bar) SetCollection(name string) { s.collection = name }
func (s *Bar) SetMatchCount(n int)       { s.matches = n }
func (s *Bar) SetWidth(width int)        { s.width = width }

func (s *Bar) State() State       { return s.state }
func (s *Bar) Message() string    { return s.message }
func (s *Bar) Collection() string { return s.collection }
func (s *Bar) MatchCount() int    { return s.matches }
func (s *Bar) Width() int         { return s.width }

// Clear returns to StateReady with no message or matches. The collection
// is kept.
func (s *Bar) Clear() {
	s.state, s.message, s.matches = StateReady, "", 0
}
