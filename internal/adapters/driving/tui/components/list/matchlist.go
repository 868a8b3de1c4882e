// Package list provides list display components for the TUI.
package list

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// linesPerMatch is the rendered height of one collapsed match.
const linesPerMatch = 3

// MatchList displays ranked retrieval matches. The selected match can be
// expanded to show its full chunk text.
type MatchList struct {
	matches  []domain.ScoredRecord
	selected int
	expanded bool
	styles   *styles.Styles
	width    int
	height   int
}

// NewMatchList creates an empty match list.
func NewMatchList(s *styles.Styles) *MatchList {
	if s == nil {
		s = styles.DefaultStyles()
	}
	return &MatchList{
		styles: s,
		width:  80,
		height: 10,
	}
}

// Init initialises the list.
func (l *MatchList) Init() tea.Cmd {
	return nil
}

// Update handles navigation keys.
func (l *MatchList) Update(msg tea.Msg) (*MatchList, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			l.MoveUp()
		case "down", "j":
			l.MoveDown()
		}
	}
	return l, nil
}

// View renders the visible window of matches.
func (l *MatchList) View() string {
	if len(l.matches) == 0 {
		return l.styles.Muted.Render("No matches")
	}

	lines := []string{
		l.styles.Subtitle.Render(fmt.Sprintf("Matches (%d)", len(l.matches))),
		"",
	}

	visible := max((l.height-4)/linesPerMatch, 1)
	start := 0
	if l.selected >= visible {
		start = l.selected - visible + 1
	}
	end := min(start+visible, len(l.matches))

	for i := start; i < end; i++ {
		lines = append(lines, l.renderMatch(i, &l.matches[i]))
	}

	if l.expanded {
		if m := l.SelectedMatch(); m != nil {
			lines = append(lines, "", l.renderExpanded(m))
		}
	}
	return strings.Join(lines, "\n")
}

// renderMatch formats one match as a provenance line and a preview line.
func (l *MatchList) renderMatch(index int, m *domain.ScoredRecord) string {
	indicator := "  "
	if index == l.selected {
		indicator = "> "
	}

	label := truncate(fmt.Sprintf("[%d] %s", m.Rank, m.ID()), l.width-16)
	score := fmt.Sprintf("%.3f", m.Score)

	var head string
	if index == l.selected {
		head = l.styles.Selected.Render(indicator+label) + "  " + l.styles.Score(m.Score, score)
	} else {
		head = l.styles.Normal.Render(indicator+label) + "  " + l.styles.Score(m.Score, score)
	}

	path := ""
	if len(m.HeaderPath) > 0 {
		path = "\n" + l.styles.Provenance.Render("    "+truncate(m.HeaderPathString(), l.width-6))
	}

	preview := truncate(strings.Join(strings.Fields(m.Content), " "), l.width-6)
	return head + path + "\n" + l.styles.Muted.Render("    "+preview)
}

func (l *MatchList) renderExpanded(m *domain.ScoredRecord) string {
	title := l.styles.Provenance.Render(m.ID())
	if hp := m.HeaderPathString(); hp != "" {
		title += l.styles.Muted.Render("  " + hp)
	}
	return l.styles.Panel.Width(max(l.width-4, 20)).Render(title + "\n\n" + m.Content)
}

func truncate(s string, n int) string {
	n = max(n, 10)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// SetMatches replaces the matches and resets selection.
func (l *MatchList) SetMatches(matches []domain.ScoredRecord) {
	l.matches = matches
	l.selected = 0
	l.expanded = false
}

// Matches returns the current matches.
func (l *MatchList) Matches() []domain.ScoredRecord {
	return l.matches
}

// Selected returns the index of the selected match.
func (l *MatchList) Selected() int {
	return l.selected
}

// SelectedMatch returns the selected match, or nil if the list is empty.
func (l *MatchList) SelectedMatch() *domain.ScoredRecord {
	if l.selected < 0 || l.selected >= len(l.matches) {
		return nil
	}
	return &l.matches[l.selected]
}

// ToggleExpanded shows or hides the full text of the selected match.
func (l *MatchList) ToggleExpanded() {
	if len(l.matches) > 0 {
		l.expanded = !l.expanded
	}
}

// Expanded reports whether the selected match is expanded.
func (l *MatchList) Expanded() bool {
	return l.expanded
}

// MoveUp moves selection up.
func (l *MatchList) MoveUp() {
	if l.selected > 0 {
		l.selected--
	}
}

// MoveDown moves selection down.
func (l *MatchList) MoveDown() {
	if l.selected < len(l.matches)-1 {
		l.selected++
	}
}

// SetDimensions sets the component dimensions.
func (l *MatchList) SetDimensions(width, height int) {
	l.width = width
	l.height = height
}

// Count returns the number of matches.
func (l *MatchList) Count() int {
	return len(l.matches)
}
