// Package menu is the TUI start screen.
package menu

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
)

// Item is one menu entry. An entry with Quit set ends the program instead
// of switching view.
type Item struct {
	Label string
	Hint  string
	View  messages.ViewType
	Quit  bool
}

var defaultItems = []Item{
	{Label: "Query", Hint: "search the collection and ask the LLM", View: messages.ViewQuery},
	{Label: "Sources", Hint: "list or delete ingested sources", View: messages.ViewSources},
	{Label: "Help", Hint: "key bindings", View: messages.ViewHelp},
	{Label: "Quit", Quit: true},
}

var selectKey = key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "select"))

// View lists the top-level screens.
type View struct {
	styles     *styles.Styles
	keys       *keymap.KeyMap
	items      []Item
	collection string
	selected   int
	width      int
	height     int
	ready      bool
}

// NewView returns a menu for collection. Nil styles use the defaults.
func NewView(s *styles.Styles, collection string) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	return &View{
		styles:     s,
		keys:       keymap.DefaultKeyMap(),
		items:      defaultItems,
		collection: collection,
		width:      80,
		height:     24,
	}
}

func (v *View) Init() tea.Cmd { return nil }

// Update moves the cursor and emits a ViewChanged on selection. Digits
// select the matching entry directly.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, v.keys.Up):
			v.selected = max(v.selected-1, 0)
		case key.Matches(msg, v.keys.Down):
			v.selected = min(v.selected+1, len(v.items)-1)
		case key.Matches(msg, selectKey):
			return v, v.choose(v.selected)
		case key.Matches(msg, v.keys.Quit):
			return v, tea.Quit
		default:
			if n, ok := digit(msg); ok && n >= 1 && n <= len(v.items) {
				v.selected = n - 1
				return v, v.choose(v.selected)
			}
		}
	}
	return v, nil
}

func (v *View) choose(i int) tea.Cmd {
	item := v.items[i]
	if item.Quit {
		return tea.Quit
	}
	return func() tea.Msg { return messages.ViewChanged{View: item.View} }
}

func digit(msg tea.KeyMsg) (int, bool) {
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return 0, false
	}
	r := msg.Runes[0]
	if r < '0' || r > '9' {
		return 0, false
	}
	return int(r - '0'), true
}

// View renders the title, the collection and the entries.
func (v *View) View() string {
	if !v.ready {
		return "Initialising..."
	}

	var b strings.Builder
	b.WriteString(v.styles.Title.Render("ragpipe"))
	b.WriteString("\n\n")

	subtitle := "Retrieval over ingested documents"
	if v.collection != "" {
		subtitle += " · collection " + v.collection
	}
	b.WriteString(v.styles.Muted.Render(subtitle))
	b.WriteString("\n\n")

	for i, item := range v.items {
		line := fmt.Sprintf("%d %s", i+1, item.Label)
		if i == v.selected {
			b.WriteString(v.styles.Selected.Render("> " + line))
			if item.Hint != "" {
				b.WriteString(v.styles.Muted.Render("  " + item.Hint))
			}
		} else {
			b.WriteString(v.styles.Normal.Render("  " + line))
		}
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(v.styles.Help.Render("[j/k] Navigate  [1-4/Enter] Select  [q] Quit"))
	return b.String()
}

// SetDimensions records the terminal size and marks the view ready.
func (v *View) SetDimensions(width, height int) {
	v.width, v.height = width, height
	v.ready = true
}

func (v *View) Selected() int { return v.selected }
func (v *View) Items() []Item { return v.items }
