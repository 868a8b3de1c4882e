// Package sources provides the view listing the sources stored in a
// collection.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
)

// errNoCollectionService is reported when the view has nothing to list from.
var errNoCollectionService = errors.New("collection service not available")

// View lists a collection's sources and allows deleting them.
type View struct {
	styles      *styles.Styles
	keys        *keymap.KeyMap
	collections driving.CollectionService
	collection  string
	ctx         context.Context

	sources  []domain.SourceInfo
	selected int
	width    int
	height   int
	ready    bool
	err      error
	loading  bool
	notice   string
}

// NewView creates a sources view for collection.
func NewView(s *styles.Styles, collections driving.CollectionService, collection string) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if collection == "" {
		collection = domain.DefaultCollection
	}
	return &View{
		styles:      s,
		keys:        keymap.DefaultKeyMap(),
		collections: collections,
		collection:  collection,
		ctx:         context.Background(),
		sources:     []domain.SourceInfo{},
		width:       80,
	}
}

// WithContext sets the parent of the list and delete calls.
func (v *View) WithContext(ctx context.Context) *View {
	v.ctx = ctx
	return v
}

// Init loads the sources.
func (v *View) Init() tea.Cmd {
	v.loading = true
	return v.loadSources()
}

func (v *View) loadSources() tea.Cmd {
	svc, ctx, collection := v.collections, v.ctx, v.collection
	return func() tea.Msg {
		if svc == nil {
			return messages.SourcesLoaded{Collection: collection, Err: errNoCollectionService}
		}
		sources, err := svc.ListSources(ctx, collection)
		return messages.SourcesLoaded{Collection: collection, Sources: sources, Err: err}
	}
}

func (v *View) deleteSource(source string) tea.Cmd {
	svc, ctx, collection := v.collections, v.ctx, v.collection
	return func() tea.Msg {
		if svc == nil {
			return messages.SourceDeleted{Source: source, Err: errNoCollectionService}
		}
		n, err := svc.DeleteSource(ctx, collection, source)
		return messages.SourceDeleted{Source: source, Deleted: n, Err: err}
	}
}

// Update applies key presses and the results of list and delete calls. A
// successful delete triggers a reload.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case tea.KeyMsg:
		return v.handleKeyMsg(msg)

	case messages.SourcesLoaded:
		v.loading = false
		if msg.Err != nil {
			v.err = msg.Err
			return v, nil
		}
		v.err = nil
		v.sources = msg.Sources
		if v.selected >= len(v.sources) {
			v.selected = max(len(v.sources)-1, 0)
		}
		return v, nil

	case messages.SourceDeleted:
		if msg.Err != nil {
			v.err = msg.Err
			return v, nil
		}
		v.notice = fmt.Sprintf("Deleted %d chunks from %s", msg.Deleted, msg.Source)
		v.loading = true
		return v, v.loadSources()
	}

	return v, nil
}

func (v *View) handleKeyMsg(msg tea.KeyMsg) (*View, tea.Cmd) {
	switch {
	case key.Matches(msg, v.keys.Up):
		v.selected = max(v.selected-1, 0)
	case key.Matches(msg, v.keys.Down):
		v.selected = max(min(v.selected+1, len(v.sources)-1), 0)
	case key.Matches(msg, v.keys.Delete):
		if v.selected < len(v.sources) {
			return v, v.deleteSource(v.sources[v.selected].Source)
		}
	case key.Matches(msg, v.keys.Reload):
		v.loading, v.notice = true, ""
		return v, v.loadSources()
	case key.Matches(msg, v.keys.Back):
		return v, func() tea.Msg { return messages.ViewChanged{View: messages.ViewMenu} }
	}
	return v, nil
}

// View renders the sources view.
func (v *View) View() string {
	var b strings.Builder

	b.WriteString(v.styles.Title.Render("Sources"))
	b.WriteString("  ")
	b.WriteString(v.styles.Muted.Render(v.collection))
	b.WriteString("\n\n")

	switch {
	case v.loading:
		b.WriteString(v.styles.Muted.Render("Loading sources..."))
	case v.err != nil:
		b.WriteString(v.styles.Error.Render("Error: " + v.err.Error()))
	case len(v.sources) == 0:
		b.WriteString(v.styles.Muted.Render("No sources ingested into this collection."))
	default:
		for i := range v.sources {
			b.WriteString(v.renderSource(i, &v.sources[i]))
			b.WriteString("\n")
		}
	}

	if v.notice != "" {
		b.WriteString("\n")
		b.WriteString(v.styles.Success.Render(v.notice))
	}

	b.WriteString("\n\n")
	b.WriteString(v.styles.Help.Render("[d] delete  [r] reload  [esc] back  [q] quit"))
	return b.String()
}

// renderSource formats "> source  N chunks  updated".
func (v *View) renderSource(index int, src *domain.SourceInfo) string {
	indicator := "  "
	if index == v.selected {
		indicator = "> "
	}

	counts := fmt.Sprintf("%d chunks", src.Records)
	if src.UpdatedAt != "" {
		counts += "  " + src.UpdatedAt
	}

	name := src.Source
	limit := max(v.width-len(counts)-8, 10)
	if r := []rune(name); len(r) > limit {
		name = string(r[:limit-3]) + "..."
	}

	if index == v.selected {
		return v.styles.Selected.Render(indicator+name) + "  " + v.styles.Muted.Render(counts)
	}
	return v.styles.Normal.Render(indicator+name) + "  " + v.styles.Muted.Render(counts)
}

// SetDimensions records the terminal size; long source names are
// truncated to fit the width.
func (v *View) SetDimensions(width, height int) {
	v.width, v.height = width, height
	v.ready = true
}

func (v *View) Collection() string           { return v.collection }
func (v *View) Sources() []domain.SourceInfo { return v.sources }
func (v *View) SelectedIndex() int           { return v.selected }
func (v *View) Loading() bool                { return v.loading }
func (v *View) Err() error                   { return v.err }
