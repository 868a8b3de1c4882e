package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/views/menu"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/views/query"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/views/sources"
)

var interrupt = key.NewBinding(key.WithKeys("ctrl+c"))

// helpSections names the groups returned by KeyMap.FullHelp, in order.
var helpSections = []string{"Navigation", "Query", "Sources", "General"}

// App routes messages between the menu, query, sources and help screens.
type App struct {
	ports  *Ports
	ctx    context.Context
	styles *styles.Styles
	keys   *keymap.KeyMap

	menu    *menu.View
	query   *query.View
	sources *sources.View

	currentView messages.ViewType

	// err is the most recent failure reported by a view or a service.
	err error

	width, height int
	ready         bool
}

var _ tea.Model = (*App)(nil)

// NewApp wires the screens to ports. The menu is shown first.
func NewApp(ports *Ports) (*App, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("creating app: %w", err)
	}

	st := styles.DefaultStyles()
	keys := keymap.DefaultKeyMap()
	name := ports.collection()

	return &App{
		ports:       ports,
		ctx:         context.Background(),
		styles:      st,
		keys:        keys,
		menu:        menu.NewView(st, name),
		query:       query.NewView(st, keys, ports.Retriever, name, ports.TopK),
		sources:     sources.NewView(st, ports.Collections, name),
		currentView: messages.ViewMenu,
	}, nil
}

// WithContext makes ctx the parent of every service call the screens make.
func (a *App) WithContext(ctx context.Context) *App {
	a.ctx = ctx
	a.query.WithContext(ctx)
	a.sources.WithContext(ctx)
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, tea.SetWindowTitle("ragpipe - "+a.ports.collection()))
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.SetDimensions(msg.Width, msg.Height)
		return a, nil
	case tea.KeyMsg:
		if key.Matches(msg, interrupt) {
			return a, tea.Quit
		}
		return a, a.routeKey(msg)
	case messages.ViewChanged:
		return a, a.switchTo(msg.View)
	case messages.QueryCompleted, messages.AnswerCompleted:
		return a, a.toQuery(msg)
	case messages.SourcesLoaded, messages.SourceDeleted:
		var cmd tea.Cmd
		a.sources, cmd = a.sources.Update(msg)
		a.err = a.sources.Err()
		return a, cmd
	case messages.ErrorOccurred:
		a.err = msg.Err
		if a.currentView != messages.ViewQuery {
			return a, nil
		}
		var cmd tea.Cmd
		a.query, cmd = a.query.Update(msg)
		return a, cmd
	}

	// Anything else, such as cursor blinks, belongs to the text input.
	if a.currentView != messages.ViewQuery {
		return a, nil
	}
	var cmd tea.Cmd
	a.query, cmd = a.query.Update(msg)
	return a, cmd
}

func (a *App) toQuery(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	a.query, cmd = a.query.Update(msg)
	a.err = a.query.Err()
	return cmd
}

// switchTo activates view, clearing the query screen on entry and
// reloading the source list.
func (a *App) switchTo(view messages.ViewType) tea.Cmd {
	a.currentView = view
	switch view {
	case messages.ViewQuery:
		a.query.Reset()
		return a.query.Init()
	case messages.ViewSources:
		return a.sources.Init()
	default:
		return nil
	}
}

// routeKey hands a key press to the active screen. The query screen takes
// every key because q and ? are valid query text there.
func (a *App) routeKey(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	switch a.currentView {
	case messages.ViewQuery:
		a.query, cmd = a.query.Update(msg)
	case messages.ViewMenu:
		if key.Matches(msg, a.keys.Help) {
			a.currentView = messages.ViewHelp
			return nil
		}
		a.menu, cmd = a.menu.Update(msg)
	case messages.ViewSources:
		if key.Matches(msg, a.keys.Quit) {
			return tea.Quit
		}
		a.sources, cmd = a.sources.Update(msg)
	case messages.ViewHelp:
		switch {
		case key.Matches(msg, a.keys.Back):
			a.currentView = messages.ViewMenu
		case key.Matches(msg, a.keys.Quit):
			return tea.Quit
		}
	}
	return cmd
}

func (a *App) View() string {
	if !a.ready {
		return "Initialising..."
	}
	switch a.currentView {
	case messages.ViewQuery:
		return a.query.View()
	case messages.ViewSources:
		return a.sources.View()
	case messages.ViewHelp:
		return a.renderHelp()
	default:
		return a.menu.View()
	}
}

func (a *App) renderHelp() string {
	var b strings.Builder
	b.WriteString(a.styles.Title.Render("Help") + "\n\n")

	for i, group := range a.keys.FullHelp() {
		title := "More"
		if i < len(helpSections) {
			title = helpSections[i]
		}
		b.WriteString(a.styles.Subtitle.Render(title) + "\n")
		for _, binding := range group {
			fmt.Fprintf(&b, "  %-10s %s\n", binding.Help().Key, binding.Help().Desc)
		}
		b.WriteByte('\n')
	}

	b.WriteString(a.styles.Help.Render("[esc] back to menu"))
	return b.String()
}

// Run blocks until the user quits or the context is cancelled.
func (a *App) Run() error {
	_, err := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(a.ctx)).Run()
	return err
}

func (a *App) CurrentView() messages.ViewType { return a.currentView }
func (a *App) Err() error                     { return a.err }
func (a *App) Ready() bool                    { return a.ready }

// SetDimensions resizes every screen and marks the app ready.
func (a *App) SetDimensions(width, height int) {
	a.width, a.height = width, height
	a.ready = true
	a.menu.SetDimensions(width, height)
	a.query.SetDimensions(width, height)
	a.sources.SetDimensions(width, height)
}
