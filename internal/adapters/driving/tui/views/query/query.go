// Package query provides the query view: an input line, ranked matches with
// provenance, and LLM answers built from those matches.
package query

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/components/input"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/components/list"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
)

// View is the query screen.
type View struct {
	styles    *styles.Styles
	keymap    *keymap.KeyMap
	input     *input.QueryInput
	list      *list.MatchList
	statusbar *status.Bar

	retriever  driving.Retriever
	collection string
	topK       int
	ctx        context.Context

	width      int
	height     int
	ready      bool
	err        error
	focusInput bool
	lastQuery  string
	answer     *domain.Answer
}

// NewView creates a query view over collection. topK of zero uses the
// retriever's default.
func NewView(
	s *styles.Styles,
	km *keymap.KeyMap,
	retriever driving.Retriever,
	collection string,
	topK int,
) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}
	if collection == "" {
		collection = domain.DefaultCollection
	}

	bar := status.NewBar(s, km)
	bar.SetCollection(collection)

	return &View{
		styles:     s,
		keymap:     km,
		input:      input.NewQueryInput(s, ""),
		list:       list.NewMatchList(s),
		statusbar:  bar,
		retriever:  retriever,
		collection: collection,
		topK:       topK,
		ctx:        context.Background(),
		width:      80,
		height:     24,
		focusInput: true,
	}
}

// WithContext sets the context used for retriever calls.
func (v *View) WithContext(ctx context.Context) *View {
	v.ctx = ctx
	return v
}

// Init initialises the view.
func (v *View) Init() tea.Cmd {
	return v.input.Init()
}

// Update handles messages for the query view.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case tea.KeyMsg:
		return v.handleKeyMsg(msg)

	case messages.QueryCompleted:
		v.handleQueryCompleted(msg)
		return v, nil

	case messages.AnswerCompleted:
		v.handleAnswerCompleted(msg)
		return v, nil

	case messages.ErrorOccurred:
		v.setError(msg.Err)
		return v, nil
	}

	if v.focusInput {
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return v, cmd
	}
	return v, nil
}

func (v *View) handleKeyMsg(msg tea.KeyMsg) (*View, tea.Cmd) {
	keyStr := msg.String()

	if msg.Type == tea.KeyEsc {
		if v.answer != nil {
			v.answer = nil
			return v, nil
		}
		return v, func() tea.Msg {
			return messages.ViewChanged{View: messages.ViewMenu}
		}
	}

	if v.focusInput {
		if msg.Type == tea.KeyEnter {
			text := v.input.Value()
			if text == "" {
				return v, nil
			}
			v.lastQuery = text
			v.answer = nil
			v.err = nil
			v.focusInput = false
			v.input.Blur()
			v.statusbar.SetMessage("")
			v.statusbar.SetState(status.StateQuerying)
			return v, v.runQuery(text)
		}
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return v, cmd
	}

	switch {
	case keymap.Matches(keyStr, v.keymap.Up):
		v.list.MoveUp()
	case keymap.Matches(keyStr, v.keymap.Down):
		v.list.MoveDown()
	case keymap.Matches(keyStr, v.keymap.Expand):
		v.list.ToggleExpanded()
	case keymap.Matches(keyStr, v.keymap.NewQuery):
		v.startNewQuery()
	case keymap.Matches(keyStr, v.keymap.Answer):
		if v.lastQuery == "" || v.list.Count() == 0 {
			return v, nil
		}
		v.statusbar.SetState(status.StateAnswering)
		return v, v.runAnswer(v.lastQuery)
	}
	return v, nil
}

func (v *View) runQuery(text string) tea.Cmd {
	retriever, ctx := v.retriever, v.ctx
	collection, k := v.collection, v.topK
	return func() tea.Msg {
		if retriever == nil {
			return messages.ErrorOccurred{Err: ErrNoRetriever}
		}
		result, err := retriever.Query(ctx, collection, text, k, domain.Filter{})
		return messages.QueryCompleted{Result: result, Err: err}
	}
}

func (v *View) runAnswer(question string) tea.Cmd {
	retriever, ctx := v.retriever, v.ctx
	collection, k := v.collection, v.topK
	return func() tea.Msg {
		if retriever == nil {
			return messages.ErrorOccurred{Err: ErrNoRetriever}
		}
		answer, err := retriever.Answer(ctx, collection, question, k, domain.Filter{})
		return messages.AnswerCompleted{Answer: answer, Err: err}
	}
}

func (v *View) handleQueryCompleted(msg messages.QueryCompleted) {
	if msg.Err != nil {
		v.setError(msg.Err)
		v.list.SetMatches(nil)
		return
	}

	v.err = nil
	var matches []domain.ScoredRecord
	if msg.Result != nil {
		matches = msg.Result.Matches
	}
	v.list.SetMatches(matches)
	v.statusbar.SetState(status.StateResults)
	v.statusbar.SetMatchCount(len(matches))
	v.focusInput = false
	v.input.Blur()
}

func (v *View) handleAnswerCompleted(msg messages.AnswerCompleted) {
	if msg.Err != nil {
		v.setError(msg.Err)
		return
	}
	v.err = nil
	v.answer = msg.Answer
	v.statusbar.SetState(status.StateResults)
}

func (v *View) setError(err error) {
	v.err = err
	v.statusbar.SetState(status.StateError)
	v.statusbar.SetMessage(err.Error())
}

func (v *View) startNewQuery() {
	v.focusInput = true
	v.answer = nil
	v.input.Reset()
	v.input.Focus()
	v.statusbar.Clear()
}

// View renders the query view.
func (v *View) View() string {
	if !v.ready {
		return "Initialising..."
	}

	sections := make([]string, 0, 12)
	sections = append(sections,
		v.styles.Title.Render("ragpipe")+"  "+v.styles.Muted.Render(v.collection),
		"",
		v.input.View(),
		"",
	)

	if v.err != nil {
		sections = append(sections, v.styles.Error.Render("Error: "+v.err.Error()), "")
	}

	if v.answer != nil {
		sections = append(sections, v.renderAnswer(), "")
	} else {
		sections = append(sections, v.list.View(), "")
	}

	sections = append(sections, v.statusbar.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (v *View) renderAnswer() string {
	var b strings.Builder
	b.WriteString(v.styles.Subtitle.Render("Answer"))
	if v.answer.Model != "" {
		b.WriteString(v.styles.Muted.Render("  " + v.answer.Model))
	}
	b.WriteString("\n\n")
	b.WriteString(v.answer.Text)

	if v.answer.Context != nil && len(v.answer.Context.Matches) > 0 {
		b.WriteString("\n\n")
		b.WriteString(v.styles.Muted.Render("Sources:"))
		for i := range v.answer.Context.Matches {
			b.WriteString("\n")
			b.WriteString(v.styles.Provenance.Render("  " + v.answer.Context.Matches[i].ID()))
		}
	}
	return v.styles.Panel.Width(max(v.width-4, 20)).Render(b.String())
}

// SetDimensions sets the view dimensions.
func (v *View) SetDimensions(width, height int) {
	v.width = width
	v.height = height
	v.ready = true

	v.input.SetWidth(width)
	v.list.SetDimensions(width, height-8)
	v.statusbar.SetWidth(width)
}

// Ready returns whether the view is ready to render.
func (v *View) Ready() bool {
	return v.ready
}

// Collection returns the collection being queried.
func (v *View) Collection() string {
	return v.collection
}

// Query returns the text in the input.
func (v *View) Query() string {
	return v.input.Value()
}

// SetQuery sets the input text.
func (v *View) SetQuery(text string) {
	v.input.SetValue(text)
}

// LastQuery returns the most recently submitted query.
func (v *View) LastQuery() string {
	return v.lastQuery
}

// Matches returns the current matches.
func (v *View) Matches() []domain.ScoredRecord {
	return v.list.Matches()
}

// SelectedMatch returns the highlighted match.
func (v *View) SelectedMatch() *domain.ScoredRecord {
	return v.list.SelectedMatch()
}

// Expanded reports whether the highlighted match is expanded.
func (v *View) Expanded() bool {
	return v.list.Expanded()
}

// Answer returns the displayed answer, if any.
func (v *View) Answer() *domain.Answer {
	return v.answer
}

// Err returns the current error, if any.
func (v *View) Err() error {
	return v.err
}

// InputFocused returns whether the input has focus.
func (v *View) InputFocused() bool {
	return v.focusInput
}

// Reset returns the view to an empty input.
func (v *View) Reset() {
	v.startNewQuery()
	v.list.SetMatches(nil)
	v.lastQuery = ""
	v.err = nil
}
