// Package app is the watch view: a loading indicator while task listeners
// are active and a feed of engine events.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/keys"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/theme"
	"github.com/nhle/tasksync/internal/ui"
)

// maxFeedLines bounds the retained feed.
const maxFeedLines = 200

// resumeTimeout bounds a resume triggered from the view.
const resumeTimeout = 10 * time.Second

// Engine is the part of the sync engine the view needs.
type Engine interface {
	Active() []model.TaskHandle
	Resume(ctx context.Context) (int, error)
}

// eventMsg wraps an engine event for the Bubble Tea loop.
type eventMsg struct {
	event events.Event
}

// busClosedMsg is sent once the event channel is closed.
type busClosedMsg struct{}

// resumedMsg reports the outcome of a resume.
type resumedMsg struct {
	count int
	err   error
}

// Model is the root Bubble Tea model of the watch view.
type Model struct {
	engine  Engine
	events  <-chan events.Event
	keys    *keys.KeyMap
	spinner spinner.Model
	layout  ui.Layout
	ready   bool
	now     func() time.Time

	kinds []model.TaskKind
	feed  []string

	// streaming holds the partial reply of each streamed message task.
	streaming map[string]*strings.Builder
}

// New creates the watch view. ch is an events.Bus subscription.
func New(engine Engine, ch <-chan events.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.SpinnerStyle

	m := Model{
		engine:    engine,
		events:    ch,
		keys:      keys.DefaultKeyMap(),
		spinner:   sp,
		now:       time.Now,
		streaming: make(map[string]*strings.Builder),
	}
	for _, h := range engine.Active() {
		m.kinds = append(m.kinds, h.Kind)
	}
	return m
}

// Init starts the spinner and the event subscription.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent returns a tea.Cmd that waits for the next engine event.
func (m Model) waitForEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m Model) resume() tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		defer cancel()
		n, err := engine.Resume(ctx)
		return resumedMsg{count: n, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.feed = nil
			return m, nil
		case key.Matches(msg, m.keys.Resume):
			return m, m.resume()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(msg.event)
		return m, m.waitForEvent()

	case busClosedMsg:
		m.kinds = nil
		m.addLine("engine stopped")
		return m, nil

	case resumedMsg:
		if msg.err != nil {
			m.addLine(theme.ErrorStyle.Render("resume failed: " + msg.err.Error()))
		} else {
			m.addLine(fmt.Sprintf("resumed %d pending task(s)", msg.count))
		}
		return m, nil
	}

	return m, nil
}

// apply folds one engine event into the view state.
func (m *Model) apply(ev events.Event) {
	switch ev := ev.(type) {
	case events.ListenersChanged:
		m.kinds = ev.Kinds

	case events.ChatChunk:
		b, ok := m.streaming[ev.TaskID]
		if !ok {
			b = &strings.Builder{}
			m.streaming[ev.TaskID] = b
		}
		b.WriteString(ev.Text)

	case events.ChatReply:
		delete(m.streaming, ev.TaskID)
		m.addLine(label(model.TaskKindMessage) + ev.Text)

	case events.ChecklistUpdated:
		m.addLine(label(model.TaskKindChecklist) + "updated " + ev.Date.Format(model.DateLayout))

	case events.CheckinAnalyzed:
		m.addLine(label(model.TaskKindCheckin) + ev.Summary)

	case events.TaskFailed:
		delete(m.streaming, ev.TaskID)
		m.addLine(label(ev.Kind) + theme.ErrorStyle.Render(ev.Message))
	}
}

func label(kind model.TaskKind) string {
	return theme.KindLabelStyle(string(kind)).Render(string(kind))
}

func (m *Model) addLine(line string) {
	stamp := theme.TimestampStyle.Render(m.now().Format("15:04:05"))
	m.feed = append(m.feed, stamp+" "+line)
	if len(m.feed) > maxFeedLines {
		m.feed = m.feed[len(m.feed)-maxFeedLines:]
	}
}

// Status describes the listener state shown in the header.
func (m Model) Status() string {
	if len(m.kinds) == 0 {
		return "idle"
	}
	names := make([]string, len(m.kinds))
	for i, k := range m.kinds {
		names[i] = string(k)
	}
	return "waiting on " + strings.Join(names, ", ")
}

// View renders the frame.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := m.Status()
	if len(m.kinds) > 0 {
		status = m.spinner.View() + " " + status
	}
	header := m.layout.RenderHeader("tasksync", status)

	lines := m.feed
	if len(m.streaming) > 0 {
		lines = append(append([]string(nil), m.feed...), m.partialLines()...)
	}
	content := m.layout.RenderFeed(lines)
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

func (m Model) partialLines() []string {
	out := make([]string, 0, len(m.streaming))
	for _, b := range m.streaming {
		out = append(out, label(model.TaskKindMessage)+theme.HelpStyle.Render(b.String()+"…"))
	}
	return out
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	hints := make([]string, 0, 3)
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, h.Key+" "+h.Desc)
	}
	return strings.Join(hints, " | ")
}
