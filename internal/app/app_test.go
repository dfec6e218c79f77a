package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/model"
)

type fakeEngine struct {
	active  []model.TaskHandle
	resumed int
	err     error
}

func (f *fakeEngine) Active() []model.TaskHandle { return f.active }

func (f *fakeEngine) Resume(context.Context) (int, error) { return f.resumed, f.err }

func newTestModel(engine *fakeEngine) Model {
	m := New(engine, make(chan events.Event))
	m.now = func() time.Time { return time.Date(2025, 3, 17, 9, 30, 0, 0, time.UTC) }
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T, want Model", next)
	}
	return got, cmd
}

func TestModel_StatusFollowsListeners(t *testing.T) {
	m := newTestModel(&fakeEngine{
		active: []model.TaskHandle{{Kind: model.TaskKindChecklist, ID: "c-1"}},
	})
	if got := m.Status(); got != "waiting on checklist" {
		t.Errorf("Status() = %q, want %q", got, "waiting on checklist")
	}

	m, cmd := update(t, m, eventMsg{event: events.ListenersChanged{
		Active: 2,
		Kinds:  []model.TaskKind{model.TaskKindMessage, model.TaskKindCheckin},
	}})
	if cmd == nil {
		t.Error("Update(eventMsg) did not re-arm the event wait")
	}
	if got := m.Status(); got != "waiting on message, checkin" {
		t.Errorf("Status() = %q", got)
	}

	m, _ = update(t, m, eventMsg{event: events.ListenersChanged{}})
	if got := m.Status(); got != "idle" {
		t.Errorf("Status() = %q, want idle", got)
	}
}

func TestModel_FeedRecordsResults(t *testing.T) {
	m := newTestModel(&fakeEngine{})

	m, _ = update(t, m, eventMsg{event: events.ChatChunk{TaskID: "t1", Text: "Hel"}})
	m, _ = update(t, m, eventMsg{event: events.ChatChunk{TaskID: "t1", Text: "lo"}})
	if got := m.streaming["t1"].String(); got != "Hello" {
		t.Errorf("partial reply = %q, want Hello", got)
	}

	m, _ = update(t, m, eventMsg{event: events.ChatReply{TaskID: "t1", Text: "Hello"}})
	m, _ = update(t, m, eventMsg{event: events.ChecklistUpdated{
		Date: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
	}})
	m, _ = update(t, m, eventMsg{event: events.TaskFailed{
		Kind:    model.TaskKindCheckin,
		TaskID:  "t2",
		Message: "The check-in couldn't be analyzed.",
	}})

	if len(m.streaming) != 0 {
		t.Errorf("streaming = %d entries after reply, want 0", len(m.streaming))
	}
	if len(m.feed) != 3 {
		t.Fatalf("feed = %d lines, want 3", len(m.feed))
	}
	for i, want := range []string{"Hello", "2025-03-17", "couldn't be analyzed"} {
		if !strings.Contains(m.feed[i], want) {
			t.Errorf("feed[%d] = %q, want it to contain %q", i, m.feed[i], want)
		}
		if !strings.Contains(m.feed[i], "09:30:00") {
			t.Errorf("feed[%d] = %q, missing timestamp", i, m.feed[i])
		}
	}
}

func TestModel_Keys(t *testing.T) {
	m := newTestModel(&fakeEngine{resumed: 2})
	m.feed = []string{"old"}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if len(m.feed) != 0 {
		t.Errorf("feed after clear = %v", m.feed)
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("resume key returned no command")
	}
	msg, ok := cmd().(resumedMsg)
	if !ok || msg.count != 2 || msg.err != nil {
		t.Errorf("resume cmd = %+v", msg)
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("quit key returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key did not quit")
	}
}

func TestModel_ResumeFailureShown(t *testing.T) {
	m := newTestModel(&fakeEngine{})
	m, _ = update(t, m, resumedMsg{err: errors.New("store closed")})
	if len(m.feed) != 1 || !strings.Contains(m.feed[0], "store closed") {
		t.Errorf("feed = %v", m.feed)
	}
}

func TestModel_View(t *testing.T) {
	m := newTestModel(&fakeEngine{})
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() before size = %q", got)
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})
	m, _ = update(t, m, eventMsg{event: events.CheckinAnalyzed{TaskID: "t", Summary: "Steady day."}})
	view := m.View()
	for _, want := range []string{"tasksync", "idle", "Steady day.", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}
