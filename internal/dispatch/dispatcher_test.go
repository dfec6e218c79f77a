package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nhle/tasksync/internal/chat"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/reconcile"
	"github.com/nhle/tasksync/internal/registry"
	"github.com/nhle/tasksync/internal/testutil"
)

type fakeRegistrar struct {
	kinds []model.TaskKind
	ids   []string
	dup   bool
}

func (f *fakeRegistrar) Register(kind model.TaskKind, id string, _ registry.UpdateFunc) bool {
	f.kinds = append(f.kinds, kind)
	f.ids = append(f.ids, id)
	return !f.dup
}

func newTestDispatcher(t *testing.T, baseURL string) (*Dispatcher, *fakeRegistrar) {
	t.Helper()
	reg := &fakeRegistrar{}
	fb := NewFallback(time.UTC)
	fb.now = func() time.Time { return time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC) }
	cfg := model.APIConfig{BaseURL: baseURL + "/", Token: "tok", TimeoutSec: 2}
	return New(cfg, reg, fb, nil), reg
}

func TestDispatcher_RegistersRemoteTask(t *testing.T) {
	backend := testutil.NewBackend(t)
	d, reg := newTestDispatcher(t, backend.URL())

	var updates []registry.Update
	handle, err := d.Dispatch(context.Background(), MessageRequest{
		Message: "hello",
		History: []chat.Message{{Role: model.RoleUser, Content: "earlier"}},
	}, func(u registry.Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if handle.Kind != model.TaskKindMessage || handle.ID != "chat-1" || handle.Status != model.TaskStatusPending {
		t.Errorf("handle = %+v", handle)
	}
	if len(reg.ids) != 1 || reg.ids[0] != "chat-1" || reg.kinds[0] != model.TaskKindMessage {
		t.Errorf("registered = %v %v", reg.kinds, reg.ids)
	}
	if len(updates) != 0 {
		t.Errorf("unexpected immediate updates: %+v", updates)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Path != "/chat" || reqs[0].Authorization != "Bearer tok" {
		t.Errorf("request = %+v", reqs[0])
	}
	if reqs[0].Body["message"] != "hello" {
		t.Errorf("body = %v", reqs[0].Body)
	}
	if hist, ok := reqs[0].Body["history"].([]any); !ok || len(hist) != 1 {
		t.Errorf("history = %v", reqs[0].Body["history"])
	}
}

func TestDispatcher_PathsPerKind(t *testing.T) {
	backend := testutil.NewBackend(t)
	d, _ := newTestDispatcher(t, backend.URL())
	ctx := context.Background()

	reqs := []Request{
		ChecklistRequest{Goals: []string{"a"}},
		CheckinRequest{Mood: 3, Energy: 3},
	}
	for _, r := range reqs {
		if _, err := d.Dispatch(ctx, r, nil); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", r.Kind(), err)
		}
	}

	got := backend.Requests()
	if got[0].Path != "/checklist" || got[1].Path != "/checkin" {
		t.Errorf("paths = %s, %s", got[0].Path, got[1].Path)
	}
}

func TestDispatcher_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *testutil.Backend) string
	}{
		{"server error", func(b *testutil.Backend) string {
			b.FailDispatch(http.StatusServiceUnavailable)
			return b.URL()
		}},
		{"unreachable", func(b *testutil.Backend) string {
			url := b.URL()
			b.Server.Close()
			return url
		}},
		{"not found", func(b *testutil.Backend) string {
			return b.URL() + "/missing"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testutil.NewBackend(t)
			d, reg := newTestDispatcher(t, tt.setup(backend))

			var updates []registry.Update
			handle, err := d.Dispatch(context.Background(), CheckinRequest{Mood: 5, Energy: 1},
				func(u registry.Update) { updates = append(updates, u) })
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			if !IsLocal(handle.ID) || handle.Status != model.TaskStatusCompleted {
				t.Errorf("handle = %+v, want local completed", handle)
			}
			if len(reg.ids) != 0 {
				t.Errorf("fallback registered a listener: %v", reg.ids)
			}
			if len(updates) != 1 {
				t.Fatalf("updates = %d, want 1", len(updates))
			}
			u := updates[0]
			if u.Status != model.TaskStatusCompleted || u.TaskID != handle.ID || u.Kind != model.TaskKindCheckin {
				t.Errorf("update = %+v", u)
			}
			summary, _ := u.Payload["summary"].(string)
			if !strings.HasPrefix(summary, "Mood 5/5 (high), energy 1/5 (very low)") {
				t.Errorf("summary = %q", summary)
			}
			if _, ok := u.Payload["analysis"]; ok {
				t.Error("fallback payload carries analysis")
			}
		})
	}
}

func TestDispatcher_ContextCancelled(t *testing.T) {
	backend := testutil.NewBackend(t)
	d, _ := newTestDispatcher(t, backend.URL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := d.Dispatch(ctx, MessageRequest{Message: "x"}, func(registry.Update) { called = true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fallback delivered on cancelled context")
	}
}

func TestDispatcher_SendErrors(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.FailDispatch(http.StatusBadGateway)
	d, _ := newTestDispatcher(t, backend.URL())

	_, err := d.Send(context.Background(), MessageRequest{Message: "x"})
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if de.Status != http.StatusBadGateway || de.Kind != model.TaskKindMessage {
		t.Errorf("error = %+v", de)
	}
}

func TestFallback_Payloads(t *testing.T) {
	fb := NewFallback(time.UTC)
	fb.now = func() time.Time { return time.Date(2025, 3, 17, 23, 0, 0, 0, time.UTC) }

	msg := fb.Synthesize(MessageRequest{Message: "hi"})
	if msg["summary"] != OfflineReply {
		t.Errorf("message summary = %v", msg["summary"])
	}
	if _, ok := msg["response"]; ok {
		t.Error("message fallback carries response")
	}

	list := fb.Synthesize(ChecklistRequest{Goals: []string{"Plan day", " ", "Read"}, Notes: "Focus."})
	inputs, err := reconcile.DecodeChecklistData(list["checklist_data"])
	if err != nil {
		t.Fatalf("DecodeChecklistData() error = %v", err)
	}
	if len(inputs) != 1 || inputs[0].Date != "2025-03-17" || inputs[0].Notes != "Focus." {
		t.Fatalf("inputs = %+v", inputs)
	}
	if len(inputs[0].Items) != 2 || inputs[0].Items[1].Title != "Read" {
		t.Errorf("items = %+v", inputs[0].Items)
	}
}

func TestCheckinSummary_Clamps(t *testing.T) {
	got := CheckinSummary(0, 9)
	if !strings.HasPrefix(got, "Mood 1/5 (very low), energy 5/5 (high).") {
		t.Errorf("CheckinSummary(0, 9) = %q", got)
	}
}
