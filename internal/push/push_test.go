package push

import (
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/registry"
)

type fakeSource struct {
	path    string
	fn      func(map[string]any)
	stopped int
}

func (f *fakeSource) Watch(path string, fn func(map[string]any)) func() {
	f.path = path
	f.fn = fn
	return func() { f.stopped++ }
}

func testPushConfig() model.PushConfig {
	return model.PushConfig{Collections: map[string]string{"checklist": "lists"}}
}

func TestListener_ForwardsStatusAndPayload(t *testing.T) {
	src := &fakeSource{}
	l := NewListener(src, testPushConfig(), nil)

	var got []registry.Update
	sub := l.Subscribe(model.TaskKindChecklist, "t1", func(u registry.Update) { got = append(got, u) })

	if src.path != "lists/t1" {
		t.Errorf("path = %q, want %q", src.path, "lists/t1")
	}

	src.fn(map[string]any{"status": "pending"})
	src.fn(map[string]any{"status": "pending"})
	src.fn(map[string]any{"progress": 0.5})
	src.fn(map[string]any{"status": "queued"})
	src.fn(map[string]any{"status": "completed", "checklist_data": map[string]any{}})

	want := []model.TaskStatus{"pending", "pending", "unknown", "queued", "completed"}
	if len(got) != len(want) {
		t.Fatalf("updates = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Status != w {
			t.Errorf("update[%d].Status = %q, want %q", i, got[i].Status, w)
		}
		if got[i].Kind != model.TaskKindChecklist || got[i].TaskID != "t1" {
			t.Errorf("update[%d] = %+v", i, got[i])
		}
	}
	if _, ok := got[4].Payload["checklist_data"]; !ok {
		t.Error("payload not forwarded")
	}

	sub.Cancel()
	sub.Cancel()
	if src.stopped != 1 {
		t.Errorf("stopped = %d, want 1", src.stopped)
	}

	// Deliveries after cancel are dropped.
	src.fn(map[string]any{"status": "failed"})
	if len(got) != len(want) {
		t.Errorf("update delivered after cancel")
	}
}

func TestListener_DefaultCollection(t *testing.T) {
	l := NewListener(&fakeSource{}, model.PushConfig{}, nil)
	if got := l.Path(model.TaskKindMessage, "abc"); got != "chat_tasks/abc" {
		t.Errorf("Path() = %q, want %q", got, "chat_tasks/abc")
	}
}

// recordServer serves a single record whose body can be swapped. An empty
// body means 404.
type recordServer struct {
	mu    gosync.Mutex
	body  string
	hits  atomic.Int32
	token string
}

func (s *recordServer) set(body string) {
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
}

func (s *recordServer) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		s.token = r.Header.Get("Authorization")
		body := s.body
		s.mu.Unlock()
		if body == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
	return r
}

func TestPollingSource_DeliversOnChange(t *testing.T) {
	rs := &recordServer{}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	src := NewPollingSource(srv.URL, "secret", 10*time.Millisecond, nil)

	updates := make(chan map[string]any, 16)
	stop := src.Watch("checklist_tasks/t1", func(fields map[string]any) {
		updates <- fields
	})
	defer stop()

	// Missing record: no callback.
	deadline := time.Now().Add(2 * time.Second)
	for rs.hits.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case f := <-updates:
		t.Fatalf("unexpected update for missing record: %v", f)
	default:
	}

	rs.set(`{"status":"pending"}`)
	first := waitUpdate(t, updates)
	if first["status"] != "pending" {
		t.Errorf("status = %v, want pending", first["status"])
	}

	// Unchanged content is not redelivered.
	hits := rs.hits.Load()
	for rs.hits.Load() < hits+3 && time.Now().Before(deadline.Add(2*time.Second)) {
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case f := <-updates:
		t.Fatalf("unchanged record redelivered: %v", f)
	default:
	}

	rs.set(`{"status": "completed", "response": "hi"}`)
	second := waitUpdate(t, updates)
	if second["status"] != "completed" || second["response"] != "hi" {
		t.Errorf("second update = %v", second)
	}

	rs.mu.Lock()
	token := rs.token
	rs.mu.Unlock()
	if token != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", token, "Bearer secret")
	}
}

func TestPollingSource_StopIsIdempotent(t *testing.T) {
	rs := &recordServer{body: `{"status":"pending"}`}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	src := NewPollingSource(srv.URL, "", 10*time.Millisecond, nil)
	updates := make(chan map[string]any, 16)
	stop := src.Watch("/chat_tasks/m1", func(fields map[string]any) { updates <- fields })

	waitUpdate(t, updates)
	stop()
	stop()

	time.Sleep(30 * time.Millisecond)
	hits := rs.hits.Load()
	rs.set(`{"status":"completed"}`)
	time.Sleep(50 * time.Millisecond)

	if rs.hits.Load() > hits+1 {
		t.Errorf("polling continued after stop: %d -> %d hits", hits, rs.hits.Load())
	}
	select {
	case f := <-updates:
		t.Errorf("update after stop: %v", f)
	default:
	}
}

func waitUpdate(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return nil
	}
}
