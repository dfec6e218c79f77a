package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/registry"
)

// newStreamServer serves the given fragments for /stream/{id}, flushing
// after each one. A nil block channel sends them immediately.
func newStreamServer(t *testing.T, status int, fragments []string, block <-chan struct{}) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/stream/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range fragments {
			w.Write([]byte(f))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type result struct {
	mu       gosync.Mutex
	chunks   []string
	complete chan string
	err      chan error
}

func newResult() *result {
	return &result{complete: make(chan string, 4), err: make(chan error, 4)}
}

func (r *result) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (r *result) handlers() Handlers {
	return Handlers{
		OnChunk: func(s string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, s)
			r.mu.Unlock()
		},
		OnComplete: func(s string) { r.complete <- s },
		OnError:    func(err error) { r.err <- err },
	}
}

func TestClient_StreamsToCompletion(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, []string{
		"event: connected\ndata: {}\n\nevent: text\nda",
		"ta: {\"chunk\":\"He\"}\n\nevent: text\ndata: {\"chunk\":\"llo\"}\n",
		"\nevent: done\ndata: {\"full_text\":\"Hello\"}\n\n",
	}, nil)

	res := newResult()
	conn, err := NewClient(srv.URL, "tok", nil).Open(context.Background(), "req-1", res.handlers())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	select {
	case text := <-res.complete:
		if text != "Hello" {
			t.Errorf("complete = %q, want %q", text, "Hello")
		}
	case err := <-res.err:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	<-conn.Done()

	if len(res.chunks) != 2 || res.chunks[0] != "He" || res.chunks[1] != "llo" {
		t.Errorf("chunks = %q, want [He llo]", res.chunks)
	}
	if len(res.complete) != 0 {
		t.Error("completion delivered more than once")
	}
}

func TestClient_CleanCloseCompletesEmpty(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, []string{
		"event: text\ndata: {\"chunk\":\"partial\"}\n\nevent: text\ndata: {\"ch",
	}, nil)

	res := newResult()
	conn, err := NewClient(srv.URL, "", nil).Open(context.Background(), "req-2", res.handlers())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	<-conn.Done()

	select {
	case text := <-res.complete:
		if text != "" {
			t.Errorf("complete = %q, want empty", text)
		}
	default:
		t.Fatal("no completion after clean close")
	}
}

func TestClient_HTTPErrorIsTransportError(t *testing.T) {
	srv := newStreamServer(t, http.StatusInternalServerError, nil, nil)

	res := newResult()
	conn, err := NewClient(srv.URL, "", nil).Open(context.Background(), "req-3", res.handlers())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	<-conn.Done()

	select {
	case err := <-res.err:
		var te *TransportError
		if !errors.As(err, &te) || te.Status != http.StatusInternalServerError {
			t.Errorf("error = %v, want TransportError(500)", err)
		}
	default:
		t.Fatal("no error delivered")
	}
	if len(res.complete) != 0 {
		t.Error("completion delivered after transport error")
	}
}

func TestClient_CloseSuppressesCallbacks(t *testing.T) {
	block := make(chan struct{})
	srv := newStreamServer(t, http.StatusOK, []string{
		"event: text\ndata: {\"chunk\":\"a\"}\n\nevent: text\ndata: {\"chunk\":\"b\"}",
	}, block)
	defer close(block)

	res := newResult()
	conn, err := NewClient(srv.URL, "", nil).Open(context.Background(), "req-4", res.handlers())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for res.chunkCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()
	conn.Close()
	<-conn.Done()

	if len(res.complete) != 0 || len(res.err) != 0 {
		t.Error("callbacks delivered after Close")
	}
	if len(res.chunks) != 1 {
		t.Errorf("chunks = %q, want [a]", res.chunks)
	}
}

func TestClient_OpenRequiresID(t *testing.T) {
	if _, err := NewClient("http://example.invalid", "", nil).Open(context.Background(), " ", Handlers{}); err == nil {
		t.Error("Open(blank id) expected error")
	}
}

func TestSubscriber_MapsEventsToUpdates(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, []string{
		"event: outline_plan\ndata: {\"title\":\"P\"}\n\n",
		"event: text\ndata: {\"chunk\":\"Hi\"}\n\n",
		"event: done\ndata: {\"full_text\":\"Hi!\"}\n\n",
	}, nil)

	updates := make(chan registry.Update, 8)
	sub := NewSubscriber(NewClient(srv.URL, "", nil), nil)
	s := sub.Subscribe(model.TaskKindMessage, "m1", func(u registry.Update) { updates <- u })
	defer s.Cancel()

	var got []registry.Update
	for len(got) < 3 {
		select {
		case u := <-updates:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d updates", len(got))
		}
	}

	if got[0].Status != model.TaskStatusPending || got[0].Payload["event"] != "outline_plan" {
		t.Errorf("update[0] = %+v", got[0])
	}
	if got[1].Status != model.TaskStatusPending || got[1].Payload["chunk"] != "Hi" {
		t.Errorf("update[1] = %+v", got[1])
	}
	if got[2].Status != model.TaskStatusCompleted || got[2].Payload["response"] != "Hi!" {
		t.Errorf("update[2] = %+v", got[2])
	}
	if got[2].Kind != model.TaskKindMessage || got[2].TaskID != "m1" {
		t.Errorf("update[2] identity = %s/%s", got[2].Kind, got[2].TaskID)
	}
}

func TestSubscriber_ErrorEventFails(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, []string{
		"event: error\ndata: {\"error\":\"model overloaded\"}\n\n",
	}, nil)

	updates := make(chan registry.Update, 4)
	s := NewSubscriber(NewClient(srv.URL, "", nil), nil).
		Subscribe(model.TaskKindMessage, "m2", func(u registry.Update) { updates <- u })
	defer s.Cancel()

	select {
	case u := <-updates:
		if u.Status != model.TaskStatusFailed || u.Payload["error"] != "model overloaded" {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
}
