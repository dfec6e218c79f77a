package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RecordedRequest is a dispatch request received by a Backend.
type RecordedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

// Backend is an in-process fake of the task backend: dispatch endpoints,
// push records and event streams.
type Backend struct {
	Server *httptest.Server

	mu             sync.Mutex
	nextID         int
	dispatchStatus int
	requests       []RecordedRequest
	records        map[string]map[string]any
	streams        map[string][]string
}

// NewBackend starts a Backend that is closed when the test completes.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		records: make(map[string]map[string]any),
		streams: make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Post("/chat", b.handleDispatch("chat"))
	r.Post("/checklist", b.handleDispatch("checklist"))
	r.Post("/checkin", b.handleDispatch("checkin"))
	r.Get("/stream/{id}", b.handleStream)
	r.Get("/{collection}/{id}", b.handleRecord)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the base URL of the backend.
func (b *Backend) URL() string {
	return b.Server.URL
}

// FailDispatch makes every dispatch endpoint answer with status. Zero
// restores normal behavior.
func (b *Backend) FailDispatch(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatchStatus = status
}

// SetRecord replaces the push record at path ("collection/id"). A nil
// fields map deletes it.
func (b *Backend) SetRecord(path string, fields map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path = strings.Trim(path, "/")
	if fields == nil {
		delete(b.records, path)
		return
	}
	b.records[path] = fields
}

// SetStream sets the fragments served for the event stream of id.
func (b *Backend) SetStream(id string, fragments ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[id] = fragments
}

// Requests returns the dispatch requests received so far.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *Backend) handleDispatch(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		status := b.dispatchStatus
		b.nextID++
		id := fmt.Sprintf("%s-%d", prefix, b.nextID)
		b.mu.Unlock()

		if status != 0 {
			http.Error(w, "dispatch unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"request_id": id})
	}
}

func (b *Backend) handleRecord(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "collection") + "/" + chi.URLParam(r, "id")

	b.mu.Lock()
	fields, ok := b.records[path]
	var data []byte
	if ok {
		data, _ = json.Marshal(fields)
	}
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (b *Backend) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	fragments, ok := b.streams[id]
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
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
}
