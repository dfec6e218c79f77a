// Package stream consumes the server-sent event stream of a message task
// and turns it into typed callbacks.
package stream

import (
	"encoding/json"
	"strings"
	"sync/atomic"
)

const (
	eventMarker = "event: "
	dataMarker  = "data: "
	frameEnd    = "\n\n"

	// defaultEventType applies to a data block with no preceding event line.
	defaultEventType = "message"

	outlinePrefix = "outline_"

	unknownErrorMessage = "Unknown error"
)

// Handlers receive parsed stream events. Any handler may be nil.
type Handlers struct {
	// OnEvent receives structured partial results (outline_* events).
	OnEvent func(eventType string, data map[string]any)

	// OnChunk receives incremental reply text.
	OnChunk func(text string)

	// OnComplete receives the final reply. It is called at most once.
	OnComplete func(text string)

	// OnError receives a server error event or a transport failure. It is
	// called at most once.
	OnError func(err error)

	// OnDisconnect is called when the server asks the client to hang up.
	OnDisconnect func()
}

// Parser turns text fragments delivered at arbitrary boundaries into
// events. Feed, Finish and Fail must be called from a single goroutine;
// Discard may be called from any goroutine, including from a handler.
type Parser struct {
	h Handlers

	pending   string
	eventType string

	// hungUp is set by a disconnect event; no further frames are read
	// but Finish still completes.
	hungUp bool

	ended     atomic.Bool
	discarded atomic.Bool
}

// NewParser creates a Parser dispatching to h.
func NewParser(h Handlers) *Parser {
	return &Parser{h: h, eventType: defaultEventType}
}

// Feed appends fragment to the buffer and dispatches every complete frame.
// A trailing partial frame stays buffered until more input arrives.
func (p *Parser) Feed(fragment string) {
	if p.discarded.Load() {
		p.pending = ""
		return
	}
	if p.ended.Load() || p.hungUp {
		return
	}

	// A CRLF pair may straddle two fragments.
	p.pending = strings.ReplaceAll(p.pending+fragment, "\r\n", "\n")
	p.drain()
}

// Finish reports that the connection closed cleanly. When no terminal event
// was seen the completion handler is called with an empty result.
func (p *Parser) Finish() {
	if p.discarded.Load() || p.ended.Swap(true) {
		return
	}
	p.pending = ""
	if p.h.OnComplete != nil {
		p.h.OnComplete("")
	}
}

// Fail reports a transport failure. It is a no-op after a terminal event.
func (p *Parser) Fail(err error) {
	if p.discarded.Load() || p.ended.Swap(true) {
		return
	}
	p.pending = ""
	if p.h.OnError != nil {
		p.h.OnError(err)
	}
}

// Discard suppresses all further callbacks. Any buffered partial frame is
// dropped and never dispatched. It is idempotent.
func (p *Parser) Discard() {
	p.discarded.Store(true)
}

// Ended reports whether a terminal event, Finish or Fail has been seen.
func (p *Parser) Ended() bool {
	return p.ended.Load()
}

// HungUp reports whether the server sent a disconnect event.
func (p *Parser) HungUp() bool {
	return p.hungUp
}

// drain extracts frames from the buffer until no further progress is
// possible.
func (p *Parser) drain() {
	for !p.ended.Load() && !p.hungUp && !p.discarded.Load() {
		ev := strings.Index(p.pending, eventMarker)
		data := strings.Index(p.pending, dataMarker)

		if ev >= 0 && (data < 0 || ev < data) {
			rest := p.pending[ev+len(eventMarker):]
			nl := strings.IndexByte(rest, '\n')
			if nl < 0 {
				return
			}
			p.eventType = strings.TrimSpace(rest[:nl])
			if p.eventType == "" {
				p.eventType = defaultEventType
			}
			p.pending = rest[nl+1:]
			continue
		}

		if data >= 0 {
			rest := p.pending[data+len(dataMarker):]
			end := strings.Index(rest, frameEnd)
			if end < 0 {
				return
			}
			payload := strings.ReplaceAll(rest[:end], "\n"+dataMarker, "\n")
			eventType := p.eventType
			p.pending = rest[end+len(frameEnd):]
			p.eventType = defaultEventType
			p.dispatch(eventType, payload)
			continue
		}

		// No markers: drop complete non-data blocks such as comments, but
		// keep a tail that may be the start of a marker.
		if i := strings.LastIndex(p.pending, frameEnd); i >= 0 {
			p.pending = p.pending[i+len(frameEnd):]
		}
		return
	}
}

// dispatch classifies one frame.
func (p *Parser) dispatch(eventType, payload string) {
	if p.discarded.Load() {
		return
	}
	switch {
	case eventType == "connected":
		return

	case eventType == "disconnect":
		p.hungUp = true
		p.pending = ""
		if p.h.OnDisconnect != nil {
			p.h.OnDisconnect()
		}

	case strings.HasPrefix(eventType, outlinePrefix):
		obj, ok := decodeObject(payload)
		if !ok {
			return
		}
		if p.h.OnEvent != nil {
			p.h.OnEvent(eventType, obj)
		}

	case eventType == "text":
		obj, ok := decodeObject(payload)
		if !ok {
			return
		}
		if chunk, ok := obj["chunk"].(string); ok && p.h.OnChunk != nil {
			p.h.OnChunk(chunk)
		}

	case eventType == "done":
		obj, ok := decodeObject(payload)
		if !ok {
			return
		}
		p.ended.Store(true)
		p.pending = ""
		if p.h.OnComplete != nil {
			p.h.OnComplete(fullText(obj["full_text"]))
		}

	case eventType == "error":
		obj, ok := decodeObject(payload)
		if !ok {
			return
		}
		msg, _ := obj["error"].(string)
		if msg == "" {
			msg = unknownErrorMessage
		}
		p.ended.Store(true)
		p.pending = ""
		if p.h.OnError != nil {
			p.h.OnError(&StreamError{Message: msg})
		}

	default:
		if nested := nestedType(payload); nested != "" && nested != eventType {
			p.dispatch(nested, payload)
			return
		}
		if p.h.OnChunk != nil {
			p.h.OnChunk(payload)
		}
	}
}

// nestedType returns the "type" or "event" field of a JSON object payload
// that names a known non-default event.
func nestedType(payload string) string {
	obj, ok := decodeObject(payload)
	if !ok {
		return ""
	}
	for _, key := range []string{"type", "event"} {
		if t, ok := obj[key].(string); ok {
			t = strings.TrimSpace(t)
			if t != "" && t != defaultEventType {
				return t
			}
		}
	}
	return ""
}

// fullText extracts the reply from a done event's full_text field, which
// may itself be a JSON document with a response_text field.
func fullText(v any) string {
	switch ft := v.(type) {
	case string:
		if obj, ok := decodeObject(ft); ok {
			if s, ok := obj["response_text"].(string); ok {
				return s
			}
		}
		return ft
	case map[string]any:
		if s, ok := ft["response_text"].(string); ok {
			return s
		}
	}
	return ""
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
