// Package events carries typed change notifications from the sync engine to
// observers such as the status view.
package events

import (
	gosync "sync"
	"time"

	"github.com/nhle/tasksync/internal/model"
)

// Event is implemented by every notification published on a Bus.
type Event interface {
	eventName() string
}

// ListenersChanged is published whenever the set of active task listeners
// changes. Active == 0 means no work is outstanding.
type ListenersChanged struct {
	Active int
	Kinds  []model.TaskKind
}

// ChecklistUpdated is published once per calendar day touched by a merge.
type ChecklistUpdated struct {
	Date time.Time
}

// ChatChunk carries a partial reply for a streamed message task.
type ChatChunk struct {
	TaskID string
	Text   string
}

// ChatReply carries the final reply for a message task.
type ChatReply struct {
	TaskID string
	Text   string
}

// CheckinAnalyzed carries the analysis text for a check-in task.
type CheckinAnalyzed struct {
	TaskID  string
	Summary string
}

// TaskFailed is published for a terminal failure. Message is always
// human-readable.
type TaskFailed struct {
	Kind    model.TaskKind
	TaskID  string
	Message string
}

func (ListenersChanged) eventName() string { return "listeners_changed" }
func (ChecklistUpdated) eventName() string { return "checklist_updated" }
func (ChatChunk) eventName() string        { return "chat_chunk" }
func (ChatReply) eventName() string        { return "chat_reply" }
func (CheckinAnalyzed) eventName() string  { return "checkin_analyzed" }
func (TaskFailed) eventName() string       { return "task_failed" }

// Name returns a stable identifier for e, used in logs.
func Name(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventName()
}

// Bus fans out events to subscribers. Publish never blocks: an event is
// dropped for a subscriber whose buffer is full.
type Bus struct {
	mu     gosync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size. The
// returned cancel func closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once gosync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking. A nil Bus
// discards events.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than block the engine.
		}
	}
}
