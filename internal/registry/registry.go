// Package registry tracks at most one active task listener per task kind.
//
// Each registration wraps the caller's callback so that the first terminal
// update (completed or failed) is delivered exactly once, after which the
// listener removes itself.
package registry

import (
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
)

// Update is one status observation for a task. Kind and TaskID identify the
// task so callbacks need no other context.
type Update struct {
	Kind    model.TaskKind
	TaskID  string
	Status  model.TaskStatus
	Payload map[string]any
}

// UpdateFunc receives task updates.
type UpdateFunc func(Update)

// Subscription is an open listener on a remote task. Cancel must be
// idempotent.
type Subscription interface {
	Cancel()
}

// Subscriber opens a listener for a task and forwards every observed
// update to fn until the subscription is cancelled.
type Subscriber interface {
	Subscribe(kind model.TaskKind, id string, fn UpdateFunc) Subscription
}

// Router selects a Subscriber per task kind.
type Router map[model.TaskKind]Subscriber

// Subscribe delegates to the subscriber configured for kind.
func (r Router) Subscribe(kind model.TaskKind, id string, fn UpdateFunc) Subscription {
	sub, ok := r[kind]
	if !ok {
		panic(fmt.Sprintf("registry: no subscriber for kind %q", kind))
	}
	return sub.Subscribe(kind, id, fn)
}

type entry struct {
	handle   model.TaskHandle
	sub      Subscription
	finished bool
	removed  bool
}

// Registry holds the active listener for each task kind.
type Registry struct {
	mu         gosync.Mutex
	subscriber Subscriber
	entries    map[model.TaskKind]*entry
	bus        *events.Bus
	logger     *zap.Logger
}

// New creates a Registry that opens listeners through subscriber and
// publishes ListenersChanged on bus. bus and logger may be nil.
func New(subscriber Subscriber, bus *events.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		subscriber: subscriber,
		entries:    make(map[model.TaskKind]*entry),
		bus:        bus,
		logger:     logging.OrNop(logger),
	}
}

// IsActive reports whether a listener for exactly (kind, id) is active.
func (r *Registry) IsActive(kind model.TaskKind, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[kind]
	return ok && e.handle.ID == id
}

// Register starts listening for task id of the given kind. It returns false
// without side effects when the same task is already active. An active
// listener for a different id of the same kind is torn down first.
func (r *Registry) Register(kind model.TaskKind, id string, fn UpdateFunc) bool {
	r.mu.Lock()
	old, ok := r.entries[kind]
	if ok && old.handle.ID == id {
		r.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	e := &entry{handle: model.TaskHandle{
		Kind:      kind,
		ID:        id,
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	var stale Subscription
	if ok {
		old.removed = true
		stale = old.sub
	}
	r.entries[kind] = e
	r.mu.Unlock()

	if ok {
		r.logger.Info("replacing stale listener",
			zap.String("kind", string(kind)),
			zap.String("old_task_id", old.handle.ID),
			zap.String("task_id", id))
		if stale != nil {
			stale.Cancel()
		}
	}

	// The subscriber may deliver synchronously, so no lock is held here.
	sub := r.subscriber.Subscribe(kind, id, func(u Update) {
		r.deliver(e, fn, u)
	})

	r.mu.Lock()
	e.sub = sub
	removedEarly := e.removed
	r.mu.Unlock()
	if removedEarly && sub != nil {
		sub.Cancel()
	}

	r.logger.Debug("listener registered",
		zap.String("kind", string(kind)),
		zap.String("task_id", id))
	r.notify()
	return true
}

// deliver forwards u to fn unless the entry is no longer current. The first
// terminal update is forwarded once and then the entry is removed.
func (r *Registry) deliver(e *entry, fn UpdateFunc, u Update) {
	r.mu.Lock()
	if e.finished || e.removed || r.entries[e.handle.Kind] != e {
		r.mu.Unlock()
		r.logger.Debug("dropping update for inactive listener",
			zap.String("kind", string(e.handle.Kind)),
			zap.String("task_id", e.handle.ID),
			zap.String("status", string(u.Status)))
		return
	}
	if u.Status == "" {
		u.Status = model.TaskStatusUnknown
	}
	terminal := u.Status.IsTerminal()
	if terminal {
		e.finished = true
	}
	e.handle.Status = u.Status
	e.handle.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	u.Kind = e.handle.Kind
	u.TaskID = e.handle.ID
	if fn != nil {
		fn(u)
	}

	if terminal {
		r.remove(e)
	}
}

// remove tears down e if it is still the current entry for its kind.
func (r *Registry) remove(e *entry) {
	r.mu.Lock()
	if r.entries[e.handle.Kind] != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, e.handle.Kind)
	e.removed = true
	sub := e.sub
	r.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	r.logger.Debug("listener removed",
		zap.String("kind", string(e.handle.Kind)),
		zap.String("task_id", e.handle.ID))
	r.notify()
}

// Unregister tears down the active listener for kind, if any.
func (r *Registry) Unregister(kind model.TaskKind) {
	r.mu.Lock()
	e, ok := r.entries[kind]
	r.mu.Unlock()
	if ok {
		r.remove(e)
	}
}

// RemoveAll tears down every active listener.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return
	}
	var subs []Subscription
	for kind, e := range r.entries {
		e.removed = true
		if e.sub != nil {
			subs = append(subs, e.sub)
		}
		delete(r.entries, kind)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	r.logger.Debug("all listeners removed", zap.Int("count", len(subs)))
	r.notify()
}

// HasActiveListeners reports whether any work is outstanding.
func (r *Registry) HasActiveListeners() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) > 0
}

// Active returns the active task handles in kind order.
func (r *Registry) Active() []model.TaskHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() []model.TaskHandle {
	var handles []model.TaskHandle
	for _, kind := range model.TaskKinds {
		if e, ok := r.entries[kind]; ok {
			handles = append(handles, e.handle)
		}
	}
	return handles
}

func (r *Registry) notify() {
	r.mu.Lock()
	handles := r.activeLocked()
	r.mu.Unlock()

	kinds := make([]model.TaskKind, 0, len(handles))
	for _, h := range handles {
		kinds = append(kinds, h.Kind)
	}
	r.bus.Publish(events.ListenersChanged{Active: len(handles), Kinds: kinds})
}
