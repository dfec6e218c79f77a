// Package sync wires dispatch, listeners and reconciliation into one
// engine. Every registry mutation, store write and merge runs on a single
// worker goroutine; delivery goroutines only enqueue work.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/chat"
	"github.com/nhle/tasksync/internal/dispatch"
	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/push"
	"github.com/nhle/tasksync/internal/reconcile"
	"github.com/nhle/tasksync/internal/registry"
	"github.com/nhle/tasksync/internal/store"
	"github.com/nhle/tasksync/internal/stream"
)

// ErrStopped is returned by operations on a stopped Engine.
var ErrStopped = errors.New("sync engine stopped")

// jobQueueSize is the capacity of the worker queue.
const jobQueueSize = 256

// storeTimeout bounds a single store operation on the worker.
const storeTimeout = 10 * time.Second

// Options configures an Engine. Store and Config are required.
type Options struct {
	Config *model.AppConfig
	Store  store.Store

	// Bus receives engine events; a new Bus is created when nil.
	Bus    *events.Bus
	Logger *zap.Logger

	// Location is the calendar day zone; defaults to Config.Store.Location().
	Location *time.Location

	// Source overrides the push channel transport.
	Source push.Source

	// StreamClient overrides the event stream client.
	StreamClient *stream.Client
}

// Engine tracks outstanding tasks and merges their results.
type Engine struct {
	cfg        *model.AppConfig
	store      store.Store
	bus        *events.Bus
	logger     *zap.Logger
	loc        *time.Location
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	history    *chat.ConversationContext

	jobs     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce gosync.Once
}

// New builds an Engine and starts its worker.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	cfg := opts.Config
	logger := logging.OrNop(opts.Logger)

	loc := opts.Location
	if loc == nil {
		var err error
		loc, err = cfg.Store.Location()
		if err != nil {
			return nil, err
		}
	}

	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	e := &Engine{
		cfg:     cfg,
		store:   opts.Store,
		bus:     bus,
		logger:  logger,
		loc:     loc,
		history: chat.NewConversationContext(chat.DefaultMaxMessages),
		jobs:    make(chan func(), jobQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	src := opts.Source
	if src == nil {
		src = push.NewPollingSource(cfg.Push.BaseURL, cfg.API.Token, cfg.Push.PollInterval(), logger.Named("push"))
	}
	pushListener := push.NewListener(src, cfg.Push, logger.Named("push"))

	var messageSub registry.Subscriber = pushListener
	if cfg.API.StreamMessages {
		client := opts.StreamClient
		if client == nil {
			client = stream.NewClient(cfg.API.BaseURL, cfg.API.Token, logger.Named("stream"))
		}
		messageSub = stream.NewSubscriber(client, logger.Named("stream"))
	}

	router := registry.Router{
		model.TaskKindMessage:   &queuedSubscriber{inner: messageSub, engine: e},
		model.TaskKindChecklist: &queuedSubscriber{inner: pushListener, engine: e},
		model.TaskKindCheckin:   &queuedSubscriber{inner: pushListener, engine: e},
	}
	e.registry = registry.New(router, bus, logger.Named("registry"))
	e.dispatcher = dispatch.New(cfg.API, e, dispatch.NewFallback(loc), logger.Named("dispatch"))
	e.reconciler = reconcile.New(opts.Store, bus, loc, logger.Named("reconcile"))

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	feed, err := opts.Store.GetChatMessages(ctx, chat.DefaultMaxMessages)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	e.history.Load(feed)

	go e.run()
	return e, nil
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Location returns the zone used for calendar days.
func (e *Engine) Location() *time.Location { return e.loc }

// HasActiveListeners reports whether any task is outstanding.
func (e *Engine) HasActiveListeners() bool { return e.registry.HasActiveListeners() }

// Active returns the outstanding task handles.
func (e *Engine) Active() []model.TaskHandle { return e.registry.Active() }

// run is the worker loop.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.quit:
			for {
				select {
				case job := <-e.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// post enqueues job for the worker. It reports false after Stop.
func (e *Engine) post(job func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.jobs <- job:
		return true
	case <-e.quit:
		return false
	}
}

// call runs job on the worker and waits for it. It must not be called
// from the worker itself.
func (e *Engine) call(job func()) bool {
	finished := make(chan struct{})
	if !e.post(func() {
		defer close(finished)
		job()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-e.done:
		// The worker drained the queue on stop; the job either ran or
		// was dropped.
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Stop removes every listener, processes queued work and stops the
// worker. It is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.call(e.registry.RemoveAll)
		close(e.quit)
		<-e.done
		e.logger.Debug("sync engine stopped")
	})
}

// Register implements dispatch.Registrar. The task handle is persisted and
// the listener registered in one worker job.
func (e *Engine) Register(kind model.TaskKind, id string, fn registry.UpdateFunc) bool {
	var ok bool
	e.call(func() {
		e.saveTask(kind, id, model.TaskStatusPending)
		ok = e.registry.Register(kind, id, fn)
	})
	return ok
}

// Submit dispatches req and follows the task until it completes. The
// returned handle has a "local-" id when the result was synthesized
// offline.
func (e *Engine) Submit(ctx context.Context, req dispatch.Request) (model.TaskHandle, error) {
	select {
	case <-e.quit:
		return model.TaskHandle{}, ErrStopped
	default:
	}

	prepare := e.prepareFor(req)
	var once gosync.Once
	prepareOnce := func(taskID string) {
		once.Do(func() {
			if prepare != nil {
				prepare(taskID)
			}
		})
	}

	onUpdate := func(u registry.Update) {
		if !dispatch.IsLocal(u.TaskID) {
			// Registry deliveries already run on the worker.
			prepareOnce(u.TaskID)
			e.handleUpdate(u)
			return
		}
		e.post(func() {
			e.saveTask(u.Kind, u.TaskID, u.Status)
			prepareOnce(u.TaskID)
			e.handleUpdate(u)
		})
	}

	handle, err := e.dispatcher.Dispatch(ctx, req, onUpdate)
	if err != nil {
		return model.TaskHandle{}, err
	}
	if !dispatch.IsLocal(handle.ID) {
		e.call(func() { prepareOnce(handle.ID) })
	}

	e.logger.Info("task submitted",
		zap.String("kind", string(handle.Kind)),
		zap.String("task_id", handle.ID),
		zap.Bool("local", dispatch.IsLocal(handle.ID)))
	return handle, nil
}

// SendMessage records the user's message and asks the assistant for a
// reply, attaching the recent conversation.
func (e *Engine) SendMessage(ctx context.Context, text string) (model.TaskHandle, error) {
	var history []chat.Message
	ok := e.call(func() {
		history = e.history.GetMessages()
		e.history.AddMessage(model.RoleUser, text)
		sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := e.store.AddChatMessage(sctx, model.ChatMessage{
			Role:    model.RoleUser,
			Content: text,
		}); err != nil {
			e.logger.Error("storing chat message", zap.Error(err))
		}
	})
	if !ok {
		return model.TaskHandle{}, ErrStopped
	}
	return e.Submit(ctx, dispatch.MessageRequest{Message: text, History: history})
}

// RequestChecklist asks for a checklist built from goals.
func (e *Engine) RequestChecklist(ctx context.Context, req dispatch.ChecklistRequest) (model.TaskHandle, error) {
	return e.Submit(ctx, req)
}

// CheckIn submits a mood/energy check-in for analysis.
func (e *Engine) CheckIn(ctx context.Context, req dispatch.CheckinRequest) (model.TaskHandle, error) {
	return e.Submit(ctx, req)
}

// Resume re-registers the newest pending task of each kind, as left by a
// previous run. Older pending tasks of the same kind are marked failed.
// It returns the number of listeners started.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	tasks, err := e.store.GetPendingTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading pending tasks: %w", err)
	}

	resumed := 0
	seen := make(map[model.TaskKind]bool)
	for _, task := range tasks {
		if dispatch.IsLocal(task.ID) || !task.Kind.Valid() {
			continue
		}
		if seen[task.Kind] {
			if err := e.store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusFailed); err != nil {
				e.logger.Warn("marking superseded task", zap.String("task_id", task.ID), zap.Error(err))
			}
			continue
		}
		seen[task.Kind] = true

		var registered bool
		if !e.call(func() { registered = e.registry.Register(task.Kind, task.ID, e.handleUpdate) }) {
			return resumed, ErrStopped
		}
		if registered {
			resumed++
			e.logger.Info("resumed task",
				zap.String("kind", string(task.Kind)),
				zap.String("task_id", task.ID))
		}
	}
	return resumed, nil
}

// prepareFor returns the local bookkeeping to run before the first update
// of the task created by req is handled.
func (e *Engine) prepareFor(req dispatch.Request) func(taskID string) {
	var r dispatch.CheckinRequest
	switch v := req.(type) {
	case dispatch.CheckinRequest:
		r = v
	case *dispatch.CheckinRequest:
		r = *v
	default:
		return nil
	}

	return func(taskID string) {
		date := time.Now().In(e.loc)
		if r.Date != "" {
			if d, err := model.ParseDay(r.Date, e.loc); err == nil {
				date = d
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := e.store.CreateCheckIn(ctx, model.CheckIn{
			TaskID: taskID,
			Date:   model.DayStart(date, e.loc),
			Mood:   r.Mood,
			Energy: r.Energy,
			Note:   r.Note,
		}); err != nil {
			e.logger.Error("storing check-in", zap.String("task_id", taskID), zap.Error(err))
		}
	}
}

// saveTask persists a task handle. Runs on the worker.
func (e *Engine) saveTask(kind model.TaskKind, id string, status model.TaskStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.store.SaveTask(ctx, model.TaskHandle{Kind: kind, ID: id, Status: status}); err != nil {
		e.logger.Error("saving task", zap.String("task_id", id), zap.Error(err))
	}
}

// queuedSubscriber moves delivery of every update onto the worker, so the
// registry's terminal bookkeeping is serialized with everything else.
type queuedSubscriber struct {
	inner  registry.Subscriber
	engine *Engine
}

func (q *queuedSubscriber) Subscribe(kind model.TaskKind, id string, fn registry.UpdateFunc) registry.Subscription {
	return q.inner.Subscribe(kind, id, func(u registry.Update) {
		q.engine.post(func() { fn(u) })
	})
}
