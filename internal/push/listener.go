// Package push observes keyed task records on the push channel and feeds
// their status changes into the listener registry.
package push

import (
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/registry"
)

// Source watches a single record. fn receives the record's fields each time
// it is observed and is never called while the record does not exist. The
// returned stop func ends the watch and must be idempotent.
type Source interface {
	Watch(path string, fn func(fields map[string]any)) (stop func())
}

// Listener subscribes to task records at {collection}/{task id}. It
// classifies only the status field and forwards the payload unchanged.
type Listener struct {
	src    Source
	cfg    model.PushConfig
	logger *zap.Logger
}

// NewListener creates a Listener reading records from src.
func NewListener(src Source, cfg model.PushConfig, logger *zap.Logger) *Listener {
	return &Listener{src: src, cfg: cfg, logger: logging.OrNop(logger)}
}

// Path returns the record path watched for a task.
func (l *Listener) Path(kind model.TaskKind, id string) string {
	return l.cfg.Collection(kind) + "/" + id
}

// Subscribe implements registry.Subscriber.
func (l *Listener) Subscribe(
	kind model.TaskKind,
	id string,
	fn registry.UpdateFunc,
) registry.Subscription {
	sub := &subscription{}
	path := l.Path(kind, id)

	l.logger.Debug("watching push record", zap.String("path", path))

	stop := l.src.Watch(path, func(fields map[string]any) {
		if sub.cancelled.Load() {
			return
		}
		status := StatusOf(fields)
		l.logger.Debug("push record update",
			zap.String("path", path),
			zap.String("status", string(status)))
		fn(registry.Update{
			Kind:    kind,
			TaskID:  id,
			Status:  status,
			Payload: fields,
		})
	})
	sub.setStop(stop)
	return sub
}

// StatusOf reads the status field of a record, defaulting to "unknown".
func StatusOf(fields map[string]any) model.TaskStatus {
	if s, ok := fields["status"].(string); ok && s != "" {
		return model.TaskStatus(s)
	}
	return model.TaskStatusUnknown
}

type subscription struct {
	cancelled atomic.Bool
	once      gosync.Once
	mu        gosync.Mutex
	stop      func()
}

func (s *subscription) setStop(stop func()) {
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	// Cancel may have run while Watch was still setting up.
	if s.cancelled.Load() {
		s.runStop()
	}
}

func (s *subscription) Cancel() {
	s.cancelled.Store(true)
	s.runStop()
}

func (s *subscription) runStop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop == nil {
		return
	}
	s.once.Do(stop)
}
