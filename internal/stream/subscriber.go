package stream

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/registry"
)

// Subscriber adapts event streams to registry updates so a message task can
// be followed token by token:
//
//	text chunk     -> pending   {"chunk": text}
//	outline_* data -> pending   {"event": type, "data": object}
//	done           -> completed {"response": text}
//	error          -> failed    {"error": message}
type Subscriber struct {
	client *Client
	logger *zap.Logger
}

// NewSubscriber creates a Subscriber opening streams through client.
func NewSubscriber(client *Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logging.OrNop(logger)}
}

// Subscribe implements registry.Subscriber.
func (s *Subscriber) Subscribe(
	kind model.TaskKind,
	id string,
	fn registry.UpdateFunc,
) registry.Subscription {
	update := func(status model.TaskStatus, payload map[string]any) {
		fn(registry.Update{Kind: kind, TaskID: id, Status: status, Payload: payload})
	}

	conn, err := s.client.Open(context.Background(), id, Handlers{
		OnChunk: func(text string) {
			update(model.TaskStatusPending, map[string]any{"chunk": text})
		},
		OnEvent: func(eventType string, data map[string]any) {
			update(model.TaskStatusPending, map[string]any{"event": eventType, "data": data})
		},
		OnComplete: func(text string) {
			update(model.TaskStatusCompleted, map[string]any{"response": text})
		},
		OnError: func(err error) {
			s.logger.Warn("stream failed",
				zap.String("task_id", id), zap.Error(err))
			update(model.TaskStatusFailed, map[string]any{"error": ErrorMessage(err)})
		},
	})
	if err != nil {
		update(model.TaskStatusFailed, map[string]any{"error": err.Error()})
		return noopSubscription{}
	}
	return conn
}

// ErrorMessage returns a user-facing message for a stream error.
func ErrorMessage(err error) string {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Message
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "Connection to the assistant was lost."
	}
	if err == nil {
		return unknownErrorMessage
	}
	return err.Error()
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}
