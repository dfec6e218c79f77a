package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/registry"
)

// defaultTimeout bounds a dispatch request when none is configured.
const defaultTimeout = 30 * time.Second

// Error describes a failed dispatch. Status is 0 for transport failures.
type Error struct {
	Kind   model.TaskKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dispatching %s task: status %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("dispatching %s task: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registrar starts listening for a dispatched task.
type Registrar interface {
	Register(kind model.TaskKind, id string, fn registry.UpdateFunc) bool
}

// dispatchResponse is the body returned by every dispatch endpoint.
type dispatchResponse struct {
	RequestID string `json:"request_id"`
}

// Dispatcher posts task requests and registers the resulting task ids.
type Dispatcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
	registrar  Registrar
	fallback   *Fallback
	logger     *zap.Logger
}

// New creates a Dispatcher for the API described by cfg.
func New(cfg model.APIConfig, registrar Registrar, fallback *Fallback, logger *zap.Logger) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if fallback == nil {
		fallback = NewFallback(nil)
	}
	return &Dispatcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		registrar:  registrar,
		fallback:   fallback,
		logger:     logging.OrNop(logger),
	}
}

// Dispatch sends req and registers onUpdate for the returned task id. When
// the request fails for any reason other than ctx ending, a local result is
// delivered to onUpdate as a completed update before Dispatch returns, and
// the returned handle carries a "local-" id. Only ctx errors are returned.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	req Request,
	onUpdate registry.UpdateFunc,
) (model.TaskHandle, error) {
	now := time.Now().UTC()
	kind := req.Kind()

	id, err := d.Send(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.TaskHandle{}, ctxErr
		}

		d.logger.Warn("dispatch failed, using offline fallback",
			zap.String("kind", string(kind)), zap.Error(err))

		handle := model.TaskHandle{
			Kind:      kind,
			ID:        LocalIDPrefix + uuid.New().String(),
			Status:    model.TaskStatusCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if onUpdate != nil {
			onUpdate(registry.Update{
				Kind:    kind,
				TaskID:  handle.ID,
				Status:  model.TaskStatusCompleted,
				Payload: d.fallback.Synthesize(req),
			})
		}
		return handle, nil
	}

	if !d.registrar.Register(kind, id, onUpdate) {
		d.logger.Debug("task already being watched",
			zap.String("kind", string(kind)), zap.String("task_id", id))
	}
	return model.TaskHandle{
		Kind:      kind,
		ID:        id,
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Send posts req and returns the request id. Failures are *Error.
func (d *Dispatcher) Send(ctx context.Context, req Request) (string, error) {
	kind := req.Kind()

	data, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Kind: kind, Err: fmt.Errorf("marshaling request body: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+req.Path(), bytes.NewReader(data))
	if err != nil {
		return "", &Error{Kind: kind, Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: kind, Err: fmt.Errorf("executing request POST %s: %w", req.Path(), err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: kind, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", &Error{Kind: kind, Status: resp.StatusCode, Err: errors.New(msg)}
	}

	var out dispatchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if strings.TrimSpace(out.RequestID) == "" {
		return "", &Error{Kind: kind, Status: resp.StatusCode, Err: errors.New("response has no request_id")}
	}
	return out.RequestID, nil
}

// IsLocal reports whether id belongs to a result synthesized offline.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
