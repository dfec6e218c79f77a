package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/dispatch"
	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/reconcile"
	"github.com/nhle/tasksync/internal/registry"
)

// Human-readable messages for failures that carry no text of their own.
var failureMessages = map[model.TaskKind]string{
	model.TaskKindMessage:   "The assistant couldn't answer. Please try again.",
	model.TaskKindChecklist: "The checklist couldn't be generated. Please try again.",
	model.TaskKindCheckin:   "The check-in couldn't be analyzed. Please try again.",
}

// checklistSaveFailed is shown when a completed checklist cannot be merged.
const checklistSaveFailed = "The checklist couldn't be saved."

// handleUpdate applies one task update. Runs on the worker.
func (e *Engine) handleUpdate(u registry.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if !dispatch.IsLocal(u.TaskID) {
		if err := e.store.UpdateTaskStatus(ctx, u.TaskID, u.Status); err != nil {
			e.logger.Debug("recording task status", zap.String("task_id", u.TaskID), zap.Error(err))
		}
	}

	switch u.Status {
	case model.TaskStatusCompleted:
		switch u.Kind {
		case model.TaskKindMessage:
			e.completeMessage(ctx, u)
		case model.TaskKindChecklist:
			e.completeChecklist(ctx, u)
		case model.TaskKindCheckin:
			e.completeCheckin(ctx, u)
		}
	case model.TaskStatusFailed:
		msg := strings.TrimSpace(stringField(u.Payload, "error"))
		if msg == "" {
			msg = failureMessages[u.Kind]
		}
		e.logger.Warn("task failed",
			zap.String("kind", string(u.Kind)),
			zap.String("task_id", u.TaskID),
			zap.String("error", msg))
		e.bus.Publish(events.TaskFailed{Kind: u.Kind, TaskID: u.TaskID, Message: msg})
	default:
		if chunk, ok := u.Payload["chunk"].(string); ok && u.Kind == model.TaskKindMessage {
			e.bus.Publish(events.ChatChunk{TaskID: u.TaskID, Text: chunk})
			return
		}
		if name := stringField(u.Payload, "event"); name != "" {
			e.logger.Debug("task progress",
				zap.String("task_id", u.TaskID), zap.String("event", name))
		}
	}
}

// completeMessage stores the assistant reply and follows a checklist task
// started by the reply, if any.
func (e *Engine) completeMessage(ctx context.Context, u registry.Update) {
	msg := model.ChatMessage{TaskID: u.TaskID, Role: model.RoleAssistant}
	if resp, ok := u.Payload["response"].(string); ok && !dispatch.IsLocal(u.TaskID) {
		msg.Content = resp
		msg.ServerResponse = &resp
	} else {
		msg.Content = stringField(u.Payload, "summary")
	}

	if msg.Content != "" {
		if err := e.store.AddChatMessage(ctx, msg); err != nil {
			e.logger.Error("storing assistant reply", zap.String("task_id", u.TaskID), zap.Error(err))
		}
		e.history.AddMessage(model.RoleAssistant, msg.Content)
	}
	e.bus.Publish(events.ChatReply{TaskID: u.TaskID, Text: msg.Content})

	if next := strings.TrimSpace(stringField(u.Payload, "checklist_task_id")); next != "" {
		e.followChecklist(ctx, next)
	}
}

// followChecklist registers a checklist task announced by a chat reply.
func (e *Engine) followChecklist(ctx context.Context, id string) {
	if err := e.store.SaveTask(ctx, model.TaskHandle{
		Kind:   model.TaskKindChecklist,
		ID:     id,
		Status: model.TaskStatusPending,
	}); err != nil {
		e.logger.Error("saving task", zap.String("task_id", id), zap.Error(err))
	}
	if e.registry.Register(model.TaskKindChecklist, id, e.handleUpdate) {
		e.logger.Info("following checklist task from chat reply", zap.String("task_id", id))
	}
}

func (e *Engine) completeChecklist(ctx context.Context, u registry.Update) {
	inputs, err := reconcile.DecodeChecklistData(u.Payload["checklist_data"])
	if err != nil {
		e.logger.Warn("skipping malformed checklist payload",
			zap.String("task_id", u.TaskID), zap.Error(err))
		return
	}

	out, err := e.reconciler.MergeChecklists(ctx, inputs)
	if err != nil {
		e.logger.Error("merging checklists", zap.String("task_id", u.TaskID), zap.Error(err))
		e.bus.Publish(events.TaskFailed{Kind: u.Kind, TaskID: u.TaskID, Message: checklistSaveFailed})
		return
	}
	e.logger.Info("checklists merged",
		zap.String("task_id", u.TaskID),
		zap.Int("created", out.Created),
		zap.Int("updated", out.Updated),
		zap.Int("skipped", out.Skipped),
		zap.Int("items", out.ItemsAdded))
}

func (e *Engine) completeCheckin(ctx context.Context, u registry.Update) {
	var analysis, summary *string
	text := stringField(u.Payload, "analysis")
	if text != "" && !dispatch.IsLocal(u.TaskID) {
		analysis = &text
	} else {
		text = stringField(u.Payload, "summary")
		if text != "" {
			summary = &text
		}
	}

	if analysis != nil || summary != nil {
		if err := e.store.SetCheckInResult(ctx, u.TaskID, analysis, summary); err != nil {
			e.logger.Error("storing check-in result", zap.String("task_id", u.TaskID), zap.Error(err))
		}
	}
	e.bus.Publish(events.CheckinAnalyzed{TaskID: u.TaskID, Summary: text})
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
