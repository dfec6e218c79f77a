package store

import (
	"context"
	"time"

	"github.com/nhle/tasksync/internal/model"
)

// ChecklistStore is the subset of Store the reconciler depends on.
type ChecklistStore interface {
	// UpsertGroup creates the group or updates its title (and color, when
	// set) in place if the id already exists.
	UpsertGroup(ctx context.Context, group model.Group) error
	GetGroupByTitle(ctx context.Context, title string) (*model.Group, error)

	// GetChecklistByDay returns the record whose date falls in the calendar
	// day [start, end), or nil if none exists.
	GetChecklistByDay(ctx context.Context, start, end time.Time) (*model.ChecklistRecord, error)
	CreateChecklist(ctx context.Context, rec *model.ChecklistRecord) error
	AppendChecklist(ctx context.Context, recordID string, notes string, items []model.Item) error
}

// Store defines the persistence interface for task handles, checklists,
// groups, the chat feed, and check-ins.
type Store interface {
	ChecklistStore

	// === Task handles ===

	SaveTask(ctx context.Context, task model.TaskHandle) error
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	GetTaskByID(ctx context.Context, id string) (*model.TaskHandle, error)
	GetPendingTasks(ctx context.Context) ([]model.TaskHandle, error)

	// === Groups ===

	GetGroupByID(ctx context.Context, id string) (*model.Group, error)
	GetGroups(ctx context.Context) ([]model.Group, error)

	// === Checklists ===

	GetChecklists(ctx context.Context, from, to time.Time) ([]model.ChecklistRecord, error)

	// === Chat feed ===

	AddChatMessage(ctx context.Context, msg model.ChatMessage) error
	GetChatMessages(ctx context.Context, limit int) ([]model.ChatMessage, error)

	// === Check-ins ===

	CreateCheckIn(ctx context.Context, checkIn model.CheckIn) error
	SetCheckInResult(ctx context.Context, taskID string, analysis, localSummary *string) error
	GetCheckInByTaskID(ctx context.Context, taskID string) (*model.CheckIn, error)
}
