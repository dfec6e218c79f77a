package model

import "time"

// TaskKind identifies the kind of asynchronous AI work a task represents.
type TaskKind string

const (
	TaskKindMessage   TaskKind = "message"
	TaskKindChecklist TaskKind = "checklist"
	TaskKindCheckin   TaskKind = "checkin"
)

// TaskKinds lists every known kind in a stable order.
var TaskKinds = []TaskKind{TaskKindMessage, TaskKindChecklist, TaskKindCheckin}

// Valid reports whether k is one of the known task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindMessage, TaskKindChecklist, TaskKindCheckin:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status reported for a task. Values other than
// the constants below are forwarded verbatim and treated as non-terminal.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusUnknown   TaskStatus = "unknown"
)

// IsTerminal reports whether no further updates are expected after s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskHandle is the in-memory record of one outstanding unit of work.
type TaskHandle struct {
	// Kind is the task kind; at most one non-terminal handle exists per kind.
	Kind TaskKind `json:"kind" db:"kind"`

	// ID is the remote request identifier, or a "local-" id for results
	// synthesized offline.
	ID string `json:"id" db:"id"`

	// Status is the last observed status.
	Status TaskStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
