// Package dispatch sends task requests to the backend and hands the
// returned task ids to the listener registry. When the backend cannot be
// reached it synthesizes a local result instead.
package dispatch

import (
	"github.com/nhle/tasksync/internal/chat"
	"github.com/nhle/tasksync/internal/model"
)

// Request is a typed task request body.
type Request interface {
	Kind() model.TaskKind
	// Path is the dispatch endpoint relative to the API base URL.
	Path() string
}

// MessageRequest asks the assistant for a chat reply.
type MessageRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history,omitempty"`
}

// ChecklistRequest asks for a checklist synthesized from goals.
type ChecklistRequest struct {
	// Date is "YYYY-MM-DD"; empty means today.
	Date  string   `json:"date,omitempty"`
	Goals []string `json:"goals"`
	Notes string   `json:"notes,omitempty"`
}

// CheckinRequest asks for an analysis of a mood/energy check-in. Mood and
// Energy are on a 1-5 scale.
type CheckinRequest struct {
	Date   string `json:"date,omitempty"`
	Mood   int    `json:"mood"`
	Energy int    `json:"energy"`
	Note   string `json:"note,omitempty"`
}

func (MessageRequest) Kind() model.TaskKind   { return model.TaskKindMessage }
func (ChecklistRequest) Kind() model.TaskKind { return model.TaskKindChecklist }
func (CheckinRequest) Kind() model.TaskKind   { return model.TaskKindCheckin }

func (MessageRequest) Path() string   { return "/chat" }
func (ChecklistRequest) Path() string { return "/checklist" }
func (CheckinRequest) Path() string   { return "/checkin" }
