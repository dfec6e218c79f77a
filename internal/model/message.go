package model

import "time"

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry in the locally persisted chat feed.
type ChatMessage struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`

	// TaskID links an assistant reply to the task that produced it.
	TaskID string `json:"task_id"`

	// Role is RoleUser or RoleAssistant.
	Role string `json:"role"`

	// Content is the text shown in the feed.
	Content string `json:"content"`

	// ServerResponse holds the remote "response" field. It is nil for
	// replies synthesized offline.
	ServerResponse *string `json:"server_response,omitempty"`

	// CreatedAt is when this message was stored.
	CreatedAt time.Time `json:"created_at"`
}

// CheckIn is a user check-in whose analysis is produced asynchronously.
type CheckIn struct {
	ID     string    `json:"id"`
	TaskID string    `json:"task_id"`
	Date   time.Time `json:"date"`
	Mood   int       `json:"mood"`
	Energy int       `json:"energy"`
	Note   string    `json:"note"`

	// Analysis is the server-produced analysis; nil until the task
	// completes remotely.
	Analysis *string `json:"analysis,omitempty"`

	// LocalSummary is set when the analysis was computed offline.
	LocalSummary *string `json:"local_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
