package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/tasksync/internal/model"
)

// AddChatMessage appends a message to the chat feed.
func (s *SQLiteStore) AddChatMessage(ctx context.Context, msg model.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, task_id, role, content, server_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TaskID, msg.Role, msg.Content,
		nullString(msg.ServerResponse), msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("adding chat message: %w", err)
	}
	return nil
}

// GetChatMessages returns the most recent limit messages in chronological
// order. A non-positive limit returns the whole feed.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, task_id, role, content, server_response, created_at FROM (
			SELECT id, task_id, role, content, server_response, created_at, rowid AS seq
			FROM chat_messages
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at, seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var (
			msg       model.ChatMessage
			response  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.TaskID, &msg.Role, &msg.Content, &response, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chat message row: %w", err)
		}
		msg.ServerResponse = stringPtr(response)
		msg.CreatedAt = time.Unix(createdAt, 0).UTC()
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CreateCheckIn stores a submitted check-in awaiting analysis.
func (s *SQLiteStore) CreateCheckIn(ctx context.Context, checkIn model.CheckIn) error {
	if checkIn.TaskID == "" {
		return fmt.Errorf("check-in task id must not be empty")
	}
	if checkIn.ID == "" {
		checkIn.ID = uuid.New().String()
	}
	if checkIn.CreatedAt.IsZero() {
		checkIn.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (
			id, task_id, day_start, mood, energy, note,
			analysis, local_summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		checkIn.ID, checkIn.TaskID, checkIn.Date.Unix(), checkIn.Mood, checkIn.Energy,
		checkIn.Note, nullString(checkIn.Analysis), nullString(checkIn.LocalSummary),
		checkIn.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating check-in: %w", err)
	}
	return nil
}

// SetCheckInResult records the outcome of a check-in task. Nil arguments
// leave the stored value unchanged.
func (s *SQLiteStore) SetCheckInResult(
	ctx context.Context,
	taskID string,
	analysis, localSummary *string,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkins SET
			analysis = COALESCE(?, analysis),
			local_summary = COALESCE(?, local_summary)
		WHERE task_id = ?`,
		nullString(analysis), nullString(localSummary), taskID,
	)
	if err != nil {
		return fmt.Errorf("updating check-in for task %s: %w", taskID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("check-in for task %s not found", taskID)
	}
	return nil
}

// GetCheckInByTaskID retrieves the check-in tracked by a task.
func (s *SQLiteStore) GetCheckInByTaskID(ctx context.Context, taskID string) (*model.CheckIn, error) {
	var (
		c         model.CheckIn
		dayStart  int64
		analysis  sql.NullString
		summary   sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, task_id, day_start, mood, energy, note, analysis, local_summary, created_at
		FROM checkins WHERE task_id = ?`, taskID,
	).Scan(&c.ID, &c.TaskID, &dayStart, &c.Mood, &c.Energy, &c.Note, &analysis, &summary, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting check-in for task %s: %w", taskID, err)
	}
	c.Date = time.Unix(dayStart, 0)
	c.Analysis = stringPtr(analysis)
	c.LocalSummary = stringPtr(summary)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}
