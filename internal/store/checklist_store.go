package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/tasksync/internal/model"
)

// GetChecklistByDay returns the checklist whose day falls within
// [start, end), including its items in order. It returns nil without error
// when no record exists for the day.
func (s *SQLiteStore) GetChecklistByDay(
	ctx context.Context,
	start, end time.Time,
) (*model.ChecklistRecord, error) {
	var (
		rec       model.ChecklistRecord
		dayStart  int64
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, day_start, notes, created_at, updated_at FROM checklists
		WHERE day_start >= ? AND day_start < ?
		ORDER BY created_at
		LIMIT 1`, start.Unix(), end.Unix(),
	).Scan(&rec.ID, &dayStart, &rec.Notes, &createdAt, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting checklist for %s: %w", start.Format(model.DateLayout), err)
	}

	rec.Date = time.Unix(dayStart, 0).In(start.Location())
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	items, err := s.loadItems(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Items = items
	return &rec, nil
}

// GetChecklists returns all checklists with a day in [from, to), oldest
// first, including items.
func (s *SQLiteStore) GetChecklists(
	ctx context.Context,
	from, to time.Time,
) ([]model.ChecklistRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, day_start, notes, created_at, updated_at FROM checklists
		WHERE day_start >= ? AND day_start < ?
		ORDER BY day_start`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying checklists: %w", err)
	}

	var records []model.ChecklistRecord
	for rows.Next() {
		var (
			rec       model.ChecklistRecord
			dayStart  int64
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&rec.ID, &dayStart, &rec.Notes, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning checklist row: %w", err)
		}
		rec.Date = time.Unix(dayStart, 0).In(from.Location())
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before loading items.
	rows.Close()

	for i := range records {
		items, err := s.loadItems(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Items = items
	}
	return records, nil
}

// CreateChecklist inserts a new record with its items. Missing ids are
// generated and written back to rec.
func (s *SQLiteStore) CreateChecklist(ctx context.Context, rec *model.ChecklistRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checklists (id, day_start, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Date.Unix(), rec.Notes, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating checklist: %w", err)
	}

	if err := insertItems(ctx, tx, rec.ID, 0, rec.Items); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendChecklist replaces the notes of an existing record and appends
// items after the current last item. Missing item ids are generated.
func (s *SQLiteStore) AppendChecklist(
	ctx context.Context,
	recordID string,
	notes string,
	items []model.Item,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE checklists SET notes = ?, updated_at = ? WHERE id = ?",
		notes, time.Now().UTC().Unix(), recordID,
	)
	if err != nil {
		return fmt.Errorf("updating checklist %s: %w", recordID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("checklist %s not found", recordID)
	}

	var maxOrder int
	err = tx.GetContext(ctx, &maxOrder,
		"SELECT COALESCE(MAX(sort_order), -1) FROM checklist_items WHERE checklist_id = ?",
		recordID)
	if err != nil {
		return fmt.Errorf("getting max sort_order: %w", err)
	}

	if err := insertItems(ctx, tx, recordID, maxOrder+1, items); err != nil {
		return err
	}

	return tx.Commit()
}

// insertItems writes items (and their sub-items) starting at sort order
// firstOrder.
func insertItems(
	ctx context.Context,
	tx *sqlx.Tx,
	checklistID string,
	firstOrder int,
	items []model.Item,
) error {
	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checklist_items (
				id, checklist_id, title, is_completed,
				notification, group_id, sort_order
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, checklistID, item.Title, boolToInt(item.IsCompleted),
			nullUnix(item.Notification), nullString(item.GroupID), firstOrder+i,
		)
		if err != nil {
			return fmt.Errorf("inserting item %q: %w", item.Title, err)
		}

		for j := range item.SubItems {
			sub := &item.SubItems[j]
			if sub.ID == "" {
				sub.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO checklist_subitems (id, item_id, title, is_completed, sort_order)
				VALUES (?, ?, ?, ?, ?)`,
				sub.ID, item.ID, sub.Title, boolToInt(sub.IsCompleted), j,
			)
			if err != nil {
				return fmt.Errorf("inserting sub-item %q: %w", sub.Title, err)
			}
		}
	}
	return nil
}

// loadItems retrieves the ordered items of a checklist with sub-items.
func (s *SQLiteStore) loadItems(ctx context.Context, checklistID string) ([]model.Item, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, title, is_completed, notification, group_id
		FROM checklist_items
		WHERE checklist_id = ?
		ORDER BY sort_order`, checklistID)
	if err != nil {
		return nil, fmt.Errorf("querying items for checklist %s: %w", checklistID, err)
	}

	var items []model.Item
	for rows.Next() {
		var (
			item         model.Item
			completed    int
			notification sql.NullInt64
			groupID      sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Title, &completed, &notification, &groupID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		item.IsCompleted = completed != 0
		if notification.Valid {
			t := time.Unix(notification.Int64, 0)
			item.Notification = &t
		}
		item.GroupID = stringPtr(groupID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range items {
		subs, err := s.loadSubItems(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].SubItems = subs
	}
	return items, nil
}

func (s *SQLiteStore) loadSubItems(ctx context.Context, itemID string) ([]model.SubItem, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, title, is_completed FROM checklist_subitems
		WHERE item_id = ?
		ORDER BY sort_order`, itemID)
	if err != nil {
		return nil, fmt.Errorf("querying sub-items for item %s: %w", itemID, err)
	}
	defer rows.Close()

	var subs []model.SubItem
	for rows.Next() {
		var (
			sub       model.SubItem
			completed int
		)
		if err := rows.Scan(&sub.ID, &sub.Title, &completed); err != nil {
			return nil, fmt.Errorf("scanning sub-item row: %w", err)
		}
		sub.IsCompleted = completed != 0
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
