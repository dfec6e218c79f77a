package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/tasksync/internal/model"
)

// UpsertGroup creates a group, or updates title and color in place when a
// group with the same id exists. A nil color keeps the stored color.
func (s *SQLiteStore) UpsertGroup(ctx context.Context, group model.Group) error {
	if strings.TrimSpace(group.Title) == "" {
		return fmt.Errorf("group title must not be empty")
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	now := time.Now().UTC().Unix()

	var color sql.NullString
	if group.Color != nil {
		color = sql.NullString{String: group.Color.Hex(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_groups (id, title, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			color = COALESCE(excluded.color, item_groups.color),
			updated_at = excluded.updated_at`,
		group.ID, group.Title, color, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting group %s: %w", group.ID, err)
	}
	return nil
}

// GetGroupByID retrieves a single group by ID.
func (s *SQLiteStore) GetGroupByID(
	ctx context.Context,
	id string,
) (*model.Group, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT id, title, color, created_at, updated_at FROM item_groups WHERE id = ?", id)

	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("getting group %s: %w", id, err)
	}
	return &g, nil
}

// GetGroupByTitle finds a group by case-insensitive title. It returns nil
// without error when no group matches.
func (s *SQLiteStore) GetGroupByTitle(
	ctx context.Context,
	title string,
) (*model.Group, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, title, color, created_at, updated_at FROM item_groups
		WHERE title = ? COLLATE NOCASE
		ORDER BY created_at
		LIMIT 1`, strings.TrimSpace(title))

	g, err := scanGroup(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting group %q: %w", title, err)
	}
	return &g, nil
}

// GetGroups retrieves all groups ordered by title.
func (s *SQLiteStore) GetGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, title, color, created_at, updated_at FROM item_groups ORDER BY title")
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanGroup(row rowScanner) (model.Group, error) {
	var (
		g         model.Group
		color     sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&g.ID, &g.Title, &color, &createdAt, &updatedAt); err != nil {
		return model.Group{}, fmt.Errorf("scanning group row: %w", err)
	}
	if color.Valid {
		if c, err := model.ParseRGB(color.String); err == nil {
			g.Color = &c
		}
	}
	g.CreatedAt = time.Unix(createdAt, 0).UTC()
	g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return g, nil
}
