package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nhle/tasksync/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestSQLiteStore_Migrations(t *testing.T) {
	s := newTestStore(t)

	var version int
	if err := s.db.Get(&version, "SELECT MAX(version) FROM schema_version"); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}

	// Re-running is a no-op.
	if err := s.runMigrations(); err != nil {
		t.Fatalf("runMigrations() second run error = %v", err)
	}
}

func TestSQLiteStore_Tasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
	tasks := []model.TaskHandle{
		{Kind: model.TaskKindMessage, ID: "t1", CreatedAt: base},
		{Kind: model.TaskKindChecklist, ID: "t2", CreatedAt: base.Add(time.Minute)},
		{Kind: model.TaskKindCheckin, ID: "t3", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, task := range tasks {
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask(%s) error = %v", task.ID, err)
		}
	}

	if err := s.UpdateTaskStatus(ctx, "t2", model.TaskStatusCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	pending, err := s.GetPendingTasks(ctx)
	if err != nil {
		t.Fatalf("GetPendingTasks() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].ID != "t3" || pending[1].ID != "t1" {
		t.Errorf("pending order = [%s %s], want [t3 t1]", pending[0].ID, pending[1].ID)
	}
	if pending[0].Status != model.TaskStatusPending {
		t.Errorf("status = %q, want pending", pending[0].Status)
	}

	got, err := s.GetTaskByID(ctx, "t2")
	if err != nil {
		t.Fatalf("GetTaskByID() error = %v", err)
	}
	if got.Kind != model.TaskKindChecklist || got.Status != model.TaskStatusCompleted {
		t.Errorf("task = %+v", got)
	}

	if err := s.UpdateTaskStatus(ctx, "missing", model.TaskStatusFailed); err == nil {
		t.Error("UpdateTaskStatus(missing) expected error")
	}
	if err := s.SaveTask(ctx, model.TaskHandle{Kind: "bogus", ID: "x"}); err == nil {
		t.Error("SaveTask(bogus kind) expected error")
	}
}

func TestSQLiteStore_Groups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	red := model.RGB{R: 255}
	if err := s.UpsertGroup(ctx, model.Group{ID: "g1", Title: "Health", Color: &red}); err != nil {
		t.Fatalf("UpsertGroup() error = %v", err)
	}

	// Re-upsert renames in place and keeps the color.
	if err := s.UpsertGroup(ctx, model.Group{ID: "g1", Title: "Wellbeing"}); err != nil {
		t.Fatalf("UpsertGroup() rename error = %v", err)
	}

	groups, err := s.GetGroups(ctx)
	if err != nil {
		t.Fatalf("GetGroups() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	if groups[0].Title != "Wellbeing" {
		t.Errorf("title = %q, want %q", groups[0].Title, "Wellbeing")
	}
	if groups[0].Color == nil || *groups[0].Color != red {
		t.Errorf("color = %v, want %v", groups[0].Color, red)
	}

	found, err := s.GetGroupByTitle(ctx, "  wellbeing ")
	if err != nil {
		t.Fatalf("GetGroupByTitle() error = %v", err)
	}
	if found == nil || found.ID != "g1" {
		t.Errorf("GetGroupByTitle() = %+v, want g1", found)
	}

	none, err := s.GetGroupByTitle(ctx, "Work")
	if err != nil {
		t.Fatalf("GetGroupByTitle(missing) error = %v", err)
	}
	if none != nil {
		t.Errorf("GetGroupByTitle(missing) = %+v, want nil", none)
	}

	if err := s.UpsertGroup(ctx, model.Group{ID: "g2", Title: "  "}); err == nil {
		t.Error("UpsertGroup(blank title) expected error")
	}
}

func TestSQLiteStore_CreateAndAppendChecklist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertGroup(ctx, model.Group{ID: "g1", Title: "Health"}); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
	notify := time.Date(2025, 3, 17, 15, 0, 0, 0, time.UTC)
	rec := &model.ChecklistRecord{
		Date:  day,
		Notes: "A",
		Items: []model.Item{
			{
				Title:        "Walk",
				Notification: &notify,
				GroupID:      strPtr("g1"),
				SubItems:     []model.SubItem{{Title: "Shoes"}, {Title: "Leash", IsCompleted: true}},
			},
		},
	}
	if err := s.CreateChecklist(ctx, rec); err != nil {
		t.Fatalf("CreateChecklist() error = %v", err)
	}
	if rec.ID == "" || rec.Items[0].ID == "" {
		t.Fatal("CreateChecklist() did not assign ids")
	}

	if err := s.AppendChecklist(ctx, rec.ID, "A\n\nB", []model.Item{{Title: "Read"}}); err != nil {
		t.Fatalf("AppendChecklist() error = %v", err)
	}

	start, end := model.DayRange(day.Add(13*time.Hour), time.UTC)
	got, err := s.GetChecklistByDay(ctx, start, end)
	if err != nil {
		t.Fatalf("GetChecklistByDay() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetChecklistByDay() = nil, want record")
	}
	if got.Notes != "A\n\nB" {
		t.Errorf("notes = %q, want %q", got.Notes, "A\n\nB")
	}
	if !got.Date.Equal(day) {
		t.Errorf("date = %v, want %v", got.Date, day)
	}
	if len(got.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(got.Items))
	}
	walk := got.Items[0]
	if walk.Title != "Walk" || got.Items[1].Title != "Read" {
		t.Errorf("item order = [%s %s], want [Walk Read]", walk.Title, got.Items[1].Title)
	}
	if walk.Notification == nil || !walk.Notification.Equal(notify) {
		t.Errorf("notification = %v, want %v", walk.Notification, notify)
	}
	if walk.GroupID == nil || *walk.GroupID != "g1" {
		t.Errorf("group id = %v, want g1", walk.GroupID)
	}
	if len(walk.SubItems) != 2 || !walk.SubItems[1].IsCompleted {
		t.Errorf("subitems = %+v", walk.SubItems)
	}
	if got.Items[1].GroupID != nil {
		t.Errorf("appended item group = %v, want nil", got.Items[1].GroupID)
	}

	// The next day has no record.
	nextStart, nextEnd := model.DayRange(day.AddDate(0, 0, 1), time.UTC)
	next, err := s.GetChecklistByDay(ctx, nextStart, nextEnd)
	if err != nil {
		t.Fatalf("GetChecklistByDay(next) error = %v", err)
	}
	if next != nil {
		t.Errorf("GetChecklistByDay(next) = %+v, want nil", next)
	}

	all, err := s.GetChecklists(ctx, day.AddDate(0, 0, -7), day.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("GetChecklists() error = %v", err)
	}
	if len(all) != 1 || len(all[0].Items) != 2 {
		t.Errorf("GetChecklists() = %d records", len(all))
	}

	if err := s.AppendChecklist(ctx, "missing", "", nil); err == nil {
		t.Error("AppendChecklist(missing) expected error")
	}
}

func TestSQLiteStore_ChatAndCheckIns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		msg := model.ChatMessage{
			Role:      model.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AddChatMessage(ctx, msg); err != nil {
			t.Fatalf("AddChatMessage() error = %v", err)
		}
	}

	msgs, err := s.GetChatMessages(ctx, 2)
	if err != nil {
		t.Fatalf("GetChatMessages() error = %v", err)
	}
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	if strings.Join(contents, ",") != "two,three" {
		t.Errorf("messages = %v, want [two three]", contents)
	}

	if err := s.CreateCheckIn(ctx, model.CheckIn{TaskID: "c1", Date: base, Mood: 4, Energy: 2}); err != nil {
		t.Fatalf("CreateCheckIn() error = %v", err)
	}
	if err := s.SetCheckInResult(ctx, "c1", strPtr("steady"), nil); err != nil {
		t.Fatalf("SetCheckInResult() error = %v", err)
	}
	c, err := s.GetCheckInByTaskID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCheckInByTaskID() error = %v", err)
	}
	if c.Analysis == nil || *c.Analysis != "steady" {
		t.Errorf("analysis = %v, want steady", c.Analysis)
	}
	if c.LocalSummary != nil {
		t.Errorf("local summary = %v, want nil", c.LocalSummary)
	}
	if c.Mood != 4 || c.Energy != 2 {
		t.Errorf("mood/energy = %d/%d, want 4/2", c.Mood, c.Energy)
	}
	if err := s.SetCheckInResult(ctx, "missing", nil, nil); err == nil {
		t.Error("SetCheckInResult(missing) expected error")
	}
}
