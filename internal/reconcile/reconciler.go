package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/store"
)

// notesSeparator joins existing and incoming notes for the same day.
const notesSeparator = "\n\n"

// groupNamespace seeds name-derived group ids.
var groupNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tasksync/item-groups"))

// Outcome summarizes one merge batch.
type Outcome struct {
	Created        int
	Updated        int
	Skipped        int
	GroupsUpserted int
	ItemsAdded     int

	// Dates lists each affected day once, in merge order.
	Dates []time.Time
}

// Reconciler merges checklist inputs into the store. Calls must be
// serialized by the caller; concurrent merges for the same day could both
// observe a missing record and both insert.
type Reconciler struct {
	store  store.ChecklistStore
	bus    *events.Bus
	loc    *time.Location
	logger *zap.Logger
}

// New creates a Reconciler. Days are interpreted in loc (nil selects
// time.Local). bus and logger may be nil.
func New(s store.ChecklistStore, bus *events.Bus, loc *time.Location, logger *zap.Logger) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	return &Reconciler{store: s, bus: bus, loc: loc, logger: logging.OrNop(logger)}
}

type pendingGroup struct {
	id    string
	title string
}

type validInput struct {
	in  ChecklistInput
	day time.Time
}

// MergeChecklists merges inputs in two passes. Pass one resolves every
// referenced group name to an id; pass two upserts all groups and then
// creates or appends one record per day. Malformed inputs are skipped.
// Only store errors are returned, and they abort the rest of the batch.
func (r *Reconciler) MergeChecklists(ctx context.Context, inputs []ChecklistInput) (Outcome, error) {
	var out Outcome

	valid := make([]validInput, 0, len(inputs))
	for _, in := range inputs {
		day, err := model.ParseDay(strings.TrimSpace(in.Date), r.loc)
		if err != nil {
			r.logger.Warn("skipping checklist with invalid date",
				zap.String("date", in.Date), zap.Error(err))
			out.Skipped++
			continue
		}
		if in.Items == nil {
			r.logger.Warn("skipping checklist without items",
				zap.String("date", in.Date))
			out.Skipped++
			continue
		}
		valid = append(valid, validInput{in: in, day: day})
	}

	// Pass 1: group resolution.
	ids := make(map[string]string)
	var groups []*pendingGroup
	byID := make(map[string]*pendingGroup)
	for _, v := range valid {
		for _, item := range v.in.Items {
			name := strings.TrimSpace(item.GroupName)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if id, ok := ids[key]; ok {
				byID[id].title = name
				continue
			}
			id, err := r.resolveGroupID(ctx, name)
			if err != nil {
				return out, err
			}
			ids[key] = id
			g := &pendingGroup{id: id, title: name}
			byID[id] = g
			groups = append(groups, g)
		}
	}

	// Pass 2: groups first, then records.
	for _, g := range groups {
		if err := r.store.UpsertGroup(ctx, model.Group{ID: g.id, Title: g.title}); err != nil {
			return out, fmt.Errorf("upserting group %q: %w", g.title, err)
		}
		out.GroupsUpserted++
	}

	// Days saved before a store error are still announced.
	defer func() { r.publish(out.Dates) }()

	for _, v := range valid {
		items := r.buildItems(v.in.Items, v.day, ids)
		start, end := model.DayRange(v.day, r.loc)

		existing, err := r.store.GetChecklistByDay(ctx, start, end)
		if err != nil {
			return out, fmt.Errorf("loading checklist for %s: %w", v.in.Date, err)
		}

		if existing == nil {
			rec := &model.ChecklistRecord{Date: start, Notes: v.in.Notes, Items: items}
			if err := r.store.CreateChecklist(ctx, rec); err != nil {
				return out, fmt.Errorf("creating checklist for %s: %w", v.in.Date, err)
			}
			out.Created++
		} else {
			notes := MergeNotes(existing.Notes, v.in.Notes)
			if err := r.store.AppendChecklist(ctx, existing.ID, notes, items); err != nil {
				return out, fmt.Errorf("appending to checklist for %s: %w", v.in.Date, err)
			}
			out.Updated++
		}
		out.ItemsAdded += len(items)
		out.Dates = appendDate(out.Dates, start)

		r.logger.Debug("checklist merged",
			zap.String("date", v.in.Date),
			zap.Int("items", len(items)),
			zap.Bool("created", existing == nil))
	}

	return out, nil
}

// resolveGroupID returns the id of an existing group with the same title,
// or an id derived from the lowercased name.
func (r *Reconciler) resolveGroupID(ctx context.Context, name string) (string, error) {
	existing, err := r.store.GetGroupByTitle(ctx, name)
	if err != nil {
		return "", fmt.Errorf("looking up group %q: %w", name, err)
	}
	if existing != nil {
		return existing.ID, nil
	}
	return GroupID(name), nil
}

// GroupID derives the stable id used for a group first seen by name.
func GroupID(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(groupNamespace, []byte(key)).String()
}

func (r *Reconciler) buildItems(inputs []ItemInput, day time.Time, ids map[string]string) []model.Item {
	items := make([]model.Item, 0, len(inputs))
	for _, in := range inputs {
		item := model.Item{
			ID:          uuid.New().String(),
			Title:       in.Title,
			IsCompleted: in.IsCompleted,
		}
		if name := strings.TrimSpace(in.GroupName); name != "" {
			id := ids[strings.ToLower(name)]
			item.GroupID = &id
		}
		if in.Notification != nil {
			t, ok, err := ParseNotification(*in.Notification, day, r.loc)
			if err != nil {
				r.logger.Warn("ignoring invalid notification time",
					zap.String("title", in.Title),
					zap.String("notification", *in.Notification),
					zap.Error(err))
			} else if ok {
				item.Notification = &t
			}
		}
		for _, sub := range in.SubItems {
			item.SubItems = append(item.SubItems, model.SubItem{
				ID:          uuid.New().String(),
				Title:       sub.Title,
				IsCompleted: sub.IsCompleted,
			})
		}
		items = append(items, item)
	}
	return items
}

// ParseNotification resolves "HH:MM" to that time on day in loc. "" and
// "null" mean no notification (ok is false). Full RFC 3339 timestamps are
// accepted as is.
func ParseNotification(s string, day time.Time, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true, nil
	}
	clock, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing notification %q: %w", s, err)
	}
	day = day.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), true, nil
}

// MergeNotes joins existing and incoming notes with a blank line when both
// are non-empty, otherwise it returns whichever is non-empty.
func MergeNotes(existing, incoming string) string {
	switch {
	case strings.TrimSpace(incoming) == "":
		return existing
	case strings.TrimSpace(existing) == "":
		return incoming
	default:
		return existing + notesSeparator + incoming
	}
}

func (r *Reconciler) publish(dates []time.Time) {
	for _, d := range dates {
		r.bus.Publish(events.ChecklistUpdated{Date: d})
	}
}

func appendDate(dates []time.Time, d time.Time) []time.Time {
	for _, existing := range dates {
		if existing.Equal(d) {
			return dates
		}
	}
	return append(dates, d)
}
