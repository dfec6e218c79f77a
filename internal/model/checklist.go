package model

import "time"

// DateLayout is the wire format of checklist dates ("YYYY-MM-DD").
const DateLayout = "2006-01-02"

// ChecklistRecord holds the checklist for one calendar day. Exactly one
// record exists per day.
type ChecklistRecord struct {
	ID    string    `json:"id" db:"id"`
	Date  time.Time `json:"date" db:"-"`
	Notes string    `json:"notes" db:"notes"`
	Items []Item    `json:"items" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"-"`
}

// Item is a single checklist entry. Its lifecycle is bound to the parent
// record (CASCADE delete).
type Item struct {
	ID           string     `json:"id" db:"id"`
	Title        string     `json:"title" db:"title"`
	IsCompleted  bool       `json:"is_completed" db:"is_completed"`
	Notification *time.Time `json:"notification,omitempty" db:"-"`
	GroupID      *string    `json:"group_id,omitempty" db:"group_id"`
	SubItems     []SubItem  `json:"subitems,omitempty" db:"-"`
}

// SubItem is a nested step within an item.
type SubItem struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	IsCompleted bool   `json:"is_completed" db:"is_completed"`
}

// DayStart truncates t to midnight of its calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayRange returns the half-open interval [start, end) covering the
// calendar day of t in loc.
func DayRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayStart(t, loc)
	return start, start.AddDate(0, 0, 1)
}

// ParseDay parses a "YYYY-MM-DD" string as the start of that day in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}
