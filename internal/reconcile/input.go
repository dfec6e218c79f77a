// Package reconcile merges AI-produced checklist data into the local
// per-day checklist records.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ChecklistInput is one day's worth of checklist data to merge.
type ChecklistInput struct {
	// Date is the calendar day as "YYYY-MM-DD".
	Date  string      `json:"date"`
	Notes string      `json:"notes"`
	Items []ItemInput `json:"items"`
}

// ItemInput is an incoming checklist item. Items reference groups by name
// only; ids are resolved during the merge.
type ItemInput struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
	GroupName   string `json:"group_name,omitempty"`

	// Notification is "HH:MM" on the record's day, or nil/"null" for none.
	Notification *string        `json:"notification,omitempty"`
	SubItems     []SubItemInput `json:"subitems,omitempty"`
}

// SubItemInput is an incoming sub-item.
type SubItemInput struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
}

// DecodeChecklistData converts the checklist_data payload of a completed
// checklist task into merge inputs sorted by date. Both historical shapes
// are accepted for each date key:
//
//	{"2025-03-17": {"name": "Health", "notes": "...", "items": [...]}}
//	{"2025-03-17": {"notes": "...", "items": [...]}}
//
// as well as a list of such objects per date. "name" becomes the group of
// every item that names none itself. A JSON-encoded string is decoded
// first. An entry without an items array is returned with nil Items so the
// merge can report it as malformed.
func DecodeChecklistData(raw any) ([]ChecklistInput, error) {
	if s, ok := raw.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decoding checklist_data string: %w", err)
		}
		raw = decoded
	}

	byDate, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checklist_data must be an object keyed by date, got %T", raw)
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var inputs []ChecklistInput
	for _, date := range dates {
		switch v := byDate[date].(type) {
		case []any:
			for _, entry := range v {
				inputs = append(inputs, decodeDay(date, entry))
			}
		default:
			inputs = append(inputs, decodeDay(date, v))
		}
	}
	return inputs, nil
}

func decodeDay(date string, v any) ChecklistInput {
	in := ChecklistInput{Date: strings.TrimSpace(date)}
	obj, ok := v.(map[string]any)
	if !ok {
		return in
	}

	in.Notes, _ = obj["notes"].(string)
	groupName, _ := obj["name"].(string)

	rawItems, ok := obj["items"].([]any)
	if !ok {
		return in
	}
	in.Items = make([]ItemInput, 0, len(rawItems))
	for _, ri := range rawItems {
		item, ok := decodeItem(ri, groupName)
		if ok {
			in.Items = append(in.Items, item)
		}
	}
	return in
}

func decodeItem(v any, groupName string) (ItemInput, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return ItemInput{}, false
	}
	title, _ := obj["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return ItemInput{}, false
	}

	item := ItemInput{Title: title, GroupName: strings.TrimSpace(groupName)}
	item.IsCompleted, _ = obj["is_completed"].(bool)
	if name, ok := obj["group_name"].(string); ok && strings.TrimSpace(name) != "" {
		item.GroupName = strings.TrimSpace(name)
	}
	if n, ok := obj["notification"].(string); ok {
		item.Notification = &n
	}

	if subs, ok := obj["subitems"].([]any); ok {
		for _, rs := range subs {
			sobj, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			st, _ := sobj["title"].(string)
			if strings.TrimSpace(st) == "" {
				continue
			}
			done, _ := sobj["is_completed"].(bool)
			item.SubItems = append(item.SubItems, SubItemInput{Title: strings.TrimSpace(st), IsCompleted: done})
		}
	}
	return item, true
}
