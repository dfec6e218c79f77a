package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/tasksync/internal/model"
)

// LocalIDPrefix marks task ids of results synthesized offline.
const LocalIDPrefix = "local-"

// OfflineReply is the message reply used when the assistant is unreachable.
const OfflineReply = "I can't reach the assistant right now. Your message is saved; " +
	"please try again once you're back online."

// Fallback synthesizes completed payloads locally. The payloads mirror the
// remote ones, except that they never carry "response" or "analysis".
type Fallback struct {
	loc *time.Location
	now func() time.Time
}

// NewFallback creates a Fallback resolving "today" in loc.
func NewFallback(loc *time.Location) *Fallback {
	if loc == nil {
		loc = time.Local
	}
	return &Fallback{loc: loc, now: time.Now}
}

// Synthesize returns the completed payload for req.
func (f *Fallback) Synthesize(req Request) map[string]any {
	payload := map[string]any{
		"status": string(model.TaskStatusCompleted),
		"local":  true,
	}
	switch r := req.(type) {
	case MessageRequest:
		payload["summary"] = OfflineReply
	case *MessageRequest:
		payload["summary"] = OfflineReply
	case ChecklistRequest:
		payload["checklist_data"] = f.checklistData(r)
	case *ChecklistRequest:
		payload["checklist_data"] = f.checklistData(*r)
	case CheckinRequest:
		payload["summary"] = CheckinSummary(r.Mood, r.Energy)
	case *CheckinRequest:
		payload["summary"] = CheckinSummary(r.Mood, r.Energy)
	}
	return payload
}

// checklistData builds checklist_data in the flat per-date shape with one
// item per goal.
func (f *Fallback) checklistData(r ChecklistRequest) map[string]any {
	date := strings.TrimSpace(r.Date)
	if date == "" {
		date = f.now().In(f.loc).Format(model.DateLayout)
	}

	items := make([]any, 0, len(r.Goals))
	for _, goal := range r.Goals {
		goal = strings.TrimSpace(goal)
		if goal == "" {
			continue
		}
		items = append(items, map[string]any{"title": goal})
	}

	return map[string]any{
		date: map[string]any{
			"notes": r.Notes,
			"items": items,
		},
	}
}

// CheckinSummary describes a mood/energy check-in without the assistant.
func CheckinSummary(mood, energy int) string {
	mood, energy = clampScale(mood), clampScale(energy)

	var advice string
	switch {
	case mood >= 4 && energy >= 4:
		advice = "A good day to tackle your most demanding task."
	case mood >= 4:
		advice = "Spirits are up but energy is limited; pick one meaningful task and pace yourself."
	case energy >= 4:
		advice = "You have energy to spare; a short walk or a quick win may lift your mood."
	case mood <= 2 && energy <= 2:
		advice = "Go easy on yourself today. Rest counts as progress."
	default:
		advice = "Keep today's plan small and take regular breaks."
	}

	return fmt.Sprintf("Mood %d/5 (%s), energy %d/5 (%s). %s",
		mood, scaleWord(mood), energy, scaleWord(energy), advice)
}

func clampScale(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func scaleWord(v int) string {
	switch v {
	case 1:
		return "very low"
	case 2:
		return "low"
	case 3:
		return "moderate"
	case 4:
		return "good"
	default:
		return "high"
	}
}
