package reconcile

import "testing"

func TestDecodeChecklistData_Shapes(t *testing.T) {
	raw := map[string]any{
		"2025-03-18": map[string]any{
			"name":  "Health",
			"notes": "Move more.",
			"items": []any{
				map[string]any{"title": "Walk", "notification": "07:00"},
				map[string]any{"title": "Stretch", "group_name": "Mobility"},
			},
		},
		"2025-03-17": map[string]any{
			"items": []any{
				map[string]any{
					"title":        "Plan",
					"is_completed": true,
					"subitems":     []any{map[string]any{"title": "Calendar"}, "junk"},
				},
				map[string]any{"title": "  "},
				"not an object",
			},
		},
	}

	inputs, err := DecodeChecklistData(raw)
	if err != nil {
		t.Fatalf("DecodeChecklistData() error = %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("len(inputs) = %d, want 2", len(inputs))
	}

	flat := inputs[0]
	if flat.Date != "2025-03-17" {
		t.Errorf("inputs not sorted by date: first = %s", flat.Date)
	}
	if len(flat.Items) != 1 {
		t.Fatalf("flat items = %+v", flat.Items)
	}
	if !flat.Items[0].IsCompleted || flat.Items[0].GroupName != "" {
		t.Errorf("flat item = %+v", flat.Items[0])
	}
	if len(flat.Items[0].SubItems) != 1 || flat.Items[0].SubItems[0].Title != "Calendar" {
		t.Errorf("subitems = %+v", flat.Items[0].SubItems)
	}

	grouped := inputs[1]
	if grouped.Notes != "Move more." {
		t.Errorf("notes = %q", grouped.Notes)
	}
	if grouped.Items[0].GroupName != "Health" {
		t.Errorf("group from name = %q, want Health", grouped.Items[0].GroupName)
	}
	if grouped.Items[1].GroupName != "Mobility" {
		t.Errorf("explicit group_name = %q, want Mobility", grouped.Items[1].GroupName)
	}
	if n := grouped.Items[0].Notification; n == nil || *n != "07:00" {
		t.Errorf("notification = %v", n)
	}
}

func TestDecodeChecklistData_ListPerDate(t *testing.T) {
	inputs, err := DecodeChecklistData(map[string]any{
		"2025-03-17": []any{
			map[string]any{"name": "Work", "items": []any{map[string]any{"title": "Deploy"}}},
			map[string]any{"name": "Home", "items": []any{map[string]any{"title": "Cook"}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 {
		t.Fatalf("len(inputs) = %d, want 2", len(inputs))
	}
	if inputs[0].Items[0].GroupName != "Work" || inputs[1].Items[0].GroupName != "Home" {
		t.Errorf("groups = %q, %q", inputs[0].Items[0].GroupName, inputs[1].Items[0].GroupName)
	}
}

func TestDecodeChecklistData_MissingItems(t *testing.T) {
	inputs, err := DecodeChecklistData(map[string]any{
		"2025-03-17": map[string]any{"notes": "no items"},
		"2025-03-18": "garbage",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range inputs {
		if in.Items != nil {
			t.Errorf("%s: Items = %+v, want nil", in.Date, in.Items)
		}
	}
}

func TestDecodeChecklistData_EncodedString(t *testing.T) {
	inputs, err := DecodeChecklistData(`{"2025-03-17":{"items":[{"title":"A"}]}}`)
	if err != nil {
		t.Fatalf("DecodeChecklistData() error = %v", err)
	}
	if len(inputs) != 1 || inputs[0].Items[0].Title != "A" {
		t.Errorf("inputs = %+v", inputs)
	}
}

func TestDecodeChecklistData_Invalid(t *testing.T) {
	for _, raw := range []any{nil, 42, []any{}, "not json"} {
		if _, err := DecodeChecklistData(raw); err == nil {
			t.Errorf("DecodeChecklistData(%#v) expected error", raw)
		}
	}
}
