package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Group is a named, colored container that checklist items can reference.
// Group ids are globally unique; re-creating a group with an existing id
// updates it in place.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Color     *RGB      `json:"color,omitempty" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B uint8
}

// Hex formats c as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseRGB parses "#rrggbb" (the leading '#' is optional).
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}
