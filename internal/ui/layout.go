package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tasksync/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the top bar with a title on the left and the
// listener status on the right.
func (l Layout) RenderHeader(title string, status string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		l.filler(theme.HeaderStyle, lipgloss.Width(titleRendered)+lipgloss.Width(statusRendered)),
		statusRendered,
	)
}

// RenderStatusBar renders the bottom bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		rendered,
		l.filler(theme.StatusBarStyle, lipgloss.Width(rendered)),
	)
}

// RenderFeed renders the newest lines that fit in the content area,
// padding the area so the status bar stays at the bottom.
func (l Layout) RenderFeed(lines []string) string {
	h := l.ContentHeight()
	if len(lines) > h {
		lines = lines[len(lines)-h:]
	}
	out := make([]string, 0, h)
	for _, line := range lines {
		out = append(out, theme.FeedLineStyle.MaxWidth(l.Width).Render(line))
	}
	for len(out) < h {
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

// filler pads a bar of the given style to the full width.
func (l Layout) filler(style lipgloss.Style, used int) string {
	gap := l.Width - used
	if gap < 0 {
		gap = 0
	}
	return style.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(style.GetBackground()).
			Render(""),
	)
}
