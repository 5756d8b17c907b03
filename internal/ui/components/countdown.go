// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/DevendraSumaniya20/biometric/internal/ui/styles"
)

// =============================================================================
// COUNTDOWN BOX
// =============================================================================

// Countdown is a bordered box with a title, a message and an optional
// deadline. The host uses it for the lockout screen and for the expired
// session notice.
type Countdown struct {
	visible  bool
	tone     styles.Tone
	title    string
	message  string
	deadline time.Time
	hint     string

	width int
}

// NewCountdown creates a hidden countdown box.
func NewCountdown() Countdown {
	return Countdown{}
}

// SetWidth sets the available width.
func (c *Countdown) SetWidth(width int) {
	c.width = width
}

// Show displays the box. A zero deadline hides the timer line.
func (c *Countdown) Show(tone styles.Tone, title, message string, deadline time.Time) {
	c.visible = true
	c.tone = tone
	c.title = title
	c.message = message
	c.deadline = deadline
}

// SetHint sets the muted line at the bottom of the box.
func (c *Countdown) SetHint(hint string) {
	c.hint = hint
}

// Hide hides the box.
func (c *Countdown) Hide() {
	c.visible = false
}

// IsVisible reports whether the box is shown.
func (c Countdown) IsVisible() bool {
	return c.visible
}

// Remaining returns the time left until the deadline, never negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	if c.deadline.IsZero() {
		return 0
	}
	d := c.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// View renders the box as of now.
func (c Countdown) View(now time.Time) string {
	if !c.visible {
		return ""
	}

	maxWidth := c.width - 8
	if maxWidth < 40 {
		maxWidth = 40
	}
	if maxWidth > 60 {
		maxWidth = 60
	}

	accent := styles.ToneColor(c.tone)

	var parts []string
	parts = append(parts, lipgloss.NewStyle().
		Foreground(accent).
		Bold(true).
		Render(styles.ToneIndicator(c.tone)+" "+c.title))
	parts = append(parts, "")

	if c.message != "" {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(styles.TextPrimary).
			Width(maxWidth-8).
			Align(lipgloss.Center).
			Render(c.message))
	}

	if !c.deadline.IsZero() {
		parts = append(parts, "")
		parts = append(parts, lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Render(formatTimeRemaining(c.Remaining(now))))
	}

	if c.hint != "" {
		parts = append(parts, "")
		parts = append(parts, lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Italic(true).
			Render(c.hint))
	}

	content := lipgloss.JoinVertical(lipgloss.Center, parts...)

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(accent).
		Padding(1, 3).
		Width(maxWidth).
		Align(lipgloss.Center).
		Render(content)
}

// formatTimeRemaining formats a duration as M:SS.
func formatTimeRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	// Round up so the box never shows 0:00 while time is left.
	secs := int((d + time.Second - 1) / time.Second)
	return fmtMinSec(secs/60, secs%60)
}

func fmtMinSec(m, s int) string {
	return fmt.Sprintf("%d:%02d", m, s)
}
