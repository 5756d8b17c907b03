// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides reusable widgets for the bioreauth terminal host.
package components

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DevendraSumaniya20/biometric/internal/ui/styles"
)

// =============================================================================
// SPINNER MODEL
// =============================================================================

// Spinner shows that an authentication attempt is in flight. Elapsed time
// is read from now so tests can drive it with a manual clock.
type Spinner struct {
	spinner spinner.Model

	message   string
	detail    string
	startTime time.Time
	now       func() time.Time

	isActive  bool
	showTimer bool
}

// NewSpinner creates an ASCII line spinner.
func NewSpinner(now func() time.Time) Spinner {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	if now == nil {
		now = time.Now
	}

	return Spinner{
		spinner:   s,
		message:   "Authenticating",
		now:       now,
		showTimer: true,
	}
}

// SetMessage sets the text displayed next to the spinner.
func (s *Spinner) SetMessage(msg string) {
	s.message = msg
}

// SetDetail sets the line shown below the spinner.
func (s *Spinner) SetDetail(detail string) {
	s.detail = detail
}

// SetShowTimer enables or disables the elapsed time display.
func (s *Spinner) SetShowTimer(show bool) {
	s.showTimer = show
}

// Start activates the spinner and records the start time.
func (s *Spinner) Start() tea.Cmd {
	s.isActive = true
	s.startTime = s.now()
	return s.spinner.Tick
}

// Stop deactivates the spinner.
func (s *Spinner) Stop() {
	s.isActive = false
}

// IsActive returns whether the spinner is currently running.
func (s *Spinner) IsActive() bool {
	return s.isActive
}

// Elapsed returns the duration since Start.
func (s *Spinner) Elapsed() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Update advances the animation while active.
func (s Spinner) Update(msg tea.Msg) (Spinner, tea.Cmd) {
	if !s.isActive {
		return s, nil
	}

	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

// View renders the spinner.
func (s Spinner) View() string {
	if !s.isActive {
		return ""
	}

	spinnerView := lipgloss.NewStyle().
		Foreground(styles.Cyan).
		Render(s.spinner.View())

	messageView := lipgloss.NewStyle().
		Foreground(styles.TextSecondary).
		Render(s.message)

	result := spinnerView + " " + messageView + "..."

	if s.showTimer && !s.startTime.IsZero() {
		result += lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Render(" (" + formatElapsed(s.Elapsed()) + ")")
	}

	if s.detail != "" {
		result += "\n" + lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			PaddingLeft(2).
			Render(s.detail)
	}

	return result
}

// formatElapsed renders a duration as "4s" or "1:05".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return d.String()
	}
	m := int(d / time.Minute)
	sec := int((d % time.Minute) / time.Second)
	return fmtMinSec(m, sec)
}
