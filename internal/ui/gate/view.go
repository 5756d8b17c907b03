// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DevendraSumaniya20/biometric/internal/reauth"
	"github.com/DevendraSumaniya20/biometric/internal/ui/styles"
)

var titleCaser = cases.Title(language.English)

// PhaseTitle renders a phase for headings, e.g. "Locked Out".
func PhaseTitle(p reauth.Phase) string {
	return titleCaser.String(p.String())
}

// PhaseTone maps an engine phase onto a visual tone.
func PhaseTone(p reauth.Phase) styles.Tone {
	switch p {
	case reauth.Authenticating:
		return styles.ToneBusy
	case reauth.Success:
		return styles.ToneGood
	case reauth.Failed, reauth.LockedOut:
		return styles.ToneBad
	case reauth.FallbackRequested, reauth.Cancelled, reauth.SessionExpired:
		return styles.ToneWarn
	default:
		return styles.ToneNeutral
	}
}

// refreshCountdown shows the lockout box while locked and hides it
// otherwise.
func (m *Model) refreshCountdown() {
	now := m.clock.Now()
	switch {
	case m.state.Locked():
		msg := fmt.Sprintf("Too many failed attempts. Try again in %s.",
			plural(m.state.MinutesRemaining(now), "minute"))
		m.countdown.Show(styles.ToneBad, "Locked Out", msg, m.state.LockoutEndsAt)
		m.countdown.SetHint(m.keys.UsePassword.Help().Key + ": " + m.keys.UsePassword.Help().Desc)
	case m.state.Phase == reauth.SessionExpired:
		m.countdown.Show(styles.ToneWarn, "Session Expired", "Authenticate to continue.", time.Time{})
		m.countdown.SetHint(m.keys.Authenticate.Help().Key + ": " + m.keys.Authenticate.Help().Desc)
	default:
		m.countdown.Hide()
	}
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	now := m.clock.Now()
	lineWidth := m.width - 4
	if lineWidth < 20 {
		lineWidth = 20
	}

	var b strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Purple).
		Render("bioreauth")
	b.WriteString(header)
	b.WriteString("  ")
	b.WriteString(lipgloss.NewStyle().Foreground(styles.TextMuted).Render(m.state.BiometricKind.String()))
	b.WriteString("\n\n")

	b.WriteString(styles.Badge(PhaseTone(m.state.Phase), PhaseTitle(m.state.Phase)))
	b.WriteString("\n")

	b.WriteString(m.routeLine())
	b.WriteString("\n")
	if m.policy.MaxFailedAttempts > 0 && !m.state.Locked() && m.state.Phase != reauth.Success {
		b.WriteString(lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(
			fmt.Sprintf("Attempts remaining: %d of %d", m.state.RemainingAttempts, m.policy.MaxFailedAttempts)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.countdown.IsVisible() {
		b.WriteString(m.countdown.View(now))
		b.WriteString("\n\n")
	}

	if m.state.Phase == reauth.Authenticating {
		if m.prompting {
			if m.prompt.Title != "" {
				b.WriteString(lipgloss.NewStyle().Bold(true).Render(m.prompt.Title))
				b.WriteString("\n")
			}
			b.WriteString(m.input.View())
			b.WriteString("\n")
		}
		if v := m.spinner.View(); v != "" {
			b.WriteString(v)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.alert != nil {
		msg := runewidth.Truncate(m.alert.Message(now), lineWidth, "...")
		b.WriteString(renderAlert(m.alert.Kind, msg))
		b.WriteString("\n\n")
	}

	if m.err != nil {
		b.WriteString(styles.RenderError(runewidth.Truncate(m.err.Error(), lineWidth, "...")))
		b.WriteString("\n\n")
	}

	if len(m.events) > 0 {
		muted := lipgloss.NewStyle().Foreground(styles.TextMuted)
		for _, e := range m.events {
			line := e.at.Local().Format("15:04:05") + "  " + e.text
			b.WriteString(muted.Render(runewidth.Truncate(line, lineWidth, "...")))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.NewStyle().
		Foreground(styles.Cyan).
		Render(m.keys.help(m.prompting, m.life != nil)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) routeLine() string {
	muted := lipgloss.NewStyle().Foreground(styles.TextSecondary)
	switch m.route {
	case reauth.RouteHome:
		return styles.RenderSuccess("Session active. Home screen unlocked.")
	case reauth.RoutePasswordLogin:
		return styles.RenderWarning("Continue with your password to sign in.")
	default:
		return muted.Render("Verify it's you to continue.")
	}
}

func renderAlert(kind reauth.AlertKind, msg string) string {
	switch kind {
	case reauth.AlertLockedOut, reauth.AlertFailed:
		return styles.RenderError(msg)
	case reauth.AlertAttemptsRemaining, reauth.AlertTimedOut, reauth.AlertSessionExpired, reauth.AlertUnavailable:
		return styles.RenderWarning(msg)
	default:
		return styles.RenderInfo(msg)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
