// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Lockout, attempt and session status.
//
// Command: status
// Aliases: s
//
// Flags:
//   --json              Output in JSON format
//   --events N          Recent audit events to show (default 5)
//
// Reading status clears a lockout whose end has passed, exactly as the
// engine would on its next start.

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DevendraSumaniya20/biometric/internal/audit"
	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/reauth"
)

const defaultStatusEvents = 5

// StatusData is the --json payload of status.
type StatusData struct {
	Locked            bool       `json:"locked"`
	AttemptsUsed      uint32     `json:"attempts_used"`
	RemainingAttempts uint32     `json:"remaining_attempts"`
	MaxAttempts       uint32     `json:"max_attempts"`
	LockoutEndsAt     *time.Time `json:"lockout_ends_at,omitempty"`
	MinutesRemaining  int        `json:"minutes_remaining,omitempty"`

	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty"`
	SessionFresh        bool       `json:"session_fresh"`
	SessionExpiresAt    *time.Time `json:"session_expires_at,omitempty"`
	// SessionCorrupt is set when the stored mark could not be parsed.
	SessionCorrupt bool `json:"session_corrupt,omitempty"`

	Capability string `json:"capability"`
	Enrolled   bool   `json:"enrolled"`

	StoreDriver string `json:"store_driver"`
	StorePath   string `json:"store_path,omitempty"`
	ConfigPath  string `json:"config_path,omitempty"`

	RecentEvents []audit.Event `json:"recent_events,omitempty"`
}

// HandleStatus handles "bioreauth status".
func HandleStatus(env *Env) error {
	p := NewArgParser(env.Args.Raw)
	n := defaultStatusEvents
	if v := p.Flag("events"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return usageErr("--events must be a non-negative number", "bioreauth status [--events N]")
		}
		n = parsed
	}

	data, err := collectStatus(env, n)
	if err != nil {
		return &CommandError{Command: "status", Err: err}
	}

	if env.Args.JSON {
		return NewJSONResponse("status", data).Print(env.Out, highlight(env))
	}
	printStatus(env, data)
	return nil
}

// collectStatus reads the ledger without starting the engine.
func collectStatus(env *Env, events int) (StatusData, error) {
	now := env.Clock.Now()
	policy := env.Policy()

	data := StatusData{
		MaxAttempts: policy.MaxFailedAttempts,
		Capability:  env.Config.Biometric.Driver,
		StoreDriver: env.Config.Store.Driver,
	}
	if env.ConfigFound {
		data.ConfigPath = env.ConfigPath
	}
	if data.StoreDriver != "memory" {
		path, err := env.Config.ResolveStorePath()
		if err != nil {
			return data, err
		}
		data.StorePath = path
	}

	s, err := env.OpenStore()
	if err != nil {
		return data, err
	}
	l, err := env.OpenLedger(s)
	if err != nil {
		return data, err
	}

	status, err := l.CurrentStatus(now)
	if err != nil {
		return data, err
	}
	if status.Locked {
		endsAt := status.EndsAt
		data.Locked = true
		data.AttemptsUsed = policy.MaxFailedAttempts
		data.LockoutEndsAt = &endsAt
		data.MinutesRemaining = reauth.EngineState{Phase: reauth.LockedOut, LockoutEndsAt: endsAt}.MinutesRemaining(now)
	} else {
		data.AttemptsUsed = status.AttemptsUsed
		data.RemainingAttempts = l.RemainingAttempts(status.AttemptsUsed)
	}

	last, ok, err := l.LastAuthenticated()
	switch {
	case errors.Is(err, ledger.ErrCorrupt):
		data.SessionCorrupt = true
	case err != nil:
		return data, err
	case ok:
		data.LastAuthenticatedAt = &last
		expires := last.Add(policy.SessionTimeout)
		if !last.After(now) && now.Before(expires) {
			data.SessionFresh = true
			data.SessionExpiresAt = &expires
		}
	}

	if data.Capability == "totp" {
		enrolled, err := biometric.Enrolled(s)
		if err != nil {
			return data, err
		}
		data.Enrolled = enrolled
	}

	if events > 0 {
		path, err := env.Config.ResolveAuditPath()
		if err != nil {
			return data, err
		}
		if path != "" {
			recent, err := audit.ReadRecent(path, events)
			if err != nil {
				return data, err
			}
			data.RecentEvents = recent
		}
	}
	return data, nil
}

func printStatus(env *Env, d StatusData) {
	w := env.Out
	now := env.Clock.Now()

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("bioreauth Status"))
	fmt.Fprintln(w, RenderSeparator())

	fmt.Fprintln(w, SectionStyle.Render("Lockout"))
	if d.Locked {
		fmt.Fprintln(w, RenderField("State:", ErrorStyle.Render("LOCKED")))
		fmt.Fprintln(w, RenderField("Ends at:", d.LockoutEndsAt.Local().Format("2006-01-02 15:04:05")))
		fmt.Fprintln(w, RenderField("Try again in:", plural(d.MinutesRemaining, "minute")))
	} else {
		fmt.Fprintln(w, RenderField("State:", SuccessStyle.Render("unlocked")))
		fmt.Fprintln(w, RenderField("Attempts remaining:", fmt.Sprintf("%d of %d", d.RemainingAttempts, d.MaxAttempts)))
	}

	fmt.Fprintln(w, SectionStyle.Render("Session"))
	switch {
	case d.SessionCorrupt:
		fmt.Fprintln(w, RenderField("State:", WarningStyle.Render("unreadable (cleared on next start)")))
	case d.SessionFresh:
		left := d.SessionExpiresAt.Sub(now).Round(time.Second)
		fmt.Fprintln(w, RenderField("State:", SuccessStyle.Render("fresh")))
		fmt.Fprintln(w, RenderField("Expires in:", left.String()))
	case d.LastAuthenticatedAt != nil:
		fmt.Fprintln(w, RenderField("State:", WarningStyle.Render("expired")))
	default:
		fmt.Fprintln(w, RenderField("State:", DimStyle.Render("none")))
	}
	if d.LastAuthenticatedAt != nil {
		fmt.Fprintln(w, RenderField("Last authenticated:", d.LastAuthenticatedAt.Local().Format("2006-01-02 15:04:05")))
	}

	fmt.Fprintln(w, SectionStyle.Render("Capability"))
	fmt.Fprintln(w, RenderField("Driver:", d.Capability))
	if d.Capability == "totp" {
		enrolled := WarningStyle.Render("no (run: bioreauth enroll)")
		if d.Enrolled {
			enrolled = SuccessStyle.Render("yes")
		}
		fmt.Fprintln(w, RenderField("Enrolled:", enrolled))
	}

	fmt.Fprintln(w, SectionStyle.Render("Storage"))
	fmt.Fprintln(w, RenderField("Driver:", d.StoreDriver))
	if d.StorePath != "" {
		fmt.Fprintln(w, RenderField("Path:", d.StorePath))
	}
	config := d.ConfigPath
	if config == "" {
		config = DimStyle.Render("(defaults)")
	}
	fmt.Fprintln(w, RenderField("Config:", config))

	if len(d.RecentEvents) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Recent Events"))
		for i := range d.RecentEvents {
			fmt.Fprintln(w, "  "+DimStyle.Render(strings.TrimSpace(d.RecentEvents[i].ToLogLine())))
		}
	}
	fmt.Fprintln(w)
}
