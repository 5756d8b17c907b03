// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// reset.go - Administrative unlock.
//
// Command: reset
//
// Clears the failed-attempt counter and any active lockout. The session
// mark survives unless --session is given. An unreadable ledger value is
// cleared along with the rest.
//
// Flags:
//   --confirm, -y       Required
//   --session           Also forget the last authentication
//   --wipe              Delete a state file that fails its integrity check
//   --json              Output in JSON format

package cli

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/audit"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

// Audit events written by reset.
const (
	EventLedgerReset = "LEDGER_RESET"
	EventStoreWiped  = "STORE_WIPED"
)

// ResetData is the --json payload of reset.
type ResetData struct {
	WasLocked      bool   `json:"was_locked"`
	AttemptsUsed   uint32 `json:"attempts_used"`
	SessionCleared bool   `json:"session_cleared"`
	// Corrupt is set when a ledger value could not be decoded.
	Corrupt bool `json:"corrupt,omitempty"`
	// Wiped is set when the state file was deleted by --wipe. The TOTP
	// enrollment goes with it.
	Wiped bool `json:"wiped,omitempty"`
}

// HandleReset handles "bioreauth reset".
func HandleReset(env *Env) error {
	p := NewArgParser(env.Args.Raw, "confirm", "y", "session", "wipe")
	if !p.BoolFlag("confirm", "y") {
		return usageErr("reset clears the lockout and needs --confirm", "bioreauth reset --confirm [--session] [--wipe]")
	}

	auditor, err := env.OpenAudit("cli")
	if err != nil {
		return err
	}

	var data ResetData
	s, err := env.OpenStore()
	if errors.Is(err, store.ErrIntegrity) && p.BoolFlag("wipe") {
		s, err = wipeStore(env, auditor)
		data.Wiped = err == nil
	}
	if err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			return &CommandError{Command: "reset", Err: fmt.Errorf("%w (run: bioreauth reset --confirm --wipe)", err)}
		}
		return err
	}
	l, err := env.OpenLedger(s)
	if err != nil {
		return err
	}

	// Load rather than CurrentStatus: an expired lockout is still worth
	// reporting as cleared.
	rec, err := l.Load()
	switch {
	case errors.Is(err, ledger.ErrCorrupt):
		env.Log.Warn("clearing corrupt ledger", zap.Error(err))
		data.Corrupt = true
	case err != nil:
		return &CommandError{Command: "reset", Err: err}
	default:
		data.WasLocked = rec.Lockout != nil
		data.AttemptsUsed = rec.FailedCount
	}

	if err := l.Reset(); err != nil {
		return &CommandError{Command: "reset", Err: err}
	}
	if p.BoolFlag("session") {
		if err := l.ClearAuthenticated(); err != nil {
			return &CommandError{Command: "reset", Action: "session", Err: err}
		}
		data.SessionCleared = true
	}

	if err := auditor.Log(audit.Event{
		Timestamp: env.Clock.Now(),
		EventType: EventLedgerReset,
		Success:   true,
		Metadata: map[string]string{
			"was_locked":      strconv.FormatBool(data.WasLocked),
			"attempts_used":   strconv.FormatUint(uint64(data.AttemptsUsed), 10),
			"session_cleared": strconv.FormatBool(data.SessionCleared),
			"corrupt":         strconv.FormatBool(data.Corrupt),
		},
	}); err != nil {
		env.Log.Warn("reset not audited", zap.Error(err))
	}

	if env.Args.JSON {
		return NewJSONResponse("reset", data).Print(env.Out, highlight(env))
	}
	if env.Args.Quiet {
		return nil
	}
	if data.Wiped {
		fmt.Fprintf(env.Out, "%s State file failed its integrity check and was deleted.\n", WarningStyle.Render("[!]"))
		fmt.Fprintln(env.Out, DimStyle.Render("  Enrollment was lost; run: bioreauth enroll"))
	}
	switch {
	case data.Corrupt:
		fmt.Fprintf(env.Out, "%s Cleared an unreadable ledger.\n", SuccessStyle.Render("[OK]"))
	case data.WasLocked:
		fmt.Fprintf(env.Out, "%s Lockout cleared.\n", SuccessStyle.Render("[OK]"))
	case data.AttemptsUsed > 0:
		fmt.Fprintf(env.Out, "%s Cleared %s.\n", SuccessStyle.Render("[OK]"), plural(int(data.AttemptsUsed), "failed attempt"))
	case !data.Wiped:
		fmt.Fprintf(env.Out, "%s Nothing to reset.\n", SuccessStyle.Render("[OK]"))
	}
	if data.SessionCleared {
		fmt.Fprintln(env.Out, DimStyle.Render("  Session cleared; the next start requires authentication."))
	}
	return nil
}

// wipeStore deletes a state file that failed its integrity check and opens
// a fresh one in its place.
func wipeStore(env *Env, auditor *audit.Logger) (store.Store, error) {
	path, err := env.Config.ResolveStorePath()
	if err != nil {
		return nil, &ConfigError{Path: env.ConfigPath, Err: err}
	}
	if err := store.Wipe(path); err != nil {
		return nil, &CommandError{Command: "reset", Action: "wipe", Err: err}
	}
	env.Log.Warn("state file wiped", zap.String("path", path))
	if err := auditor.Log(audit.Event{
		Timestamp: env.Clock.Now(),
		EventType: EventStoreWiped,
		Success:   true,
		Metadata:  map[string]string{"path": path},
	}); err != nil {
		env.Log.Warn("wipe not audited", zap.Error(err))
	}
	return env.OpenStore()
}
