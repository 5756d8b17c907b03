// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// unlock.go - One-shot re-authentication for scripts and shell hooks.
//
// Command: unlock
// Aliases: auth
//
// Prompts for the authenticator code on the terminal. A failed code is
// re-prompted while attempts remain.
//
// Exit codes:
//   0  authenticated (or the session is still fresh)
//   4  not authenticated (cancelled or failed)
//   6  locked out
//   7  capability unavailable, use the password
//   8  prompt timed out

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/reauth"
	"github.com/DevendraSumaniya20/biometric/internal/store"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
)

// UnlockData is the --json result of unlock.
type UnlockData struct {
	Phase               string     `json:"phase"`
	Kind                string     `json:"kind"`
	RemainingAttempts   uint32     `json:"remaining_attempts"`
	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty"`
	LockoutEndsAt       *time.Time `json:"lockout_ends_at,omitempty"`
}

// HandleUnlock handles "bioreauth unlock".
func HandleUnlock(env *Env) error {
	if env.Config.Biometric.Driver != "none" {
		if err := RequiresTTY("unlock"); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := biometric.NewLinerSource()
	err := unlock(ctx, env, func(s store.Store) biometric.Capability {
		return env.Capability(s, src)
	})
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: interrupted", ErrNotAuthenticated)
	}
	return err
}

// hostQueue hands runner updates to the waiting command without ever
// blocking the engine goroutine after the command has returned.
type hostQueue struct {
	ch   chan reauth.Update
	done chan struct{}
}

func newHostQueue() *hostQueue {
	return &hostQueue{ch: make(chan reauth.Update, 32), done: make(chan struct{})}
}

func (q *hostQueue) publish(u reauth.Update) {
	select {
	case q.ch <- u:
	case <-q.done:
	}
}

func (q *hostQueue) close() { close(q.done) }

// unlock runs one re-authentication against the capability built by
// newCap and maps the outcome onto an error.
func unlock(ctx context.Context, env *Env, newCap func(store.Store) biometric.Capability) error {
	s, err := env.OpenStore()
	if err != nil {
		return err
	}
	l, err := env.OpenLedger(s)
	if err != nil {
		return err
	}
	auditor, err := env.OpenAudit("unlock")
	if err != nil {
		return err
	}
	engine, err := reauth.NewEngine(l, env.Clock, env.Policy(), reauth.WithLogger(env.Log))
	if err != nil {
		return &ConfigError{Path: env.ConfigPath, Err: err}
	}

	q := newHostQueue()
	runner := reauth.NewRunner(engine, newCap(s), timer.New(env.Clock, env.Log),
		reauth.WithHost(q.publish),
		reauth.WithAuditor(auditor),
		reauth.WithRunnerLogger(env.Log))

	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		q.close()
		runner.Stop()
	}()

	if monitor := unlockMonitor(env, runner); monitor != nil {
		defer monitor.Stop()
	}

	final, err := awaitUnlock(ctx, env, runner, q.ch)
	if err != nil {
		return err
	}
	return printUnlockResult(env, final)
}

// unlockMonitor follows the configured lifecycle source so that
// backgrounding the shell invalidates the attempt. It is best effort.
func unlockMonitor(env *Env, runner *reauth.Runner) *lifecycle.Monitor {
	src, err := env.LifecycleSource(true)
	if err != nil {
		env.Log.Debug("no lifecycle source", zap.Error(err))
		return nil
	}
	monitor := lifecycle.NewMonitor(src, env.Log)
	if err := monitor.Start(runner.LifecycleHandler()); err != nil {
		env.Log.Debug("lifecycle monitor not started", zap.Error(err))
		return nil
	}
	return monitor
}

// awaitUnlock drives the runner until an outcome is reached.
func awaitUnlock(ctx context.Context, env *Env, runner *reauth.Runner, updates <-chan reauth.Update) (reauth.EngineState, error) {
	var last reauth.EngineState
	for {
		var u reauth.Update
		select {
		case u = <-updates:
		case <-ctx.Done():
			return last, ctx.Err()
		}
		last = u.State
		showAlerts(env, u)

		if u.Err != nil {
			return last, u.Err
		}

		done, retry, err := settle(u, env.Clock.Now())
		if done {
			return last, err
		}
		if retry {
			if _, err := runner.Dispatch(ctx, reauth.StartAuth{}); err != nil {
				return last, err
			}
		}
	}
}

// settle decides what an update means for a waiting unlock. retry asks
// for a new attempt; done ends the command with err.
func settle(u reauth.Update, now time.Time) (done, retry bool, err error) {
	st := u.State
	switch st.Phase {
	case reauth.Uninitialized, reauth.Authenticating:
		return false, false, nil

	case reauth.Success:
		return true, false, nil

	case reauth.LockedOut:
		return true, false, fmt.Errorf("%w, try again in %s", ledger.ErrLocked,
			plural(st.MinutesRemaining(now), "minute"))

	case reauth.FallbackRequested, reauth.Cancelled:
		return true, false, ErrUnavailable

	case reauth.Failed:
		return true, false, fmt.Errorf("%w: %s", ErrNotAuthenticated, alertText(u, now, "authentication failed"))

	case reauth.SessionExpired:
		return true, false, fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	}

	// Ready
	switch u.Event.(type) {
	case reauth.Init:
		if st.SessionValid {
			return true, false, nil
		}
		return false, true, nil
	case reauth.TimerFired:
		return true, false, ErrTimedOut
	case reauth.AuthCompleted:
		if alert, ok := findAlert(u); ok && alert.Kind == reauth.AlertAttemptsRemaining {
			return false, true, nil
		}
		return true, false, fmt.Errorf("%w: cancelled", ErrNotAuthenticated)
	}
	// Lockout expiry or a lifecycle edge; a foregrounded shell restarts
	// the attempt by itself.
	return false, false, nil
}

func findAlert(u reauth.Update) (reauth.Alert, bool) {
	for _, a := range u.Actions {
		if sa, ok := a.(reauth.ShowAlert); ok {
			return sa.Alert, true
		}
	}
	return reauth.Alert{}, false
}

func alertText(u reauth.Update, now time.Time, fallback string) string {
	if a, ok := findAlert(u); ok {
		if msg := a.Message(now); msg != "" {
			return msg
		}
	}
	return fallback
}

func showAlerts(env *Env, u reauth.Update) {
	if env.Args.Quiet || env.Args.JSON {
		return
	}
	if a, ok := findAlert(u); ok {
		fmt.Fprintln(env.Err, WarningStyle.Render(a.Message(env.Clock.Now())))
	}
}

func printUnlockResult(env *Env, st reauth.EngineState) error {
	if env.Args.JSON {
		data := UnlockData{
			Phase:             st.Phase.String(),
			Kind:              st.BiometricKind.String(),
			RemainingAttempts: st.RemainingAttempts,
		}
		if !st.LastAuthenticatedAt.IsZero() {
			t := st.LastAuthenticatedAt
			data.LastAuthenticatedAt = &t
		}
		if !st.LockoutEndsAt.IsZero() {
			t := st.LockoutEndsAt
			data.LockoutEndsAt = &t
		}
		return NewJSONResponse("unlock", data).Print(env.Out, highlight(env))
	}
	if env.Args.Quiet {
		return nil
	}
	expires := st.LastAuthenticatedAt.Add(env.Policy().SessionTimeout)
	fmt.Fprintf(env.Out, "%s Authenticated. Session valid until %s.\n",
		SuccessStyle.Render("[OK]"), expires.Local().Format("15:04:05"))
	return nil
}

// plural formats n with unit, adding an "s" when n != 1.
func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
