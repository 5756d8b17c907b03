// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reauth implements the biometric re-authentication session engine.
//
// Engine is a transition function: Handle takes one Event and returns the
// new EngineState and the Actions the transition produced. It mutates the
// attempt ledger but performs no other side effects; commands such as
// Authenticate and ArmTimer are executed by a Runner, and presentation
// actions are left to the host.
//
// Every armed timer and in-flight authentication carries a token. The
// engine keeps the live token for each slot and ignores completions whose
// token is not live, so a late timeout or result can never act on a newer
// attempt.
//
// Every (phase, event) pair not handled below leaves the state unchanged and
// produces no actions.
package reauth

import (
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
)

// ErrNotInitialized is returned by Runner operations before Start.
var ErrNotInitialized = errors.New("reauth engine not initialized")

// slot names a live token.
type slot int

const (
	slotAttempt slot = iota // in-flight authentication and its prompt timer
	slotSession
	slotLockout
)

// Engine is the re-authentication state machine. It is not safe for
// concurrent use; a Runner serializes events onto it.
type Engine struct {
	ledger *ledger.Ledger
	clock  clock.Clock
	policy config.SecurityConfig
	prompt biometric.PromptSpec
	log    *zap.Logger

	state     EngineState
	away      bool
	nextToken timer.Token
	live      map[slot]timer.Token
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithPrompt sets the prompt passed to the capability.
func WithPrompt(p biometric.PromptSpec) Option {
	return func(e *Engine) { e.prompt = p }
}

// NewEngine creates an engine in Uninitialized.
func NewEngine(l *ledger.Ledger, c clock.Clock, policy config.SecurityConfig, opts ...Option) (*Engine, error) {
	if l == nil {
		return nil, errors.New("reauth: ledger is required")
	}
	if c == nil {
		c = clock.System()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		ledger: l,
		clock:  c,
		policy: policy,
		prompt: biometric.DefaultPrompt(),
		log:    zap.NewNop(),
		live:   make(map[slot]timer.Token),
		state: EngineState{
			Phase:             Uninitialized,
			RemainingAttempts: policy.MaxFailedAttempts,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("engine")
	return e, nil
}

// State returns the current snapshot.
func (e *Engine) State() EngineState { return e.state }

// Handle applies ev. On error the state is the one before ev, except for
// backgrounding, which always invalidates the session in memory first.
func (e *Engine) Handle(ev Event) (EngineState, []Action, error) {
	var (
		actions []Action
		err     error
	)

	switch ev := ev.(type) {
	case Init:
		actions, err = e.onInit(ev)
	case StartAuth:
		actions, err = e.onStartAuth()
	case AuthCompleted:
		actions, err = e.onAuthCompleted(ev)
	case TimerFired:
		actions, err = e.onTimer(ev.Expiry)
	case LifecycleChanged:
		actions, err = e.onLifecycle(ev.Signal)
	case UsePassword:
		actions = e.onUsePassword()
	}

	if err != nil {
		e.log.Error("transition failed",
			zap.String("event", EventName(ev)),
			zap.Stringer("phase", e.state.Phase),
			zap.Error(err))
	}
	return e.state, actions, err
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (e *Engine) onInit(ev Init) ([]Action, error) {
	if e.state.Phase != Uninitialized {
		return nil, nil
	}
	now := e.clock.Now()

	if !ev.Kind.Supported() {
		e.state.BiometricKind = biometric.KindUnsupported
		e.setPhase(FallbackRequested)
		return []Action{
			ShowAlert{Alert: Alert{Kind: AlertUnavailable, Reason: biometric.HardwareUnavailable}},
			e.event(EventBiometricUnsupported, now, nil),
		}, nil
	}

	status, err := e.ledger.CurrentStatus(now)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		e.state.BiometricKind = ev.Kind
		return e.enterLockout(status.EndsAt, now, nil), nil
	}

	// Judge the persisted session before touching in-memory state.
	last, fresh, err := e.judgeSession(now)
	if err != nil {
		return nil, err
	}

	e.state.BiometricKind = ev.Kind
	e.state.RemainingAttempts = e.ledger.RemainingAttempts(status.AttemptsUsed)
	e.setPhase(Ready)

	if !fresh {
		return nil, nil
	}
	e.state.LastAuthenticatedAt = last
	e.state.SessionValid = true
	tok := e.take(slotSession)
	return []Action{
		ArmTimer{Kind: timer.Session, After: e.policy.SessionTimeout - now.Sub(last), Token: tok},
		NavigateTo{Route: RouteHome},
		e.event(EventSessionResumed, now, map[string]string{"authenticated_at": last.UTC().Format(time.RFC3339)}),
	}, nil
}

// judgeSession reports whether the persisted last authentication is still
// inside session_timeout. A stale or unreadable mark is cleared.
func (e *Engine) judgeSession(now time.Time) (time.Time, bool, error) {
	last, ok, err := e.ledger.LastAuthenticated()
	if err != nil && !errors.Is(err, ledger.ErrCorrupt) {
		return time.Time{}, false, err
	}
	if err == nil && !ok {
		return time.Time{}, false, nil
	}
	if err == nil && !last.After(now) && now.Sub(last) < e.policy.SessionTimeout {
		return last, true, nil
	}
	if err := e.ledger.ClearAuthenticated(); err != nil {
		return time.Time{}, false, err
	}
	return time.Time{}, false, nil
}

func (e *Engine) onStartAuth() ([]Action, error) {
	switch e.state.Phase {
	case Ready, Failed, SessionExpired:
	default:
		return nil, nil
	}
	return e.beginAttempt(e.clock.Now(), nil)
}

// beginAttempt re-checks the ledger and either starts an attempt or enters
// LockedOut. prefix is prepended to the returned actions.
func (e *Engine) beginAttempt(now time.Time, prefix []Action) ([]Action, error) {
	status, err := e.ledger.CurrentStatus(now)
	if err != nil {
		return nil, err
	}
	return e.attemptOrLockout(status, now, prefix), nil
}

func (e *Engine) attemptOrLockout(status ledger.Status, now time.Time, prefix []Action) []Action {
	if status.Locked {
		return e.enterLockout(status.EndsAt, now, prefix)
	}

	tok := e.take(slotAttempt)
	e.state.RemainingAttempts = e.ledger.RemainingAttempts(status.AttemptsUsed)
	e.state.LockoutEndsAt = time.Time{}
	e.setPhase(Authenticating)

	return append(prefix,
		Authenticate{Token: tok, Prompt: e.prompt},
		ArmTimer{Kind: timer.Biometric, After: e.policy.BiometricPromptTimeout, Token: tok},
		e.event(EventPrompt, now, map[string]string{"kind": e.state.BiometricKind.String()}),
	)
}

func (e *Engine) onAuthCompleted(ev AuthCompleted) ([]Action, error) {
	if e.state.Phase != Authenticating || !e.isLive(slotAttempt, ev.Token) {
		e.log.Debug("discarding stale authentication result", zap.Uint64("token", uint64(ev.Token)))
		return nil, nil
	}
	now := e.clock.Now()
	out := ev.Outcome

	switch out.Result {
	case biometric.ResultSuccess:
		if err := e.ledger.RecordSuccess(); err != nil {
			return nil, err
		}
		if err := e.ledger.MarkAuthenticated(now); err != nil {
			return nil, err
		}
		e.release(slotAttempt)
		tok := e.take(slotSession)
		e.state.RemainingAttempts = e.policy.MaxFailedAttempts
		e.state.LockoutEndsAt = time.Time{}
		e.state.LastAuthenticatedAt = now
		e.state.SessionValid = true
		e.setPhase(Success)
		return []Action{
			DisarmTimer{Kind: timer.Biometric},
			ArmTimer{Kind: timer.Session, After: e.policy.SessionTimeout, Token: tok},
			NavigateTo{Route: RouteHome},
			e.event(EventAuthSuccess, now, map[string]string{"kind": e.state.BiometricKind.String()}),
		}, nil

	case biometric.ResultCancelled:
		e.release(slotAttempt)
		e.setPhase(Ready)
		return []Action{
			DisarmTimer{Kind: timer.Biometric},
			e.event(EventAuthCancelled, now, nil),
		}, nil
	}

	reason := out.Reason
	switch {
	case reason.CountsAsAttempt():
		res, err := e.ledger.RecordFailure()
		if err != nil && !errors.Is(err, ledger.ErrLocked) {
			return nil, err
		}
		e.release(slotAttempt)
		prefix := []Action{DisarmTimer{Kind: timer.Biometric}}
		if res.Locked {
			return e.enterLockout(res.EndsAt, now, prefix), nil
		}
		e.state.RemainingAttempts = res.Remaining
		e.setPhase(Ready)
		return append(prefix,
			ShowAlert{Alert: Alert{Kind: AlertAttemptsRemaining, Remaining: res.Remaining}},
			e.event(EventAuthFailure, now, map[string]string{
				"reason":    reason.String(),
				"remaining": strconv.FormatUint(uint64(res.Remaining), 10),
			}),
		), nil

	case reason.Unavailable():
		e.release(slotAttempt)
		e.setPhase(FallbackRequested)
		return []Action{
			DisarmTimer{Kind: timer.Biometric},
			ShowAlert{Alert: Alert{Kind: AlertUnavailable, Reason: reason}},
			e.event(EventUnavailable, now, map[string]string{"reason": reason.String()}),
		}, nil

	default:
		e.release(slotAttempt)
		e.setPhase(Failed)
		fields := map[string]string{"reason": reason.String()}
		if out.Err != nil {
			fields["error"] = out.Err.Error()
		}
		return []Action{
			DisarmTimer{Kind: timer.Biometric},
			ShowAlert{Alert: Alert{Kind: AlertFailed, Reason: reason}},
			e.event(EventAuthError, now, fields),
		}, nil
	}
}

func (e *Engine) onTimer(x timer.Expiry) ([]Action, error) {
	now := e.clock.Now()

	switch x.Kind {
	case timer.Biometric:
		if e.state.Phase != Authenticating || !e.isLive(slotAttempt, x.Token) {
			return e.stale(x), nil
		}
		e.release(slotAttempt)
		e.setPhase(Ready)
		return []Action{
			CancelAuth{Token: x.Token},
			ShowAlert{Alert: Alert{Kind: AlertTimedOut}},
			e.event(EventPromptTimeout, now, nil),
		}, nil

	case timer.Session:
		if !e.isLive(slotSession, x.Token) {
			return e.stale(x), nil
		}
		if err := e.ledger.ClearAuthenticated(); err != nil {
			return nil, err
		}
		e.release(slotSession)
		e.state.SessionValid = false
		e.state.LastAuthenticatedAt = time.Time{}

		// The session ends in every phase; only these leave for the
		// re-authentication screen.
		switch e.state.Phase {
		case Ready, Authenticating, Success:
		default:
			return []Action{e.event(EventSessionExpired, now, map[string]string{"phase": e.state.Phase.String()})}, nil
		}
		var actions []Action
		if tok, ok := e.live[slotAttempt]; ok {
			e.release(slotAttempt)
			actions = append(actions, CancelAuth{Token: tok}, DisarmTimer{Kind: timer.Biometric})
		}
		e.setPhase(SessionExpired)
		return append(actions,
			NavigateTo{Route: RouteReauth},
			ShowAlert{Alert: Alert{Kind: AlertSessionExpired}},
			e.event(EventSessionExpired, now, nil),
		), nil

	case timer.Lockout:
		if e.state.Phase != LockedOut || !e.isLive(slotLockout, x.Token) {
			return e.stale(x), nil
		}
		status, err := e.ledger.CurrentStatus(now)
		if err != nil {
			return nil, err
		}
		if status.Locked {
			// Fired before ends_at; wait for the rest.
			tok := e.take(slotLockout)
			e.state.LockoutEndsAt = status.EndsAt
			return []Action{ArmTimer{Kind: timer.Lockout, After: status.EndsAt.Sub(now), Token: tok}}, nil
		}
		e.release(slotLockout)
		e.state.LockoutEndsAt = time.Time{}
		e.state.RemainingAttempts = e.ledger.RemainingAttempts(status.AttemptsUsed)
		e.setPhase(Ready)
		return []Action{e.event(EventLockoutExpired, now, nil)}, nil
	}
	return nil, nil
}

func (e *Engine) stale(x timer.Expiry) []Action {
	e.log.Debug("discarding stale timer",
		zap.Stringer("kind", x.Kind),
		zap.Uint64("token", uint64(x.Token)))
	return nil
}

func (e *Engine) onLifecycle(sig lifecycle.Signal) ([]Action, error) {
	if sig.Away() {
		return e.invalidate(sig)
	}
	if sig != lifecycle.Foregrounded || !e.away {
		return nil, nil
	}
	e.away = false

	switch e.state.Phase {
	case Uninitialized, Cancelled:
		return nil, nil
	case FallbackRequested:
		if !e.state.BiometricKind.Supported() {
			return nil, nil
		}
	}

	now := e.clock.Now()
	status, err := e.ledger.CurrentStatus(now)
	if err != nil {
		e.away = true
		return nil, err
	}
	if status.Locked {
		return e.enterLockout(status.EndsAt, now, nil), nil
	}

	// Ready, then the automatic start_auth.
	e.state.LockoutEndsAt = time.Time{}
	e.setPhase(Ready)
	return e.attemptOrLockout(status, now, nil), nil
}

// invalidate ends the session immediately. The in-memory state is cleared
// before the mark is deleted from the store, so a storage failure still
// leaves the session invalid.
func (e *Engine) invalidate(sig lifecycle.Signal) ([]Action, error) {
	now := e.clock.Now()
	e.away = true

	actions := []Action{DisarmAllTimers{}}
	if tok, ok := e.live[slotAttempt]; ok {
		actions = append(actions, CancelAuth{Token: tok})
	}
	for s := range e.live {
		delete(e.live, s)
	}
	e.state.SessionValid = false
	e.state.LastAuthenticatedAt = time.Time{}

	actions = append(actions, e.event(EventSessionInvalidated, now, map[string]string{
		"signal": sig.String(),
		"phase":  e.state.Phase.String(),
	}))

	if err := e.ledger.ClearAuthenticated(); err != nil {
		return actions, err
	}
	return actions, nil
}

func (e *Engine) onUsePassword() []Action {
	switch e.state.Phase {
	case Ready, LockedOut, FallbackRequested, Failed, SessionExpired:
	default:
		return nil
	}
	now := e.clock.Now()
	from := e.state.Phase

	for s := range e.live {
		delete(e.live, s)
	}
	e.setPhase(Cancelled)
	return []Action{
		DisarmAllTimers{},
		NavigateTo{Route: RoutePasswordLogin},
		e.event(EventPasswordFallback, now, map[string]string{"from": from.String()}),
	}
}

// enterLockout moves to LockedOut and arms the expiry timer for the
// remaining wall-clock time.
func (e *Engine) enterLockout(endsAt, now time.Time, prefix []Action) []Action {
	tok := e.take(slotLockout)
	e.state.LockoutEndsAt = endsAt
	e.state.RemainingAttempts = 0
	e.setPhase(LockedOut)
	return append(prefix,
		ArmTimer{Kind: timer.Lockout, After: endsAt.Sub(now), Token: tok},
		ShowAlert{Alert: Alert{Kind: AlertLockedOut, Until: endsAt}},
		e.event(EventLockout, now, map[string]string{"until": endsAt.UTC().Format(time.RFC3339)}),
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) setPhase(p Phase) {
	if p == e.state.Phase {
		return
	}
	e.log.Debug("phase change",
		zap.Stringer("from", e.state.Phase),
		zap.Stringer("to", p),
		zap.Uint64("generation", e.state.Generation+1))
	e.state.Phase = p
	e.state.Generation++
}

// take assigns a fresh token to s.
func (e *Engine) take(s slot) timer.Token {
	e.nextToken++
	e.live[s] = e.nextToken
	return e.nextToken
}

func (e *Engine) release(s slot) { delete(e.live, s) }

func (e *Engine) isLive(s slot, tok timer.Token) bool {
	live, ok := e.live[s]
	return ok && live == tok
}

func (e *Engine) event(name string, at time.Time, fields map[string]string) LogSecurityEvent {
	return LogSecurityEvent{Event: name, At: at, Fields: fields}
}
