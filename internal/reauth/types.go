// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reauth

import (
	"fmt"
	"time"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the engine's position in the re-authentication state machine.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Authenticating
	Success
	Failed
	LockedOut
	FallbackRequested
	// Cancelled is terminal: the user chose the password flow.
	Cancelled
	SessionExpired
)

// Phases lists every phase.
var Phases = []Phase{
	Uninitialized, Ready, Authenticating, Success, Failed,
	LockedOut, FallbackRequested, Cancelled, SessionExpired,
}

// String returns a string representation of the Phase.
func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Authenticating:
		return "authenticating"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case LockedOut:
		return "locked out"
	case FallbackRequested:
		return "fallback requested"
	case Cancelled:
		return "cancelled"
	case SessionExpired:
		return "session expired"
	default:
		return "unknown"
	}
}

// =============================================================================
// STATE
// =============================================================================

// EngineState is the snapshot published after every transition.
// Zero times mean "none".
type EngineState struct {
	Phase               Phase
	BiometricKind       biometric.Kind
	RemainingAttempts   uint32
	LockoutEndsAt       time.Time
	LastAuthenticatedAt time.Time
	SessionValid        bool
	// Generation increases on every phase change.
	Generation uint64
}

// Locked reports whether the snapshot shows an active lockout.
func (s EngineState) Locked() bool {
	return s.Phase == LockedOut && !s.LockoutEndsAt.IsZero()
}

// MinutesRemaining is the lockout countdown shown to the user:
// ceil((ends_at - now) / 1m), never less than 1 while locked. It is 0 when
// not locked.
func (s EngineState) MinutesRemaining(now time.Time) int {
	if !s.Locked() {
		return 0
	}
	d := s.LockoutEndsAt.Sub(now)
	if d <= 0 {
		return 1
	}
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is an input to the engine.
type Event interface {
	event()
}

// Init is the first event. Kind is the result of probing the capability.
type Init struct {
	Kind biometric.Kind
}

// StartAuth asks for a biometric prompt.
type StartAuth struct{}

// AuthCompleted carries the result of an Authenticate command.
type AuthCompleted struct {
	Token   timer.Token
	Outcome biometric.Outcome
}

// TimerFired carries a timer expiry.
type TimerFired struct {
	Expiry timer.Expiry
}

// LifecycleChanged carries a lifecycle transition.
type LifecycleChanged struct {
	Signal lifecycle.Signal
}

// UsePassword hands off to the password flow.
type UsePassword struct{}

func (Init) event()             {}
func (StartAuth) event()        {}
func (AuthCompleted) event()    {}
func (TimerFired) event()       {}
func (LifecycleChanged) event() {}
func (UsePassword) event()      {}

// EventName returns a short name for logging.
func EventName(ev Event) string {
	switch e := ev.(type) {
	case Init:
		return "init"
	case StartAuth:
		return "start_auth"
	case AuthCompleted:
		return "auth_completed(" + e.Outcome.String() + ")"
	case TimerFired:
		return e.Expiry.Kind.String() + "_timeout"
	case LifecycleChanged:
		return e.Signal.String()
	case UsePassword:
		return "use_password"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// =============================================================================
// ACTIONS
// =============================================================================

// Action is an output of a transition. Commands are executed by the
// Runner; every other action is for the host.
type Action interface {
	action()
}

// Command is an Action the Runner executes itself.
type Command interface {
	Action
	command()
}

// Route is a navigation target owned by the host.
type Route int

const (
	RouteHome Route = iota
	RoutePasswordLogin
	RouteReauth
)

// String returns a string representation of the Route.
func (r Route) String() string {
	switch r {
	case RouteHome:
		return "home"
	case RoutePasswordLogin:
		return "password_login"
	case RouteReauth:
		return "reauth"
	default:
		return "unknown"
	}
}

// AlertKind classifies ShowAlert.
type AlertKind int

const (
	AlertAttemptsRemaining AlertKind = iota
	AlertLockedOut
	AlertTimedOut
	AlertUnavailable
	AlertFailed
	AlertSessionExpired
)

// String returns a string representation of the AlertKind.
func (k AlertKind) String() string {
	switch k {
	case AlertAttemptsRemaining:
		return "attempts_remaining"
	case AlertLockedOut:
		return "locked_out"
	case AlertTimedOut:
		return "timed_out"
	case AlertUnavailable:
		return "unavailable"
	case AlertFailed:
		return "failed"
	case AlertSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Alert is what ShowAlert asks the host to display.
type Alert struct {
	Kind      AlertKind
	Remaining uint32                  // AlertAttemptsRemaining
	Until     time.Time               // AlertLockedOut
	Reason    biometric.FailureReason // AlertUnavailable, AlertFailed
}

// Message renders the alert for a terminal. The lockout countdown is
// computed from now, not from the alert.
func (a Alert) Message(now time.Time) string {
	switch a.Kind {
	case AlertAttemptsRemaining:
		if a.Remaining == 1 {
			return "Not recognized. 1 attempt remaining."
		}
		return fmt.Sprintf("Not recognized. %d attempts remaining.", a.Remaining)
	case AlertLockedOut:
		m := EngineState{Phase: LockedOut, LockoutEndsAt: a.Until}.MinutesRemaining(now)
		unit := "minutes"
		if m == 1 {
			unit = "minute"
		}
		return fmt.Sprintf("Too many failed attempts. Try again in %d %s.", m, unit)
	case AlertTimedOut:
		return "Authentication timed out. Try again."
	case AlertUnavailable:
		switch a.Reason {
		case biometric.NotEnrolled:
			return "No biometric enrolled. Use your password."
		case biometric.HardwareLockedByOS:
			return "Biometric is locked by the system. Use your password."
		default:
			return "Biometric unavailable. Use your password."
		}
	case AlertFailed:
		return "Authentication failed. Try again."
	case AlertSessionExpired:
		return "Your session expired. Authenticate to continue."
	default:
		return ""
	}
}

// NavigateTo asks the host to show a route.
type NavigateTo struct {
	Route Route
}

// ShowAlert asks the host to display an alert.
type ShowAlert struct {
	Alert Alert
}

// LogSecurityEvent records a security-relevant transition.
type LogSecurityEvent struct {
	Event  string
	At     time.Time
	Fields map[string]string
}

// Authenticate starts the capability with a token.
type Authenticate struct {
	Token  timer.Token
	Prompt biometric.PromptSpec
}

// ArmTimer arms a timer slot.
type ArmTimer struct {
	Kind  timer.Kind
	After time.Duration
	Token timer.Token
}

// DisarmTimer disarms one slot.
type DisarmTimer struct {
	Kind timer.Kind
}

// DisarmAllTimers disarms every slot.
type DisarmAllTimers struct{}

// CancelAuth cancels the in-flight authentication with Token.
type CancelAuth struct {
	Token timer.Token
}

func (NavigateTo) action()       {}
func (ShowAlert) action()        {}
func (LogSecurityEvent) action() {}
func (Authenticate) action()     {}
func (ArmTimer) action()         {}
func (DisarmTimer) action()      {}
func (DisarmAllTimers) action()  {}
func (CancelAuth) action()       {}

func (Authenticate) command()    {}
func (ArmTimer) command()        {}
func (DisarmTimer) command()     {}
func (DisarmAllTimers) command() {}
func (CancelAuth) command()      {}

// Security event names.
const (
	EventBiometricUnsupported = "BIOMETRIC_UNSUPPORTED"
	EventPrompt               = "BIOMETRIC_PROMPT"
	EventAuthSuccess          = "BIOMETRIC_AUTH_SUCCESS"
	EventAuthFailure          = "BIOMETRIC_AUTH_FAILURE"
	EventAuthError            = "BIOMETRIC_AUTH_ERROR"
	EventAuthCancelled        = "BIOMETRIC_AUTH_CANCELLED"
	EventUnavailable          = "BIOMETRIC_UNAVAILABLE"
	EventPromptTimeout        = "BIOMETRIC_PROMPT_TIMEOUT"
	EventLockout              = "BIOMETRIC_LOCKOUT"
	EventLockoutExpired       = "LOCKOUT_EXPIRED"
	EventSessionResumed       = "SESSION_RESUMED"
	EventSessionExpired       = "SESSION_EXPIRED"
	EventSessionInvalidated   = "SESSION_INVALIDATED"
	EventPasswordFallback     = "PASSWORD_FALLBACK"
)
