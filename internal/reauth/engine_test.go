// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reauth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/store"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
)

var start = time.Date(2025, 5, 20, 8, 30, 0, 0, time.UTC)

func testPolicy() config.SecurityConfig {
	return config.SecurityConfig{
		MaxFailedAttempts:      3,
		LockoutDuration:        15 * time.Minute,
		SessionTimeout:         10 * time.Minute,
		BiometricPromptTimeout: 30 * time.Second,
	}
}

type harness struct {
	t      *testing.T
	eng    *Engine
	ledger *ledger.Ledger
	mem    *store.Memory
	faulty *store.Faulty
	clk    *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	faulty := store.NewFaulty(mem)
	clk := clock.NewManual(start)
	led, err := ledger.New(faulty, clk, testPolicy())
	require.NoError(t, err)
	eng, err := NewEngine(led, clk, testPolicy())
	require.NoError(t, err)
	return &harness{t: t, eng: eng, ledger: led, mem: mem, faulty: faulty, clk: clk}
}

func (h *harness) handle(ev Event) (EngineState, []Action) {
	h.t.Helper()
	st, actions, err := h.eng.Handle(ev)
	require.NoError(h.t, err, EventName(ev))
	return st, actions
}

func (h *harness) init() EngineState {
	h.t.Helper()
	st, _ := h.handle(Init{Kind: biometric.KindFingerprint})
	return st
}

// startAuth moves to Authenticating and returns the attempt token.
func (h *harness) startAuth() timer.Token {
	h.t.Helper()
	st, actions := h.handle(StartAuth{})
	require.Equal(h.t, Authenticating, st.Phase)
	auth, ok := find[Authenticate](actions)
	require.True(h.t, ok)
	return auth.Token
}

func (h *harness) complete(tok timer.Token, out biometric.Outcome) (EngineState, []Action) {
	h.t.Helper()
	return h.handle(AuthCompleted{Token: tok, Outcome: out})
}

func (h *harness) force(p Phase) {
	h.eng.state.Phase = p
}

func find[T Action](actions []Action) (T, bool) {
	for _, a := range actions {
		if v, ok := a.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func findTimer(actions []Action, kind timer.Kind) (ArmTimer, bool) {
	for _, a := range actions {
		if v, ok := a.(ArmTimer); ok && v.Kind == kind {
			return v, true
		}
	}
	return ArmTimer{}, false
}

func events(actions []Action) []string {
	var out []string
	for _, a := range actions {
		if le, ok := a.(LogSecurityEvent); ok {
			out = append(out, le.Event)
		}
	}
	return out
}

// =============================================================================
// INIT
// =============================================================================

func TestInit_Ready(t *testing.T) {
	h := newHarness(t)
	st, actions := h.handle(Init{Kind: biometric.KindFace})

	assert.Equal(t, Ready, st.Phase)
	assert.Equal(t, biometric.KindFace, st.BiometricKind)
	assert.Equal(t, uint32(3), st.RemainingAttempts)
	assert.False(t, st.SessionValid)
	assert.Empty(t, actions)
	assert.Equal(t, uint64(1), st.Generation)
}

func TestInit_Unsupported(t *testing.T) {
	h := newHarness(t)
	st, actions := h.handle(Init{Kind: biometric.KindUnsupported})

	assert.Equal(t, FallbackRequested, st.Phase)
	assert.Equal(t, biometric.KindUnsupported, st.BiometricKind)
	assert.Equal(t, []string{EventBiometricUnsupported}, events(actions))
}

func TestInit_Locked(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, err := h.ledger.RecordFailure()
		require.NoError(t, err)
	}
	h.clk.Advance(5 * time.Minute)

	st, actions := h.handle(Init{Kind: biometric.KindFingerprint})
	assert.Equal(t, LockedOut, st.Phase)
	assert.Equal(t, start.Add(15*time.Minute), st.LockoutEndsAt)
	assert.Zero(t, st.RemainingAttempts)

	arm, ok := findTimer(actions, timer.Lockout)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, arm.After)
	alert, ok := find[ShowAlert](actions)
	require.True(t, ok)
	assert.Equal(t, AlertLockedOut, alert.Alert.Kind)
}

func TestInit_ResumesFreshSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.MarkAuthenticated(start.Add(-4*time.Minute)))

	st, actions := h.handle(Init{Kind: biometric.KindFingerprint})
	assert.Equal(t, Ready, st.Phase)
	assert.True(t, st.SessionValid)
	assert.True(t, st.LastAuthenticatedAt.Equal(start.Add(-4*time.Minute)))

	arm, ok := findTimer(actions, timer.Session)
	require.True(t, ok)
	assert.Equal(t, 6*time.Minute, arm.After)
	nav, ok := find[NavigateTo](actions)
	require.True(t, ok)
	assert.Equal(t, RouteHome, nav.Route)
}

func TestInit_ClearsStaleSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.MarkAuthenticated(start.Add(-11*time.Minute)))

	st, actions := h.handle(Init{Kind: biometric.KindFingerprint})
	assert.Equal(t, Ready, st.Phase)
	assert.False(t, st.SessionValid)
	assert.Empty(t, actions)
	_, ok, _ := h.mem.Get(ledger.KeyLastAuth)
	assert.False(t, ok)
}

func TestInit_ClearsCorruptSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.Set(ledger.KeyLastAuth, []byte("yesterday")))

	st := h.init()
	assert.Equal(t, Ready, st.Phase)
	_, ok, _ := h.mem.Get(ledger.KeyLastAuth)
	assert.False(t, ok)
}

// =============================================================================
// ATTEMPTS AND LOCKOUT
// =============================================================================

func TestThresholdSequence(t *testing.T) {
	h := newHarness(t)
	h.init()
	limit := testPolicy().MaxFailedAttempts

	for i := uint32(1); i < limit; i++ {
		tok := h.startAuth()
		st, actions := h.complete(tok, biometric.Failed(biometric.NoMatch))
		assert.Equal(t, Ready, st.Phase, "failure %d", i)
		assert.Equal(t, limit-i, st.RemainingAttempts, "failure %d", i)

		alert, ok := find[ShowAlert](actions)
		require.True(t, ok)
		assert.Equal(t, Alert{Kind: AlertAttemptsRemaining, Remaining: limit - i}, alert.Alert)
	}

	h.clk.Advance(time.Second)
	now := h.clk.Now()
	tok := h.startAuth()
	st, actions := h.complete(tok, biometric.Failed(biometric.NoMatch))
	assert.Equal(t, LockedOut, st.Phase)
	assert.Equal(t, now.Add(15*time.Minute), st.LockoutEndsAt)
	assert.Equal(t, 15, st.MinutesRemaining(now))
	assert.Contains(t, events(actions), EventLockout)

	_, ok := find[DisarmTimer](actions)
	assert.True(t, ok)
}

func TestScenarioA_LockoutRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.init()
	for i := 0; i < 3; i++ {
		h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}
	st := h.eng.State()
	require.Equal(t, LockedOut, st.Phase)
	require.Equal(t, start.Add(15*time.Minute), st.LockoutEndsAt)

	h.clk.Advance(15*time.Minute + time.Second)
	status, err := h.ledger.CurrentStatus(h.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, ledger.Status{}, status)
	assert.Empty(t, h.mem.Keys())
}

func TestStartAuth_WhileLockedEntersLockout(t *testing.T) {
	h := newHarness(t)
	h.init()
	for i := 0; i < 3; i++ {
		_, err := h.ledger.RecordFailure()
		require.NoError(t, err)
	}

	st, actions := h.handle(StartAuth{})
	assert.Equal(t, LockedOut, st.Phase)
	_, ok := find[Authenticate](actions)
	assert.False(t, ok)
}

func TestLockoutTimer(t *testing.T) {
	h := newHarness(t)
	h.init()
	var actions []Action
	for i := 0; i < 3; i++ {
		_, actions = h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}
	arm, ok := findTimer(actions, timer.Lockout)
	require.True(t, ok)

	// Fired a minute early: re-armed for the remainder, still locked.
	h.clk.Advance(14 * time.Minute)
	st, actions := h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Lockout, Token: arm.Token}})
	assert.Equal(t, LockedOut, st.Phase)
	rearm, ok := findTimer(actions, timer.Lockout)
	require.True(t, ok)
	assert.Equal(t, time.Minute, rearm.After)
	assert.NotEqual(t, arm.Token, rearm.Token)

	// The old token is no longer live.
	h.clk.Advance(time.Minute)
	st, actions = h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Lockout, Token: arm.Token}})
	assert.Equal(t, LockedOut, st.Phase)
	assert.Empty(t, actions)

	st, actions = h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Lockout, Token: rearm.Token}})
	assert.Equal(t, Ready, st.Phase)
	assert.Equal(t, uint32(3), st.RemainingAttempts)
	assert.True(t, st.LockoutEndsAt.IsZero())
	assert.Equal(t, []string{EventLockoutExpired}, events(actions))
}

// =============================================================================
// AUTHENTICATION OUTCOMES
// =============================================================================

func TestSuccess(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))

	h.clk.Advance(2 * time.Second)
	st, actions := h.complete(h.startAuth(), biometric.Succeeded())

	assert.Equal(t, Success, st.Phase)
	assert.True(t, st.SessionValid)
	assert.Equal(t, h.clk.Now(), st.LastAuthenticatedAt)
	assert.Equal(t, uint32(3), st.RemainingAttempts)

	arm, ok := findTimer(actions, timer.Session)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, arm.After)
	nav, ok := find[NavigateTo](actions)
	require.True(t, ok)
	assert.Equal(t, RouteHome, nav.Route)

	_, ok, _ = h.mem.Get(ledger.KeyFailedAttempts)
	assert.False(t, ok)
	last, ok, err := h.ledger.LastAuthenticated()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(h.clk.Now()))
}

func TestCancelledDoesNotCount(t *testing.T) {
	h := newHarness(t)
	h.init()

	st, actions := h.complete(h.startAuth(), biometric.Cancelled())
	assert.Equal(t, Ready, st.Phase)
	assert.Equal(t, uint32(3), st.RemainingAttempts)
	assert.Equal(t, []string{EventAuthCancelled}, events(actions))
	assert.Empty(t, h.mem.Keys())
}

func TestScenarioC_NotEnrolledFallsBack(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	before, _, _ := h.mem.Get(ledger.KeyFailedAttempts)

	st, actions := h.complete(h.startAuth(), biometric.Failed(biometric.NotEnrolled))
	assert.Equal(t, FallbackRequested, st.Phase)
	after, _, _ := h.mem.Get(ledger.KeyFailedAttempts)
	assert.Equal(t, before, after)
	assert.Equal(t, "1", string(after))

	alert, ok := find[ShowAlert](actions)
	require.True(t, ok)
	assert.Equal(t, AlertUnavailable, alert.Alert.Kind)
	assert.Equal(t, biometric.NotEnrolled, alert.Alert.Reason)
}

func TestHardwareFailuresFallBack(t *testing.T) {
	for _, reason := range []biometric.FailureReason{biometric.HardwareUnavailable, biometric.HardwareLockedByOS} {
		h := newHarness(t)
		h.init()
		st, _ := h.complete(h.startAuth(), biometric.Failed(reason))
		assert.Equal(t, FallbackRequested, st.Phase, reason.String())
		assert.Empty(t, h.mem.Keys(), reason.String())
	}
}

func TestOtherFailure(t *testing.T) {
	h := newHarness(t)
	h.init()

	st, actions := h.complete(h.startAuth(), biometric.FailedWith(biometric.Other, errors.New("sensor dirty")))
	assert.Equal(t, Failed, st.Phase)
	assert.Empty(t, h.mem.Keys())
	le, ok := find[LogSecurityEvent](actions)
	require.True(t, ok)
	assert.Equal(t, "sensor dirty", le.Fields["error"])

	// Failed accepts a retry.
	h.startAuth()
}

func TestPromptTimeout(t *testing.T) {
	h := newHarness(t)
	h.init()

	_, actions := h.handle(StartAuth{})
	arm, ok := findTimer(actions, timer.Biometric)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, arm.After)

	st, actions := h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Biometric, Token: arm.Token}})
	assert.Equal(t, Ready, st.Phase)
	cancel, ok := find[CancelAuth](actions)
	require.True(t, ok)
	assert.Equal(t, arm.Token, cancel.Token)
	alert, _ := find[ShowAlert](actions)
	assert.Equal(t, AlertTimedOut, alert.Alert.Kind)

	// The late result of the timed-out attempt is ignored.
	st, actions = h.complete(arm.Token, biometric.Failed(biometric.NoMatch))
	assert.Equal(t, Ready, st.Phase)
	assert.Empty(t, actions)
	assert.Empty(t, h.mem.Keys())
}

func TestStaleTimerRejected(t *testing.T) {
	h := newHarness(t)
	h.init()

	first := h.startAuth()
	h.complete(first, biometric.Cancelled())
	second := h.startAuth()
	before := h.eng.State()

	st, actions := h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Biometric, Token: first}})
	assert.Equal(t, before, st)
	assert.Empty(t, actions)

	st, _ = h.complete(second, biometric.Succeeded())
	assert.Equal(t, Success, st.Phase)
}

// =============================================================================
// SESSION
// =============================================================================

func TestSessionTimeout_FromSuccess(t *testing.T) {
	h := newHarness(t)
	h.init()
	_, actions := h.complete(h.startAuth(), biometric.Succeeded())
	arm, _ := findTimer(actions, timer.Session)

	h.clk.Advance(10 * time.Minute)
	st, actions := h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Session, Token: arm.Token}})
	assert.Equal(t, SessionExpired, st.Phase)
	assert.False(t, st.SessionValid)
	assert.True(t, st.LastAuthenticatedAt.IsZero())

	nav, ok := find[NavigateTo](actions)
	require.True(t, ok)
	assert.Equal(t, RouteReauth, nav.Route)
	_, ok, _ = h.mem.Get(ledger.KeyLastAuth)
	assert.False(t, ok)

	// Re-authentication is forced from SessionExpired.
	h.startAuth()
}

func TestSessionTimeout_CancelsAttempt(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.MarkAuthenticated(start))
	_, actions := h.handle(Init{Kind: biometric.KindFingerprint})
	arm, ok := findTimer(actions, timer.Session)
	require.True(t, ok)

	tok := h.startAuth()
	st, actions := h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Session, Token: arm.Token}})
	assert.Equal(t, SessionExpired, st.Phase)
	cancel, ok := find[CancelAuth](actions)
	require.True(t, ok)
	assert.Equal(t, tok, cancel.Token)

	st, actions = h.complete(tok, biometric.Succeeded())
	assert.Equal(t, SessionExpired, st.Phase)
	assert.Empty(t, actions)
}

func TestSessionTimeout_WhileLockedOut(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.MarkAuthenticated(start.Add(-time.Minute)))
	st, actions := h.handle(Init{Kind: biometric.KindFingerprint})
	require.True(t, st.SessionValid)
	arm, ok := findTimer(actions, timer.Session)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		st, actions = h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}
	require.Equal(t, LockedOut, st.Phase)
	lock, ok := findTimer(actions, timer.Lockout)
	require.True(t, ok)

	h.clk.Advance(9 * time.Minute)
	st, actions = h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Session, Token: arm.Token}})
	assert.Equal(t, LockedOut, st.Phase)
	assert.False(t, st.SessionValid)
	assert.True(t, st.LastAuthenticatedAt.IsZero())
	_, ok = find[NavigateTo](actions)
	assert.False(t, ok)
	ev, ok := find[LogSecurityEvent](actions)
	require.True(t, ok)
	assert.Equal(t, EventSessionExpired, ev.Event)

	_, ok, err := h.mem.Get(ledger.KeyLastAuth)
	require.NoError(t, err)
	assert.False(t, ok)

	// A second firing of the same token is stale.
	_, actions = h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Session, Token: arm.Token}})
	assert.Empty(t, actions)

	// The lockout ends into Ready without a session.
	h.clk.Advance(7 * time.Minute)
	st, _ = h.handle(TimerFired{Expiry: timer.Expiry{Kind: timer.Lockout, Token: lock.Token}})
	assert.Equal(t, Ready, st.Phase)
	assert.False(t, st.SessionValid)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestBackgroundingClearsSessionInEveryPhase(t *testing.T) {
	for _, p := range Phases {
		for _, sig := range []lifecycle.Signal{lifecycle.Backgrounded, lifecycle.Inactive} {
			t.Run(p.String()+"/"+sig.String(), func(t *testing.T) {
				h := newHarness(t)
				require.NoError(t, h.ledger.MarkAuthenticated(start))
				h.force(p)
				h.eng.state.SessionValid = true
				h.eng.state.LastAuthenticatedAt = start

				st, actions := h.handle(LifecycleChanged{Signal: sig})
				assert.Equal(t, p, st.Phase)
				assert.False(t, st.SessionValid)
				assert.True(t, st.LastAuthenticatedAt.IsZero())
				_, ok, _ := h.mem.Get(ledger.KeyLastAuth)
				assert.False(t, ok)
				_, ok = find[DisarmAllTimers](actions)
				assert.True(t, ok)
			})
		}
	}
}

func TestBackgroundingCancelsAttempt(t *testing.T) {
	h := newHarness(t)
	h.init()
	tok := h.startAuth()

	_, actions := h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	cancel, ok := find[CancelAuth](actions)
	require.True(t, ok)
	assert.Equal(t, tok, cancel.Token)

	st, actions := h.complete(tok, biometric.Succeeded())
	assert.Equal(t, Authenticating, st.Phase)
	assert.Empty(t, actions)
}

func TestScenarioB_ForegroundRestartsAuth(t *testing.T) {
	h := newHarness(t)
	h.init()

	h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})

	assert.Equal(t, Authenticating, st.Phase)
	_, ok := find[Authenticate](actions)
	assert.True(t, ok)
	_, ok = findTimer(actions, timer.Biometric)
	assert.True(t, ok)
}

func TestForeground_FromSuccessForcesReauth(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.complete(h.startAuth(), biometric.Succeeded())

	h.handle(LifecycleChanged{Signal: lifecycle.Inactive})
	st, _ := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
	assert.Equal(t, Authenticating, st.Phase)
	assert.False(t, st.SessionValid)
}

func TestForeground_WhileLocked(t *testing.T) {
	h := newHarness(t)
	h.init()
	for i := 0; i < 3; i++ {
		h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}

	h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	h.clk.Advance(7 * time.Minute)
	st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})

	assert.Equal(t, LockedOut, st.Phase)
	assert.Equal(t, start.Add(15*time.Minute), st.LockoutEndsAt)
	arm, ok := findTimer(actions, timer.Lockout)
	require.True(t, ok)
	assert.Equal(t, 8*time.Minute, arm.After)
	assert.Equal(t, 8, st.MinutesRemaining(h.clk.Now()))
}

func TestForeground_AfterLockoutExpiredInBackground(t *testing.T) {
	h := newHarness(t)
	h.init()
	for i := 0; i < 3; i++ {
		h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}
	h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	h.clk.Advance(time.Hour)

	st, _ := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
	assert.Equal(t, Authenticating, st.Phase)
	assert.Equal(t, uint32(3), st.RemainingAttempts)
}

func TestForeground_Ignored(t *testing.T) {
	t.Run("uninitialized", func(t *testing.T) {
		h := newHarness(t)
		h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
		st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
		assert.Equal(t, Uninitialized, st.Phase)
		assert.Empty(t, actions)
	})
	t.Run("cancelled", func(t *testing.T) {
		h := newHarness(t)
		h.init()
		h.handle(UsePassword{})
		h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
		st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
		assert.Equal(t, Cancelled, st.Phase)
		assert.Empty(t, actions)
	})
	t.Run("unsupported", func(t *testing.T) {
		h := newHarness(t)
		h.handle(Init{Kind: biometric.KindUnsupported})
		h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
		st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
		assert.Equal(t, FallbackRequested, st.Phase)
		assert.Empty(t, actions)
	})
	t.Run("not an edge", func(t *testing.T) {
		h := newHarness(t)
		h.init()
		st, actions := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
		assert.Equal(t, Ready, st.Phase)
		assert.Empty(t, actions)
	})
}

func TestForeground_FallbackWithSupportedKindRetries(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.complete(h.startAuth(), biometric.Failed(biometric.HardwareLockedByOS))

	h.handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	st, _ := h.handle(LifecycleChanged{Signal: lifecycle.Foregrounded})
	assert.Equal(t, Authenticating, st.Phase)
}

// =============================================================================
// PASSWORD FALLBACK
// =============================================================================

func TestUsePassword(t *testing.T) {
	for _, p := range []Phase{Ready, LockedOut, FallbackRequested, Failed, SessionExpired} {
		t.Run(p.String(), func(t *testing.T) {
			h := newHarness(t)
			h.force(p)
			st, actions := h.handle(UsePassword{})
			assert.Equal(t, Cancelled, st.Phase)

			nav, ok := find[NavigateTo](actions)
			require.True(t, ok)
			assert.Equal(t, RoutePasswordLogin, nav.Route)
			le, ok := find[LogSecurityEvent](actions)
			require.True(t, ok)
			assert.Equal(t, EventPasswordFallback, le.Event)
			assert.Equal(t, p.String(), le.Fields["from"])
		})
	}
}

func TestUsePassword_KeepsLockout(t *testing.T) {
	h := newHarness(t)
	h.init()
	for i := 0; i < 3; i++ {
		h.complete(h.startAuth(), biometric.Failed(biometric.NoMatch))
	}
	h.handle(UsePassword{})

	status, err := h.ledger.CurrentStatus(h.clk.Now())
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

// =============================================================================
// TOTALITY
// =============================================================================

func TestUnlistedPairsAreNoops(t *testing.T) {
	type pair struct {
		phase Phase
		ev    Event
	}
	var pairs []pair

	for _, p := range Phases {
		if p != Uninitialized {
			pairs = append(pairs, pair{p, Init{Kind: biometric.KindFingerprint}})
		}
		if p != Authenticating {
			pairs = append(pairs, pair{p, AuthCompleted{Token: 99, Outcome: biometric.Succeeded()}})
		}
		for _, k := range timer.Kinds {
			pairs = append(pairs, pair{p, TimerFired{Expiry: timer.Expiry{Kind: k, Token: 99}}})
		}
		pairs = append(pairs, pair{p, LifecycleChanged{Signal: lifecycle.Foregrounded}})
	}
	for _, p := range []Phase{Uninitialized, Authenticating, Success, LockedOut, FallbackRequested, Cancelled} {
		pairs = append(pairs, pair{p, StartAuth{}})
	}
	for _, p := range []Phase{Uninitialized, Authenticating, Success, Cancelled} {
		pairs = append(pairs, pair{p, UsePassword{}})
	}
	pairs = append(pairs, pair{Authenticating, AuthCompleted{Token: 99, Outcome: biometric.Failed(biometric.NoMatch)}})

	for _, tc := range pairs {
		t.Run(tc.phase.String()+"/"+EventName(tc.ev), func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.mem.Set(ledger.KeyFailedAttempts, []byte("1")))
			h.force(tc.phase)
			before := h.eng.State()
			stored := h.mem.Snapshot()

			st, actions := h.handle(tc.ev)
			assert.Equal(t, before, st)
			assert.Empty(t, actions)
			assert.Equal(t, stored, h.mem.Snapshot())
		})
	}
}

// =============================================================================
// STORAGE ERRORS
// =============================================================================

func TestStorageErrorKeepsPhase(t *testing.T) {
	h := newHarness(t)
	h.init()
	tok := h.startAuth()
	before := h.eng.State()

	h.faulty.FailOn("set", ledger.KeyFailedAttempts, errors.New("disk full"))
	st, actions, err := h.eng.Handle(AuthCompleted{Token: tok, Outcome: biometric.Failed(biometric.NoMatch)})
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.Equal(t, before, st)
	assert.Empty(t, actions)

	// The attempt is still live; once storage recovers it completes.
	h.faulty.Heal()
	st, _ = h.complete(tok, biometric.Failed(biometric.NoMatch))
	assert.Equal(t, Ready, st.Phase)
	assert.Equal(t, uint32(2), st.RemainingAttempts)
}

func TestStorageErrorOnStartAuth(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.faulty.FailOn("get", "", errors.New("io"))

	st, actions, err := h.eng.Handle(StartAuth{})
	require.Error(t, err)
	assert.Equal(t, Ready, st.Phase)
	assert.Empty(t, actions)
}

func TestStorageErrorOnInit(t *testing.T) {
	h := newHarness(t)
	h.faulty.FailOn("get", ledger.KeyLockout, errors.New("io"))

	st, _, err := h.eng.Handle(Init{Kind: biometric.KindFingerprint})
	require.Error(t, err)
	assert.Equal(t, Uninitialized, st.Phase)

	h.faulty.Heal()
	assert.Equal(t, Ready, h.init().Phase)
}

func TestBackgroundingWithStorageErrorStillInvalidates(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.complete(h.startAuth(), biometric.Succeeded())
	h.faulty.FailOn("delete", ledger.KeyLastAuth, errors.New("io"))

	st, actions, err := h.eng.Handle(LifecycleChanged{Signal: lifecycle.Backgrounded})
	require.Error(t, err)
	assert.Equal(t, Success, st.Phase)
	assert.False(t, st.SessionValid)
	_, ok := find[DisarmAllTimers](actions)
	assert.True(t, ok)
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func TestMinutesRemaining(t *testing.T) {
	ends := start.Add(15 * time.Minute)
	locked := EngineState{Phase: LockedOut, LockoutEndsAt: ends}

	tests := []struct {
		now  time.Time
		want int
	}{
		{start, 15},
		{start.Add(59 * time.Second), 15},
		{start.Add(time.Minute), 14},
		{ends.Add(-30 * time.Second), 1},
		{ends.Add(-time.Nanosecond), 1},
		{ends, 1},
		{ends.Add(time.Hour), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, locked.MinutesRemaining(tt.now), tt.now.Sub(start).String())
	}
	assert.Zero(t, EngineState{Phase: Ready}.MinutesRemaining(start))
}

func TestGenerationIncrementsOnPhaseChange(t *testing.T) {
	h := newHarness(t)
	g0 := h.eng.State().Generation
	h.init()
	tok := h.startAuth()
	st, _ := h.complete(tok, biometric.Cancelled())
	assert.Equal(t, g0+3, st.Generation)

	// A no-op leaves it alone.
	st, _ = h.handle(UsePassword{})
	st2, _ := h.handle(UsePassword{})
	assert.Equal(t, st.Generation, st2.Generation)
}

func TestAlertMessages(t *testing.T) {
	now := start
	assert.Equal(t, "Not recognized. 2 attempts remaining.", Alert{Kind: AlertAttemptsRemaining, Remaining: 2}.Message(now))
	assert.Equal(t, "Not recognized. 1 attempt remaining.", Alert{Kind: AlertAttemptsRemaining, Remaining: 1}.Message(now))
	assert.Equal(t, "Too many failed attempts. Try again in 15 minutes.",
		Alert{Kind: AlertLockedOut, Until: now.Add(15 * time.Minute)}.Message(now))
	assert.Equal(t, "Too many failed attempts. Try again in 1 minute.",
		Alert{Kind: AlertLockedOut, Until: now.Add(10 * time.Second)}.Message(now))
	assert.Contains(t, Alert{Kind: AlertUnavailable, Reason: biometric.NotEnrolled}.Message(now), "enrolled")
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, nil, testPolicy())
	require.Error(t, err)

	led, err := ledger.New(store.NewMemory(), nil, testPolicy())
	require.NoError(t, err)
	bad := testPolicy()
	bad.SessionTimeout = 0
	_, err = NewEngine(led, nil, bad)
	require.Error(t, err)
}
