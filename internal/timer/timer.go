// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timer owns the engine's countdowns: the session timeout, the
// biometric prompt timeout and the lockout expiry.
//
// There is at most one pending timer per Kind. Arming a kind cancels the
// previous timer of that kind. Every timer carries the token it was armed
// with, and its callback runs at most once.
package timer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/clock"
)

// Kind identifies a timer slot.
type Kind int

const (
	// Session expires a successful authentication.
	Session Kind = iota
	// Biometric bounds an in-flight authentication prompt.
	Biometric
	// Lockout ends a lockout.
	Lockout
)

// Kinds lists every slot.
var Kinds = []Kind{Session, Biometric, Lockout}

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case Session:
		return "session"
	case Biometric:
		return "biometric"
	case Lockout:
		return "lockout"
	default:
		return "unknown"
	}
}

// Token is a generation token. Tokens are compared for equality only.
type Token uint64

// Expiry is delivered when a timer fires.
type Expiry struct {
	Kind  Kind
	Token Token
}

type pending struct {
	token    Token
	deadline time.Time
	t        clock.Timer
}

// Timers holds one slot per Kind.
type Timers struct {
	clock clock.Clock
	log   *zap.Logger

	mu    sync.Mutex
	slots map[Kind]*pending
}

// New creates an empty set of timers scheduled against c.
func New(c clock.Clock, log *zap.Logger) *Timers {
	if c == nil {
		c = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Timers{
		clock: c,
		log:   log.Named("timer"),
		slots: make(map[Kind]*pending),
	}
}

// Arm schedules fn to run once after d, replacing any pending timer of the
// same kind. A non-positive d fires on the next clock tick.
func (s *Timers) Arm(kind Kind, d time.Duration, token Token, fn func(Expiry)) {
	if d < 0 {
		d = 0
	}

	p := &pending{token: token, deadline: s.clock.Now().Add(d)}

	s.mu.Lock()
	if old := s.slots[kind]; old != nil {
		old.t.Stop()
	}
	s.slots[kind] = p
	p.t = s.clock.AfterFunc(d, func() { s.fire(kind, p, fn) })
	s.mu.Unlock()

	s.log.Debug("timer armed",
		zap.Stringer("kind", kind),
		zap.Uint64("token", uint64(token)),
		zap.Duration("after", d))
}

// fire runs fn only if p is still the live timer for kind. A timer that
// was disarmed or replaced while its callback was already scheduled is
// dropped here.
func (s *Timers) fire(kind Kind, p *pending, fn func(Expiry)) {
	s.mu.Lock()
	if s.slots[kind] != p {
		s.mu.Unlock()
		return
	}
	delete(s.slots, kind)
	s.mu.Unlock()

	s.log.Debug("timer fired", zap.Stringer("kind", kind), zap.Uint64("token", uint64(p.token)))
	fn(Expiry{Kind: kind, Token: p.token})
}

// Disarm cancels the pending timer of kind. It reports whether a timer was
// pending; after the timer fired it is a no-op.
func (s *Timers) Disarm(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.slots[kind]
	if p == nil {
		return false
	}
	p.t.Stop()
	delete(s.slots, kind)
	return true
}

// DisarmAll cancels every pending timer.
func (s *Timers) DisarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, p := range s.slots {
		p.t.Stop()
		delete(s.slots, kind)
	}
}

// Armed returns the token and deadline of the pending timer of kind.
func (s *Timers) Armed(kind Kind) (Token, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.slots[kind]
	if p == nil {
		return 0, time.Time{}, false
	}
	return p.token, p.deadline, true
}
