// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock supplies wall-clock time and scheduling to the
// re-authentication components.
//
// Every duration the engine computes (lockout remaining, session
// freshness, timer deadlines) goes through a Clock so tests can drive
// time explicitly with Manual.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback
	// already ran or was already stopped.
	Stop() bool
}

// Clock is the time source used everywhere durations are computed.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// =============================================================================
// SYSTEM CLOCK
// =============================================================================

type system struct{}

// System returns the process wall clock.
func System() Clock { return system{} }

func (system) Now() time.Time { return time.Now() }

func (system) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// =============================================================================
// MANUAL CLOCK
// =============================================================================

// Manual is a Clock whose time only moves when Advance or Set is called.
// Callbacks due at or before the new time run synchronously inside
// Advance, in deadline order, outside the clock's lock.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	c        *Manual
	seq      uint64
	deadline time.Time
	f        func()
	done     bool
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{c: m, seq: m.seq, deadline: m.now.Add(d), f: f}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d and fires every due callback.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t and fires every due callback. Moving
// backwards is allowed and fires nothing.
func (m *Manual) Set(t time.Time) {
	for {
		m.mu.Lock()
		next := m.nextDueLocked(t)
		if next == nil {
			m.now = t
			m.mu.Unlock()
			return
		}
		if next.deadline.After(m.now) {
			m.now = next.deadline
		}
		next.done = true
		m.removeLocked(next)
		f := next.f
		m.mu.Unlock()

		f()
	}
}

// Pending reports how many callbacks are still scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manual) nextDueLocked(limit time.Time) *manualTimer {
	if len(m.pending) == 0 {
		return nil
	}
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].deadline.Equal(m.pending[j].deadline) {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].deadline.Before(m.pending[j].deadline)
	})
	if m.pending[0].deadline.After(limit) {
		return nil
	}
	return m.pending[0]
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, p := range m.pending {
		if p == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.c.removeLocked(t)
	return true
}
