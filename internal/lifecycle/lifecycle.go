// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle observes foreground/background transitions of the host
// and delivers them to the engine.
//
// Transitions into Backgrounded or Inactive are delivered synchronously:
// the handler has returned before the source's delivery call returns, so the
// session is invalidated before the host continues.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Signal is a lifecycle state of the host.
type Signal int

const (
	// Foregrounded means the host is visible and interactive.
	Foregrounded Signal = iota
	// Backgrounded means the host was sent to the background.
	Backgrounded
	// Inactive means the host is visible but not interactive (screen lock,
	// task switcher).
	Inactive
)

// String returns a string representation of the Signal.
func (s Signal) String() string {
	switch s {
	case Foregrounded:
		return "foregrounded"
	case Backgrounded:
		return "backgrounded"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Away reports whether s hides the host from the user.
func (s Signal) Away() bool {
	return s == Backgrounded || s == Inactive
}

// ParseSignal parses the text form of a Signal. "foreground", "background"
// and "active" are accepted as aliases.
func ParseSignal(s string) (Signal, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foregrounded", "foreground", "active":
		return Foregrounded, nil
	case "backgrounded", "background":
		return Backgrounded, nil
	case "inactive":
		return Inactive, nil
	default:
		return 0, fmt.Errorf("unknown lifecycle signal %q", s)
	}
}

// ErrUnsupported is returned by sources that cannot run on this platform.
var ErrUnsupported = errors.New("lifecycle source not supported on this platform")

// Source delivers raw lifecycle signals. Subscribe registers fn and returns
// a function that removes it.
type Source interface {
	Subscribe(fn func(Signal)) (unsubscribe func(), err error)
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor turns raw signals into edges. Repeated identical signals are
// collapsed, and Foregrounded is forwarded only when it follows Backgrounded
// or Inactive.
type Monitor struct {
	src Source
	log *zap.Logger

	mu          sync.Mutex
	current     Signal
	handler     func(Signal)
	unsubscribe func()
}

// NewMonitor creates a monitor over src. The host starts in Foregrounded.
func NewMonitor(src Source, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{src: src, log: log.Named("lifecycle"), current: Foregrounded}
}

// Start subscribes to the source and forwards edges to handler.
func (m *Monitor) Start(handler func(Signal)) error {
	if handler == nil {
		return errors.New("lifecycle: handler is required")
	}

	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return errors.New("lifecycle: monitor already started")
	}
	m.handler = handler
	m.mu.Unlock()

	unsub, err := m.src.Subscribe(m.deliver)
	if err != nil {
		return fmt.Errorf("lifecycle: subscribe: %w", err)
	}

	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
	return nil
}

// Stop unsubscribes from the source. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.handler = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Current returns the last state seen.
func (m *Monitor) Current() Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// deliver holds the lock across the handler call so edges reach the
// handler in the order the source produced them.
func (m *Monitor) deliver(s Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == m.current {
		m.log.Debug("lifecycle signal collapsed", zap.Stringer("signal", s))
		return
	}
	prev := m.current
	m.current = s

	m.log.Info("lifecycle transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	if m.handler != nil {
		m.handler(s)
	}
}

// =============================================================================
// MANUAL SOURCE
// =============================================================================

// Manual is a Source driven by Emit. The terminal host uses it for simulated
// transitions and tests use it directly.
type Manual struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Signal)
}

// NewManual creates a manual source.
func NewManual() *Manual {
	return &Manual{subs: make(map[int]func(Signal))}
}

// Subscribe implements Source.
func (s *Manual) Subscribe(fn func(Signal)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// Emit delivers sig to every subscriber and returns after all of them have
// returned.
func (s *Manual) Emit(sig Signal) {
	s.mu.Lock()
	fns := make([]func(Signal), 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// =============================================================================
// MERGED SOURCE
// =============================================================================

type merged []Source

// Merge combines sources into one. Subscribe fails, and unwinds the
// subscriptions already made, if any source fails.
func Merge(sources ...Source) Source {
	return merged(sources)
}

// Subscribe implements Source.
func (ms merged) Subscribe(fn func(Signal)) (func(), error) {
	unsubs := make([]func(), 0, len(ms))
	unwind := func() {
		for _, u := range unsubs {
			u()
		}
	}
	for _, s := range ms {
		u, err := s.Subscribe(fn)
		if err != nil {
			unwind()
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	return unwind, nil
}
