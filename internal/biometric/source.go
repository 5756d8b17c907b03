// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package biometric

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/peterh/liner"
)

// =============================================================================
// CHANNEL SOURCE
// =============================================================================

// ChannelSource hands prompts to an interactive host and waits for it to
// answer. The terminal UI reads Prompts, renders an input and calls Answer
// or Cancel.
type ChannelSource struct {
	prompts chan PromptSpec

	mu      sync.Mutex
	waiting chan reply
}

type reply struct {
	code      string
	cancelled bool
}

// NewChannelSource creates a channel-backed code source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{prompts: make(chan PromptSpec, 1)}
}

// Prompts delivers a PromptSpec each time a code is requested.
func (s *ChannelSource) Prompts() <-chan PromptSpec { return s.prompts }

// ReadCode implements CodeSource. Only one prompt may be active.
func (s *ChannelSource) ReadCode(ctx context.Context, prompt PromptSpec) (string, error) {
	w := make(chan reply, 1)

	s.mu.Lock()
	if s.waiting != nil {
		s.mu.Unlock()
		return "", ErrPromptBusy
	}
	s.waiting = w
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.waiting == w {
			s.waiting = nil
		}
		s.mu.Unlock()
	}()

	select {
	case s.prompts <- prompt:
	default:
		// A stale prompt nobody read is still queued; the host shows it.
	}

	select {
	case r := <-w:
		if r.cancelled {
			return "", ErrPromptCancelled
		}
		return r.code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Answer completes the active prompt with code. It reports false when no
// prompt is active.
func (s *ChannelSource) Answer(code string) bool {
	return s.complete(reply{code: code})
}

// Cancel dismisses the active prompt.
func (s *ChannelSource) Cancel() bool {
	return s.complete(reply{cancelled: true})
}

// Active reports whether a prompt is waiting for an answer.
func (s *ChannelSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting != nil
}

func (s *ChannelSource) complete(r reply) bool {
	s.mu.Lock()
	w := s.waiting
	s.waiting = nil
	s.mu.Unlock()

	if w == nil {
		return false
	}
	w <- r
	return true
}

// =============================================================================
// LINER SOURCE
// =============================================================================

// LinerSource prompts for the code on the controlling terminal with echo
// disabled. It backs the headless unlock command.
type LinerSource struct {
	mu sync.Mutex
}

// NewLinerSource creates a terminal code source.
func NewLinerSource() *LinerSource {
	return &LinerSource{}
}

// ReadCode implements CodeSource. liner cannot be interrupted, so a
// cancelled ctx returns immediately and the pending read is abandoned.
func (s *LinerSource) ReadCode(ctx context.Context, prompt PromptSpec) (string, error) {
	if !s.mu.TryLock() {
		return "", ErrPromptBusy
	}

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer s.mu.Unlock()

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		label := prompt.Title
		if prompt.Subtitle != "" {
			label += " (" + prompt.Subtitle + ")"
		}
		code, err := line.PasswordPrompt(label + ": ")
		done <- result{code: code, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			return r.code, nil
		case errors.Is(r.err, liner.ErrPromptAborted), errors.Is(r.err, io.EOF):
			return "", ErrPromptCancelled
		case errors.Is(r.err, liner.ErrNotTerminalOutput):
			return "", ErrNoTerminal
		default:
			return "", r.err
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
