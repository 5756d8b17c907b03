// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package biometric

import (
	"context"
	"sync/atomic"
)

// Scripted is a Capability whose outcomes are supplied by Push. Each
// Authenticate call takes the next outcome, waiting for one if none is
// queued. Used for demos and tests.
type Scripted struct {
	kind     Kind
	outcomes chan Outcome
	calls    atomic.Int64
	prompts  chan PromptSpec
}

// NewScripted creates a scripted capability reporting kind, with outcomes
// queued in order.
func NewScripted(kind Kind, outcomes ...Outcome) *Scripted {
	s := &Scripted{
		kind:     kind,
		outcomes: make(chan Outcome, 64),
		prompts:  make(chan PromptSpec, 64),
	}
	s.Push(outcomes...)
	return s
}

// Push queues outcomes.
func (s *Scripted) Push(outcomes ...Outcome) {
	for _, o := range outcomes {
		s.outcomes <- o
	}
}

// Calls returns how many times Authenticate was called.
func (s *Scripted) Calls() int { return int(s.calls.Load()) }

// Prompts receives the prompt of every Authenticate call.
func (s *Scripted) Prompts() <-chan PromptSpec { return s.prompts }

func (s *Scripted) Probe() Kind { return s.kind }

func (s *Scripted) Authenticate(ctx context.Context, prompt PromptSpec) Outcome {
	s.calls.Add(1)
	select {
	case s.prompts <- prompt:
	default:
	}

	if !s.kind.Supported() {
		return Failed(HardwareUnavailable)
	}
	select {
	case o := <-s.outcomes:
		return o
	case <-ctx.Done():
		return Cancelled()
	}
}
