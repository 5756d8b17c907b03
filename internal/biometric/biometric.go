// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package biometric defines the proof-of-presence capability the engine
// calls, and the capabilities shipped with bioreauth.
//
// The engine trusts a capability as a black box: it reports a kind when
// probed, and an authentication ends in success, a classified failure or a
// cancellation.
package biometric

import (
	"context"
	"errors"
)

// Kind is the kind of proof a capability collects.
type Kind int

const (
	// KindUnsupported means no capability is available.
	KindUnsupported Kind = iota
	KindFingerprint
	KindFace
	KindIris
	// KindCode is a time-based one-time code from an enrolled authenticator.
	KindCode
)

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindFingerprint:
		return "fingerprint"
	case KindFace:
		return "face"
	case KindIris:
		return "iris"
	case KindCode:
		return "authenticator code"
	default:
		return "unknown"
	}
}

// Supported reports whether k can be used to authenticate.
func (k Kind) Supported() bool {
	return k != KindUnsupported
}

// FailureReason classifies a failed authentication.
type FailureReason int

const (
	// NoMatch is a wrong or unrecognized biometric. It counts as an attempt.
	NoMatch FailureReason = iota
	// NotEnrolled means nothing is enrolled to match against.
	NotEnrolled
	// HardwareUnavailable means the sensor is missing or disabled.
	HardwareUnavailable
	// HardwareLockedByOS means the platform itself refuses to prompt.
	HardwareLockedByOS
	// Other is any other failure.
	Other
)

// String returns a string representation of the FailureReason.
func (r FailureReason) String() string {
	switch r {
	case NoMatch:
		return "no_match"
	case NotEnrolled:
		return "not_enrolled"
	case HardwareUnavailable:
		return "hardware_unavailable"
	case HardwareLockedByOS:
		return "hardware_locked_by_os"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// CountsAsAttempt reports whether the failure is a user failure that the
// attempt ledger records.
func (r FailureReason) CountsAsAttempt() bool {
	return r == NoMatch
}

// Unavailable reports whether the failure means the capability cannot be
// used right now and the password fallback should be offered.
func (r FailureReason) Unavailable() bool {
	return r == NotEnrolled || r == HardwareUnavailable || r == HardwareLockedByOS
}

// Result is the top-level result of an authentication.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	ResultCancelled
)

// String returns a string representation of the Result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is what Authenticate returns. Reason is set only for
// ResultFailure; Err optionally carries the underlying cause.
type Outcome struct {
	Result Result
	Reason FailureReason
	Err    error
}

// Succeeded returns a success outcome.
func Succeeded() Outcome { return Outcome{Result: ResultSuccess} }

// Failed returns a failure outcome for reason.
func Failed(reason FailureReason) Outcome {
	return Outcome{Result: ResultFailure, Reason: reason}
}

// FailedWith returns a failure outcome carrying err.
func FailedWith(reason FailureReason, err error) Outcome {
	return Outcome{Result: ResultFailure, Reason: reason, Err: err}
}

// Cancelled returns a cancellation outcome.
func Cancelled() Outcome { return Outcome{Result: ResultCancelled} }

func (o Outcome) String() string {
	if o.Result == ResultFailure {
		return "failure(" + o.Reason.String() + ")"
	}
	return o.Result.String()
}

// PromptSpec is what the capability shows the user.
type PromptSpec struct {
	Title       string
	Subtitle    string
	CancelLabel string
}

// DefaultPrompt is the prompt used for re-authentication.
func DefaultPrompt() PromptSpec {
	return PromptSpec{
		Title:       "Confirm it's you",
		Subtitle:    "Re-authenticate to continue",
		CancelLabel: "Use password",
	}
}

// Capability is a proof-of-presence sensor.
//
// Authenticate may block for as long as the user takes. Cancelling ctx
// must make it return promptly, normally with Cancelled.
type Capability interface {
	Probe() Kind
	Authenticate(ctx context.Context, prompt PromptSpec) Outcome
}

// Errors a CodeSource may return.
var (
	// ErrPromptCancelled means the user dismissed the prompt.
	ErrPromptCancelled = errors.New("prompt cancelled")
	// ErrPromptBusy means another prompt is already showing.
	ErrPromptBusy = errors.New("prompt already active")
	// ErrNoTerminal means there is no terminal to prompt on.
	ErrNoTerminal = errors.New("no terminal available for prompt")
)

// Unavailable is a Capability for hosts without any sensor.
type Unavailable struct{}

func (Unavailable) Probe() Kind { return KindUnsupported }

func (Unavailable) Authenticate(context.Context, PromptSpec) Outcome {
	return Failed(HardwareUnavailable)
}
