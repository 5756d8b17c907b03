// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package biometric

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

// Store keys owned by the TOTP capability. The attempt ledger never touches
// them.
const (
	KeyTOTPSecret   = "totp_secret"
	KeyTOTPLastStep = "totp_last_step"
)

// DefaultValidateOpts are the RFC 6238 parameters used by authenticator
// apps: 30 second period, six SHA-1 digits, one step of skew.
var DefaultValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// CodeSource collects a one-time code from the user.
type CodeSource interface {
	ReadCode(ctx context.Context, prompt PromptSpec) (string, error)
}

// CodeFunc adapts a function to CodeSource.
type CodeFunc func(ctx context.Context, prompt PromptSpec) (string, error)

// ReadCode implements CodeSource.
func (f CodeFunc) ReadCode(ctx context.Context, prompt PromptSpec) (string, error) {
	return f(ctx, prompt)
}

// TOTP is a Capability that accepts a time-based one-time code from an
// enrolled authenticator app as proof of presence.
type TOTP struct {
	store  store.Store
	source CodeSource
	clock  clock.Clock
	opts   totp.ValidateOpts
	log    *zap.Logger
}

// TOTPOption configures a TOTP capability.
type TOTPOption func(*TOTP)

// WithClock sets the clock codes are validated against.
func WithClock(c clock.Clock) TOTPOption {
	return func(t *TOTP) { t.clock = c }
}

// WithValidateOpts overrides DefaultValidateOpts.
func WithValidateOpts(opts totp.ValidateOpts) TOTPOption {
	return func(t *TOTP) { t.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) TOTPOption {
	return func(t *TOTP) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTOTP creates a TOTP capability reading its secret from s and codes
// from source.
func NewTOTP(s store.Store, source CodeSource, opts ...TOTPOption) *TOTP {
	t := &TOTP{
		store:  s,
		source: source,
		clock:  clock.System(),
		opts:   DefaultValidateOpts,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("totp")
	return t
}

// Probe reports KindCode when a code source and store are configured.
// Enrollment is checked at authentication time so a missing secret is
// reported as NotEnrolled rather than as an unsupported device.
func (t *TOTP) Probe() Kind {
	if t.store == nil || t.source == nil {
		return KindUnsupported
	}
	return KindCode
}

// Authenticate implements Capability.
func (t *TOTP) Authenticate(ctx context.Context, prompt PromptSpec) Outcome {
	if t.Probe() == KindUnsupported {
		return Failed(HardwareUnavailable)
	}

	secret, ok, err := t.store.Get(KeyTOTPSecret)
	if err != nil {
		t.log.Warn("read totp secret", zap.Error(err))
		return FailedWith(HardwareUnavailable, err)
	}
	if !ok || len(secret) == 0 {
		return Failed(NotEnrolled)
	}

	code, err := t.source.ReadCode(ctx, prompt)
	switch {
	case err == nil:
	case errors.Is(err, ErrPromptCancelled), errors.Is(err, context.Canceled):
		return Cancelled()
	case errors.Is(err, context.DeadlineExceeded):
		return Cancelled()
	case errors.Is(err, ErrPromptBusy):
		return FailedWith(HardwareLockedByOS, err)
	case errors.Is(err, ErrNoTerminal):
		return FailedWith(HardwareUnavailable, err)
	default:
		return FailedWith(Other, err)
	}

	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != t.opts.Digits.Length() {
		return FailedWith(NoMatch, otp.ErrValidateInputInvalidLength)
	}
	step, ok, err := t.match(code, string(secret), t.clock.Now().UTC())
	if err != nil {
		return FailedWith(NoMatch, err)
	}
	if !ok {
		return Failed(NoMatch)
	}

	// A code is good once: reject any step at or before the last one used.
	last, err := t.lastStep()
	if err != nil {
		t.log.Warn("read last totp step", zap.Error(err))
		return FailedWith(Other, err)
	}
	if step <= last {
		t.log.Warn("totp code replayed", zap.Uint64("step", step))
		return Failed(NoMatch)
	}
	if err := t.store.Set(KeyTOTPLastStep, []byte(strconv.FormatUint(step, 10))); err != nil {
		t.log.Warn("save totp step", zap.Error(err))
		return FailedWith(Other, err)
	}
	return Succeeded()
}

// match finds the time step inside the skew window whose code equals code.
func (t *TOTP) match(code, secret string, now time.Time) (uint64, bool, error) {
	period := uint64(t.opts.Period)
	if period == 0 {
		period = 30
	}
	current := uint64(now.Unix()) / period

	steps := []uint64{current}
	for i := uint64(1); i <= uint64(t.opts.Skew); i++ {
		steps = append(steps, current+i)
		if current >= i {
			steps = append(steps, current-i)
		}
	}
	for _, step := range steps {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(int64(step*period), 0).UTC(), t.opts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func (t *TOTP) lastStep() (uint64, error) {
	raw, ok, err := t.store.Get(KeyTOTPLastStep)
	if err != nil || !ok {
		return 0, err
	}
	step, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		// Unreadable: accept the next valid code and overwrite it.
		t.log.Warn("discarding unreadable totp step", zap.Error(err))
		return 0, nil
	}
	return step, nil
}

// Enroll generates a new TOTP secret, stores it and returns the key so the
// caller can show its provisioning URL. An existing secret is replaced.
func Enroll(s store.Store, issuer, account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      DefaultValidateOpts.Period,
		Digits:      DefaultValidateOpts.Digits,
		Algorithm:   DefaultValidateOpts.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.Set(KeyTOTPSecret, []byte(key.Secret())); err != nil {
		return nil, err
	}
	// Steps used with the old secret say nothing about the new one.
	if err := s.Delete(KeyTOTPLastStep); err != nil {
		return nil, err
	}
	return key, nil
}

// Enrolled reports whether a TOTP secret is stored.
func Enrolled(s store.Store) (bool, error) {
	v, ok, err := s.Get(KeyTOTPSecret)
	if err != nil {
		return false, err
	}
	return ok && len(v) > 0, nil
}
