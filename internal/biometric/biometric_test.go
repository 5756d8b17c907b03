// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package biometric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

func staticCode(code string) CodeSource {
	return CodeFunc(func(context.Context, PromptSpec) (string, error) { return code, nil })
}

func failingSource(err error) CodeSource {
	return CodeFunc(func(context.Context, PromptSpec) (string, error) { return "", err })
}

func enrolled(t *testing.T) (*store.Memory, string, *clock.Manual) {
	t.Helper()
	mem := store.NewMemory()
	key, err := Enroll(mem, "bioreauth", "tester")
	require.NoError(t, err)
	return mem, key.Secret(), clock.NewManual(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
}

func TestEnroll(t *testing.T) {
	mem := store.NewMemory()
	ok, err := Enrolled(mem)
	require.NoError(t, err)
	assert.False(t, ok)

	key, err := Enroll(mem, "bioreauth", "tester")
	require.NoError(t, err)
	assert.Equal(t, "bioreauth", key.Issuer())
	assert.Equal(t, "tester", key.AccountName())
	assert.Contains(t, key.URL(), "otpauth://totp/")

	raw, ok, err := mem.Get(KeyTOTPSecret)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key.Secret(), string(raw))

	ok, err = Enrolled(mem)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTOTP_ValidCode(t *testing.T) {
	mem, secret, clk := enrolled(t)
	code, err := totp.GenerateCodeCustom(secret, clk.Now(), DefaultValidateOpts)
	require.NoError(t, err)

	capability := NewTOTP(mem, staticCode(code[:3]+" "+code[3:]), WithClock(clk))
	assert.Equal(t, KindCode, capability.Probe())
	assert.Equal(t, Succeeded(), capability.Authenticate(context.Background(), DefaultPrompt()))
}

func TestTOTP_WrongCode(t *testing.T) {
	mem, secret, clk := enrolled(t)
	old, err := totp.GenerateCodeCustom(secret, clk.Now().Add(-10*time.Minute), DefaultValidateOpts)
	require.NoError(t, err)

	out := NewTOTP(mem, staticCode(old), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, ResultFailure, out.Result)
	assert.Equal(t, NoMatch, out.Reason)

	out = NewTOTP(mem, staticCode("12"), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, NoMatch, out.Reason)
}

func TestTOTP_RejectsReusedCode(t *testing.T) {
	mem, secret, clk := enrolled(t)
	code, err := totp.GenerateCodeCustom(secret, clk.Now(), DefaultValidateOpts)
	require.NoError(t, err)

	capability := NewTOTP(mem, staticCode(code), WithClock(clk))
	require.Equal(t, Succeeded(), capability.Authenticate(context.Background(), DefaultPrompt()))

	// Still inside the skew window, but already used.
	clk.Advance(40 * time.Second)
	assert.Equal(t, Failed(NoMatch), capability.Authenticate(context.Background(), DefaultPrompt()))

	// The next step's code is accepted.
	next, err := totp.GenerateCodeCustom(secret, clk.Now(), DefaultValidateOpts)
	require.NoError(t, err)
	if next != code {
		out := NewTOTP(mem, staticCode(next), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
		assert.Equal(t, Succeeded(), out)
	}

	// Re-enrolling forgets the used steps.
	_, err = Enroll(mem, "bioreauth", "tester")
	require.NoError(t, err)
	_, ok, err := mem.Get(KeyTOTPLastStep)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTOTP_LastStepStoreFailure(t *testing.T) {
	mem, secret, clk := enrolled(t)
	code, err := totp.GenerateCodeCustom(secret, clk.Now(), DefaultValidateOpts)
	require.NoError(t, err)

	faulty := store.NewFaulty(mem)
	faulty.FailOn("set", KeyTOTPLastStep, errors.New("io"))
	out := NewTOTP(faulty, staticCode(code), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, ResultFailure, out.Result)
	assert.Equal(t, Other, out.Reason)
}

func TestTOTP_NotEnrolled(t *testing.T) {
	out := NewTOTP(store.NewMemory(), staticCode("123456")).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, Failed(NotEnrolled), out)
}

func TestTOTP_SourceErrors(t *testing.T) {
	mem, _, clk := enrolled(t)

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"cancelled", ErrPromptCancelled, Cancelled()},
		{"context", context.Canceled, Cancelled()},
		{"busy", ErrPromptBusy, FailedWith(HardwareLockedByOS, ErrPromptBusy)},
		{"no terminal", ErrNoTerminal, FailedWith(HardwareUnavailable, ErrNoTerminal)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewTOTP(mem, failingSource(tt.err), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
			assert.Equal(t, tt.want, out)
		})
	}

	boom := errors.New("boom")
	out := NewTOTP(mem, failingSource(boom), WithClock(clk)).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, Other, out.Reason)
	assert.ErrorIs(t, out.Err, boom)
}

func TestTOTP_StoreFailure(t *testing.T) {
	faulty := store.NewFaulty(store.NewMemory())
	faulty.FailOn("get", KeyTOTPSecret, errors.New("io"))
	out := NewTOTP(faulty, staticCode("123456")).Authenticate(context.Background(), DefaultPrompt())
	assert.Equal(t, HardwareUnavailable, out.Reason)
	assert.True(t, store.IsStorageError(out.Err))
}

func TestTOTP_UnsupportedWithoutSource(t *testing.T) {
	c := NewTOTP(store.NewMemory(), nil)
	assert.Equal(t, KindUnsupported, c.Probe())
	assert.Equal(t, Failed(HardwareUnavailable), c.Authenticate(context.Background(), DefaultPrompt()))
}

func TestChannelSource(t *testing.T) {
	src := NewChannelSource()
	assert.False(t, src.Answer("000000"))

	result := make(chan string, 1)
	go func() {
		code, err := src.ReadCode(context.Background(), DefaultPrompt())
		if err != nil {
			result <- "err:" + err.Error()
			return
		}
		result <- code
	}()

	select {
	case p := <-src.Prompts():
		assert.Equal(t, DefaultPrompt(), p)
	case <-time.After(2 * time.Second):
		t.Fatal("no prompt")
	}
	require.Eventually(t, src.Active, 2*time.Second, time.Millisecond)

	_, err := src.ReadCode(context.Background(), DefaultPrompt())
	assert.ErrorIs(t, err, ErrPromptBusy)

	assert.True(t, src.Answer("424242"))
	assert.Equal(t, "424242", <-result)
	assert.False(t, src.Active())
}

func TestChannelSource_CancelAndContext(t *testing.T) {
	src := NewChannelSource()

	errs := make(chan error, 1)
	go func() {
		_, err := src.ReadCode(context.Background(), DefaultPrompt())
		errs <- err
	}()
	<-src.Prompts()
	require.Eventually(t, src.Active, 2*time.Second, time.Millisecond)
	assert.True(t, src.Cancel())
	assert.ErrorIs(t, <-errs, ErrPromptCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := src.ReadCode(ctx, DefaultPrompt())
		errs <- err
	}()
	<-src.Prompts()
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.False(t, src.Active())
}

func TestScripted(t *testing.T) {
	s := NewScripted(KindFingerprint, Failed(NoMatch), Succeeded())
	assert.Equal(t, KindFingerprint, s.Probe())

	assert.Equal(t, Failed(NoMatch), s.Authenticate(context.Background(), DefaultPrompt()))
	assert.Equal(t, Succeeded(), s.Authenticate(context.Background(), DefaultPrompt()))
	assert.Equal(t, 2, s.Calls())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Cancelled(), s.Authenticate(ctx, DefaultPrompt()))

	u := NewScripted(KindUnsupported)
	assert.Equal(t, Failed(HardwareUnavailable), u.Authenticate(context.Background(), DefaultPrompt()))
}

func TestUnavailable(t *testing.T) {
	var c Capability = Unavailable{}
	assert.Equal(t, KindUnsupported, c.Probe())
	assert.Equal(t, Failed(HardwareUnavailable), c.Authenticate(context.Background(), DefaultPrompt()))
}

func TestFailureReasonClassification(t *testing.T) {
	assert.True(t, NoMatch.CountsAsAttempt())
	for _, r := range []FailureReason{NotEnrolled, HardwareUnavailable, HardwareLockedByOS} {
		assert.True(t, r.Unavailable(), r.String())
		assert.False(t, r.CountsAsAttempt(), r.String())
	}
	assert.False(t, Other.Unavailable())
	assert.False(t, Other.CountsAsAttempt())
	assert.Equal(t, "failure(not_enrolled)", Failed(NotEnrolled).String())
	assert.Equal(t, "cancelled", Cancelled().String())
}
