// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger implements the attempt ledger: the persisted failed-attempt
// counter, the timed lockout record, and the last-authentication mark.
//
// The ledger is the only writer of its keys. Other components read the
// lockout state through CurrentStatus, which also expires a lockout lazily
// so a missed or delayed timer never leaves the user locked out past
// ends_at.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

// Persisted keys.
const (
	KeyFailedAttempts = "failed_biometric_attempts"
	KeyLockout        = "biometric_lockout"
	KeyLastAuth       = "last_biometric_auth"
)

var (
	// ErrLocked is returned by RecordFailure while a lockout is active.
	ErrLocked = errors.New("biometric authentication locked: too many failed attempts")

	// ErrCorrupt is wrapped when a persisted value cannot be decoded.
	ErrCorrupt = errors.New("corrupt ledger value")
)

// =============================================================================
// RECORDS
// =============================================================================

// LockoutRecord is the persisted lockout.
type LockoutRecord struct {
	StartedAt         time.Time `json:"started_at"`
	EndsAt            time.Time `json:"ends_at"`
	AttemptsAtLockout uint32    `json:"attempts_at_lockout"`
}

// Expired reports whether the lockout is over at now.
func (r LockoutRecord) Expired(now time.Time) bool {
	return !now.Before(r.EndsAt)
}

// Remaining returns the time left at now, never negative.
func (r LockoutRecord) Remaining(now time.Time) time.Duration {
	if d := r.EndsAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AttemptRecord is the ledger's persisted state.
type AttemptRecord struct {
	FailedCount uint32
	Lockout     *LockoutRecord
}

// Outcome is the result of RecordFailure.
type Outcome struct {
	// Locked is true when this failure reached the threshold.
	Locked bool
	// EndsAt is the lockout end (Locked only).
	EndsAt time.Time
	// Remaining is the number of attempts left (not Locked only).
	Remaining uint32
}

// Status is the result of CurrentStatus.
type Status struct {
	Locked       bool
	AttemptsUsed uint32    // meaningful when not Locked
	EndsAt       time.Time // meaningful when Locked
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger owns the attempt counter, lockout record and last-authentication
// mark. It is not safe for concurrent use; the engine serializes access.
type Ledger struct {
	store  store.Store
	clock  clock.Clock
	policy config.SecurityConfig
	log    *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for ledger events.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a ledger over s. The policy must be valid.
func New(s store.Store, c clock.Clock, policy config.SecurityConfig, opts ...Option) (*Ledger, error) {
	if s == nil {
		return nil, errors.New("ledger: store is required")
	}
	if c == nil {
		c = clock.System()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	l := &Ledger{store: s, clock: c, policy: policy, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("ledger")
	return l, nil
}

// MaxAttempts returns the configured failure threshold.
func (l *Ledger) MaxAttempts() uint32 { return l.policy.MaxFailedAttempts }

// RemainingAttempts returns max(0, max_failed_attempts - used).
func (l *Ledger) RemainingAttempts(used uint32) uint32 {
	if used >= l.policy.MaxFailedAttempts {
		return 0
	}
	return l.policy.MaxFailedAttempts - used
}

// =============================================================================
// CORE OPERATIONS
// =============================================================================

// RecordFailure counts one failed attempt. Reaching the threshold creates
// and persists a lockout ending lockout_duration from now.
//
// While an unexpired lockout exists nothing is written and ErrLocked is
// returned together with the current lockout end.
func (l *Ledger) RecordFailure() (Outcome, error) {
	now := l.clock.Now()

	rec, err := l.Load()
	if err != nil {
		return Outcome{}, err
	}

	if rec.Lockout != nil {
		if !rec.Lockout.Expired(now) {
			return Outcome{Locked: true, EndsAt: rec.Lockout.EndsAt}, ErrLocked
		}
		// Expired lockout: the next failure starts a fresh series.
		if err := l.clear(); err != nil {
			return Outcome{}, err
		}
		l.log.Info("lockout expired", zap.Time("ended_at", rec.Lockout.EndsAt))
		rec = AttemptRecord{}
	}

	count := rec.FailedCount + 1

	if count < l.policy.MaxFailedAttempts {
		if err := l.store.Set(KeyFailedAttempts, encodeCount(count)); err != nil {
			return Outcome{}, err
		}
		remaining := l.policy.MaxFailedAttempts - count
		l.log.Info("biometric attempt failed",
			zap.Uint32("attempt", count),
			zap.Uint32("max_attempts", l.policy.MaxFailedAttempts),
			zap.Uint32("remaining", remaining))
		return Outcome{Remaining: remaining}, nil
	}

	lock := LockoutRecord{
		StartedAt:         now,
		EndsAt:            now.Add(l.policy.LockoutDuration),
		AttemptsAtLockout: count,
	}
	lockData, err := json.Marshal(lock)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode lockout: %w", err)
	}
	if err := l.writeLockout(count, lockData); err != nil {
		return Outcome{}, err
	}

	l.log.Warn("biometric lockout started",
		zap.Uint32("attempts", count),
		zap.Duration("duration", l.policy.LockoutDuration),
		zap.Time("until", lock.EndsAt))
	return Outcome{Locked: true, EndsAt: lock.EndsAt}, nil
}

// writeLockout persists the count and lockout together. Stores without
// batch support get the count first, so a lockout record never exists
// without a count at or above the threshold.
func (l *Ledger) writeLockout(count uint32, lockData []byte) error {
	if b, ok := l.store.(store.Batch); ok {
		return b.SetMany(map[string][]byte{
			KeyFailedAttempts: encodeCount(count),
			KeyLockout:        lockData,
		})
	}
	if err := l.store.Set(KeyFailedAttempts, encodeCount(count)); err != nil {
		return err
	}
	return l.store.Set(KeyLockout, lockData)
}

// RecordSuccess clears the counter and any lockout. Calling it on a clear
// ledger writes nothing.
func (l *Ledger) RecordSuccess() error {
	rec, err := l.Load()
	if err != nil {
		return err
	}
	if rec.FailedCount == 0 && rec.Lockout == nil {
		present, err := l.anyPresent(KeyFailedAttempts, KeyLockout)
		if err != nil || !present {
			return err
		}
	}
	if err := l.clear(); err != nil {
		return err
	}
	l.log.Info("attempts reset", zap.String("reason", "success"))
	return nil
}

// CurrentStatus reports the lockout state at now. A lockout whose end has
// been reached is cleared together with the counter, and NotLocked{0} is
// returned.
func (l *Ledger) CurrentStatus(now time.Time) (Status, error) {
	rec, err := l.Load()
	if err != nil {
		return Status{}, err
	}

	if rec.Lockout != nil {
		if rec.Lockout.Expired(now) {
			if err := l.clear(); err != nil {
				return Status{}, err
			}
			l.log.Info("lockout expired", zap.Time("ended_at", rec.Lockout.EndsAt))
			return Status{}, nil
		}
		return Status{Locked: true, EndsAt: rec.Lockout.EndsAt}, nil
	}
	return Status{AttemptsUsed: rec.FailedCount}, nil
}

// Reset clears the counter and lockout regardless of state. It is the
// administrative unlock.
func (l *Ledger) Reset() error {
	if err := l.clear(); err != nil {
		return err
	}
	l.log.Warn("attempts reset", zap.String("reason", "manual"))
	return nil
}

// Load reads the persisted attempt record.
func (l *Ledger) Load() (AttemptRecord, error) {
	var rec AttemptRecord

	raw, ok, err := l.store.Get(KeyFailedAttempts)
	if err != nil {
		return rec, err
	}
	if ok {
		n, err := strconv.ParseUint(string(raw), 10, 32)
		if err != nil {
			return rec, corrupt(KeyFailedAttempts, err)
		}
		rec.FailedCount = uint32(n)
	}

	raw, ok, err = l.store.Get(KeyLockout)
	if err != nil {
		return rec, err
	}
	if ok {
		var lock LockoutRecord
		if err := json.Unmarshal(raw, &lock); err != nil {
			return rec, corrupt(KeyLockout, err)
		}
		if !lock.EndsAt.After(lock.StartedAt) {
			return rec, corrupt(KeyLockout, errors.New("ends_at not after started_at"))
		}
		rec.Lockout = &lock
	}
	return rec, nil
}

func (l *Ledger) clear() error {
	return l.store.DeleteMany(KeyFailedAttempts, KeyLockout)
}

func (l *Ledger) anyPresent(keys ...string) (bool, error) {
	for _, k := range keys {
		_, ok, err := l.store.Get(k)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// SESSION MARK
// =============================================================================

// MarkAuthenticated persists t as the last successful authentication.
func (l *Ledger) MarkAuthenticated(t time.Time) error {
	return l.store.Set(KeyLastAuth, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// LastAuthenticated returns the persisted last successful authentication.
func (l *Ledger) LastAuthenticated() (time.Time, bool, error) {
	raw, ok, err := l.store.Get(KeyLastAuth)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, corrupt(KeyLastAuth, err)
	}
	return t, true, nil
}

// ClearAuthenticated removes the last-authentication mark.
func (l *Ledger) ClearAuthenticated() error {
	return l.store.Delete(KeyLastAuth)
}

// =============================================================================
// HELPERS
// =============================================================================

func encodeCount(n uint32) []byte {
	return []byte(strconv.FormatUint(uint64(n), 10))
}

func corrupt(key string, err error) error {
	return &store.StorageError{Op: "decode", Key: key, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
}
