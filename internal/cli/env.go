// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// env.go - Shared wiring for bioreauth commands: configuration, logging,
// the persistent store, the ledger, the audit sink and the capability.

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/audit"
	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/logging"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

// Env is what every command runs against.
type Env struct {
	Args       Args
	Config     *config.Config
	ConfigPath string
	// ConfigFound is false when defaults are in use.
	ConfigFound bool

	Clock clock.Clock
	Log   *zap.Logger
	Out   io.Writer
	Err   io.Writer

	closers []func() error
}

// NewEnv loads configuration and builds the logger. logFile, when set, is
// used if the configuration names no log file.
func NewEnv(args Args, out, errw io.Writer, logFile string) (*Env, error) {
	env := &Env{Args: args, Clock: clock.System(), Out: out, Err: errw}

	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		env.ConfigPath, env.ConfigFound = args.ConfigPath, true
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		env.ConfigPath, env.ConfigFound, err = config.Locate()
		if err == nil {
			cfg, err = config.Load()
		}
	}
	if err != nil {
		return nil, &ConfigError{Path: env.ConfigPath, Err: err}
	}
	env.Config = cfg

	logCfg := cfg.Log
	if args.Verbose {
		logCfg.Level = "debug"
	}
	if logFile != "" && logCfg.File == "" {
		logCfg.File = logFile
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, &ConfigError{Path: env.ConfigPath, Err: err}
	}
	env.Log = log
	env.onClose(func() error {
		_ = log.Sync()
		return nil
	})
	return env, nil
}

func (e *Env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases everything opened through the Env, newest first.
func (e *Env) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

// Policy returns the validated security policy.
func (e *Env) Policy() config.SecurityConfig {
	return e.Config.Security.Policy()
}

// OpenStore opens the configured backend.
func (e *Env) OpenStore() (store.Store, error) {
	driver := strings.ToLower(e.Config.Store.Driver)
	if driver == "memory" {
		e.Log.Warn("using in-memory store; ledger state will not persist")
		return store.NewMemory(), nil
	}

	path, err := e.Config.ResolveStorePath()
	if err != nil {
		return nil, &ConfigError{Path: e.ConfigPath, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	switch driver {
	case "sqlite":
		s, err := store.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		e.onClose(s.Close)
		e.Log.Debug("store opened", zap.String("driver", driver), zap.String("path", path))
		return s, nil
	default:
		f, err := store.OpenFile(path)
		if err != nil {
			return nil, err
		}
		e.onClose(f.Close)
		e.Log.Debug("store opened", zap.String("driver", "file"), zap.String("path", path))
		return f, nil
	}
}

// OpenLedger builds the attempt ledger over s.
func (e *Env) OpenLedger(s store.Store) (*ledger.Ledger, error) {
	l, err := ledger.New(s, e.Clock, e.Policy(), ledger.WithLogger(e.Log))
	if err != nil {
		return nil, &ConfigError{Path: e.ConfigPath, Err: err}
	}
	return l, nil
}

// OpenAudit opens the audit sink; a disabled sink is a no-op logger.
func (e *Env) OpenAudit(source string) (*audit.Logger, error) {
	path, err := e.Config.ResolveAuditPath()
	if err != nil {
		return nil, &ConfigError{Path: e.ConfigPath, Err: err}
	}
	if path == "" {
		return audit.Nop(), nil
	}
	a, err := audit.Open(path)
	if err != nil {
		return nil, err
	}
	e.onClose(a.Close)
	a = a.WithSource(source)
	a.SetOnError(func(err error) {
		e.Log.Error("audit write failed", zap.Error(err))
	})
	return a, nil
}

// Capability builds the configured proof-of-presence capability. src feeds
// the TOTP capability its codes.
func (e *Env) Capability(s store.Store, src biometric.CodeSource) biometric.Capability {
	switch strings.ToLower(e.Config.Biometric.Driver) {
	case "none":
		return biometric.Unavailable{}
	default:
		return biometric.NewTOTP(s, src,
			biometric.WithClock(e.Clock),
			biometric.WithLogger(e.Log))
	}
}

// LifecycleSource builds the configured source of app-state signals,
// merged with extra (e.g. the keyboard-driven source of the TUI).
// suspend controls whether SIGTSTP really stops the process.
func (e *Env) LifecycleSource(suspend bool, extra ...lifecycle.Source) (lifecycle.Source, error) {
	var src lifecycle.Source
	switch strings.ToLower(e.Config.Lifecycle.Source) {
	case "manual":
	case "file":
		src = lifecycle.NewFile(e.Config.Lifecycle.Path, e.Log)
	default:
		sig := lifecycle.NewOSSignals()
		sig.Suspend = suspend
		src = sig
	}

	sources := append([]lifecycle.Source(nil), extra...)
	if src != nil {
		sources = append(sources, src)
	}
	return lifecycle.Merge(sources...), nil
}
