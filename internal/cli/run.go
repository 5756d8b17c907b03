// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// run.go - The interactive re-authentication screen.
//
// Command: run (default)
// Aliases: tui
//
// Keys:
//   s / enter   Authenticate
//   p           Use password
//   b / i / f   Background, inactive, foreground (simulated app state)
//   q           Quit

package cli

import (
	"context"
	"errors"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/reauth"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
	"github.com/DevendraSumaniya20/biometric/internal/ui/gate"
)

// feedBuffer is how many updates may wait for the UI goroutine.
const feedBuffer = 64

// tuiLogFile is where the screen logs when no log file is configured;
// writing to stderr would corrupt the alternate screen.
func tuiLogFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bioreauth.log")
}

// HandleRun starts the engine and the screen and blocks until the user
// quits.
func HandleRun(env *Env) error {
	if err := RequiresTTY("the re-authentication screen"); err != nil {
		return err
	}

	s, err := env.OpenStore()
	if err != nil {
		return err
	}
	l, err := env.OpenLedger(s)
	if err != nil {
		return err
	}
	auditor, err := env.OpenAudit("tui")
	if err != nil {
		return err
	}

	engine, err := reauth.NewEngine(l, env.Clock, env.Policy(), reauth.WithLogger(env.Log))
	if err != nil {
		return &ConfigError{Path: env.ConfigPath, Err: err}
	}

	codes := biometric.NewChannelSource()
	manual := lifecycle.NewManual()
	feed := gate.NewFeed(feedBuffer)

	runner := reauth.NewRunner(engine,
		env.Capability(s, codes),
		timer.New(env.Clock, env.Log),
		reauth.WithHost(feed.Publish),
		reauth.WithAuditor(auditor),
		reauth.WithRunnerLogger(env.Log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		return err
	}

	monitor, err := startMonitor(env, runner, manual)
	if err != nil {
		runner.Stop()
		return err
	}

	model := gate.New(gate.Options{
		Runner:    runner,
		Feed:      feed,
		Codes:     codes,
		Lifecycle: manual,
		Clock:     env.Clock,
		Policy:    env.Policy(),
		Initial:   runner.State(),
		Log:       env.Log,
	})

	_, runErr := tea.NewProgram(model, tea.WithAltScreen()).Run()

	// The runner may be blocked publishing to a UI that no longer reads.
	feed.Close()
	monitor.Stop()
	codes.Cancel()
	runner.Stop()
	return runErr
}

// startMonitor subscribes the runner to app-state signals. The keyboard
// source is always present; when the configured source cannot run on
// this platform the keyboard source is used alone.
func startMonitor(env *Env, runner *reauth.Runner, manual *lifecycle.Manual) (*lifecycle.Monitor, error) {
	// ctrl+z never raises SIGTSTP while the screen owns the terminal, so
	// there is nothing to suspend for.
	src, err := env.LifecycleSource(false, manual)
	if err != nil {
		return nil, err
	}

	monitor := lifecycle.NewMonitor(src, env.Log)
	err = monitor.Start(runner.LifecycleHandler())
	if errors.Is(err, lifecycle.ErrUnsupported) {
		env.Log.Warn("lifecycle source unsupported, using keyboard only",
			zap.String("source", env.Config.Lifecycle.Source))
		monitor = lifecycle.NewMonitor(manual, env.Log)
		err = monitor.Start(runner.LifecycleHandler())
	}
	if err != nil {
		return nil, err
	}
	return monitor, nil
}
