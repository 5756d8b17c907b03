// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package lifecycle

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// OSSignals maps job-control signals to lifecycle signals:
//
//	SIGTSTP -> Backgrounded, then the process stops itself with SIGSTOP
//	SIGCONT -> Foregrounded
//	SIGUSR1 -> Inactive (screen-lock hooks)
//
// The subscriber runs before the process is stopped.
type OSSignals struct {
	// Suspend controls whether SIGTSTP actually stops the process after
	// delivery. Hosts that manage the terminal themselves turn it off.
	Suspend bool
}

// NewOSSignals creates a signal source that suspends on SIGTSTP.
func NewOSSignals() *OSSignals {
	return &OSSignals{Suspend: true}
}

// Subscribe implements Source.
func (s *OSSignals) Subscribe(fn func(Signal)) (func(), error) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGTSTP, unix.SIGCONT, unix.SIGUSR1)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case unix.SIGTSTP:
					fn(Backgrounded)
					if s.Suspend {
						_ = unix.Kill(os.Getpid(), unix.SIGSTOP)
					}
				case unix.SIGCONT:
					fn(Foregrounded)
				case unix.SIGUSR1:
					fn(Inactive)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}, nil
}
