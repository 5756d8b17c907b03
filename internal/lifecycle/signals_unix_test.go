// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package lifecycle

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOSSignals(t *testing.T) {
	src := &OSSignals{Suspend: false}
	got := make(chan Signal, 4)
	unsub, err := src.Subscribe(func(s Signal) { got <- s })
	require.NoError(t, err)
	defer unsub()

	pid := os.Getpid()

	require.NoError(t, unix.Kill(pid, unix.SIGUSR1))
	assert.Equal(t, Inactive, waitSignal(t, got))

	require.NoError(t, unix.Kill(pid, unix.SIGTSTP))
	assert.Equal(t, Backgrounded, waitSignal(t, got))

	require.NoError(t, unix.Kill(pid, unix.SIGCONT))
	assert.Equal(t, Foregrounded, waitSignal(t, got))
}
