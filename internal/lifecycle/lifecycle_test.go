// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type collector struct {
	mu  sync.Mutex
	got []Signal
}

func (c *collector) handle(s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s)
}

func (c *collector) all() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal(nil), c.got...)
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want Signal
	}{
		{"foreground", Foregrounded},
		{"Foregrounded\n", Foregrounded},
		{"active", Foregrounded},
		{" background ", Backgrounded},
		{"backgrounded", Backgrounded},
		{"INACTIVE", Inactive},
	}
	for _, tt := range tests {
		got, err := ParseSignal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSignal("sideways")
	assert.Error(t, err)
}

func TestSignalString(t *testing.T) {
	for _, s := range []Signal{Foregrounded, Backgrounded, Inactive} {
		back, err := ParseSignal(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
	assert.Equal(t, "unknown", Signal(9).String())
	assert.True(t, Backgrounded.Away())
	assert.True(t, Inactive.Away())
	assert.False(t, Foregrounded.Away())
}

func TestMonitor_CollapsesAndForwardsEdges(t *testing.T) {
	src := NewManual()
	m := NewMonitor(src, nil)
	var c collector
	require.NoError(t, m.Start(c.handle))

	// Already foregrounded: not an edge.
	src.Emit(Foregrounded)
	src.Emit(Backgrounded)
	src.Emit(Backgrounded)
	src.Emit(Inactive)
	src.Emit(Foregrounded)
	src.Emit(Foregrounded)

	assert.Equal(t, []Signal{Backgrounded, Inactive, Foregrounded}, c.all())
	assert.Equal(t, Foregrounded, m.Current())
}

func TestMonitor_DeliveryIsSynchronous(t *testing.T) {
	src := NewManual()
	m := NewMonitor(src, nil)

	invalidated := false
	require.NoError(t, m.Start(func(s Signal) {
		if s.Away() {
			invalidated = true
		}
	}))

	src.Emit(Backgrounded)
	assert.True(t, invalidated, "handler must have run before Emit returned")
}

func TestMonitor_Stop(t *testing.T) {
	src := NewManual()
	m := NewMonitor(src, nil)
	var c collector
	require.NoError(t, m.Start(c.handle))
	require.Error(t, m.Start(c.handle))

	m.Stop()
	m.Stop()
	src.Emit(Backgrounded)
	assert.Empty(t, c.all())
}

func TestMonitor_RequiresHandler(t *testing.T) {
	m := NewMonitor(NewManual(), nil)
	assert.Error(t, m.Start(nil))
}

func TestMonitor_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	src := NewManual()
	m := NewMonitor(src, zap.New(core))
	require.NoError(t, m.Start(func(Signal) {}))

	src.Emit(Inactive)
	entries := logs.FilterMessage("lifecycle transition").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "foregrounded", fields["from"])
	assert.Equal(t, "inactive", fields["to"])
}

func TestManual_MultipleSubscribers(t *testing.T) {
	src := NewManual()
	var a, b collector
	unsubA, err := src.Subscribe(a.handle)
	require.NoError(t, err)
	_, err = src.Subscribe(b.handle)
	require.NoError(t, err)

	src.Emit(Inactive)
	unsubA()
	src.Emit(Backgrounded)

	assert.Equal(t, []Signal{Inactive}, a.all())
	assert.Equal(t, []Signal{Inactive, Backgrounded}, b.all())
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	src := NewFile(path, nil)
	assert.Equal(t, path, src.Path())

	got := make(chan Signal, 8)
	unsub, err := src.Subscribe(func(s Signal) { got <- s })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, WriteState(path, Backgrounded))
	assert.Equal(t, Backgrounded, waitSignal(t, got))

	require.NoError(t, WriteState(path, Foregrounded))
	for {
		if waitSignal(t, got) == Foregrounded {
			break
		}
	}
}

func TestFileSource_MissingDirectory(t *testing.T) {
	src := NewFile(filepath.Join(t.TempDir(), "missing", "state"), nil)
	_, err := src.Subscribe(func(Signal) {})
	assert.Error(t, err)
}

func waitSignal(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no lifecycle signal delivered")
		return 0
	}
}

type failingSource struct{}

func (failingSource) Subscribe(func(Signal)) (func(), error) { return nil, ErrUnsupported }

func TestMerge_DeliversFromEverySource(t *testing.T) {
	a, b := NewManual(), NewManual()
	m := NewMonitor(Merge(a, b), nil)
	var c collector
	require.NoError(t, m.Start(c.handle))

	a.Emit(Backgrounded)
	b.Emit(Backgrounded)
	b.Emit(Foregrounded)
	assert.Equal(t, []Signal{Backgrounded, Foregrounded}, c.all())

	m.Stop()
	a.Emit(Inactive)
	assert.Len(t, c.all(), 2)
}

func TestMerge_FailureUnwinds(t *testing.T) {
	a := NewManual()
	var c collector
	_, err := Merge(a, failingSource{}).Subscribe(c.handle)
	require.ErrorIs(t, err, ErrUnsupported)

	a.Emit(Inactive)
	assert.Empty(t, c.all())
}
