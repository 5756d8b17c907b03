// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFile_Contract(t *testing.T) {
	exerciseStore(t, openTestFile(t, filepath.Join(t.TempDir(), "state.json")))
}

func TestFile_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.SetMany(map[string][]byte{
		"failed_biometric_attempts": []byte("3"),
		"biometric_lockout":         []byte(`{"ends_at":"2025-01-01T00:00:00Z"}`),
	}))
	require.NoError(t, f.Close())

	f = openTestFile(t, path)
	v, ok, err := f.Get("failed_biometric_attempts")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestFile_TamperedStateIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set("failed_biometric_attempts", []byte("2")))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = OpenFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.True(t, IsStorageError(err))

	require.NoError(t, Wipe(path))
	f = openTestFile(t, path)
	_, ok, err := f.Get("failed_biometric_attempts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFile_TruncatedStateIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, err = OpenFile(path)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestFile_SecondOpenIsLocked(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("flock semantics checked on linux and darwin")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	openTestFile(t, path)

	_, err := OpenFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestFile_ClosedStoreRefusesOperations(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, _, err = f.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.Set("k", []byte("v")), ErrClosed)
	assert.ErrorIs(t, f.DeleteMany("k"), ErrClosed)
}

func TestFile_FailedWriteKeepsPreviousValue(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs unix permissions enforced for the current user")
	}
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "state.json")
	f := openTestFile(t, path)
	require.NoError(t, f.Set("k", []byte("old")))

	require.NoError(t, os.Chmod(dir, 0500))
	t.Cleanup(func() { os.Chmod(dir, 0700) })

	err := f.Set("k", []byte("new"))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	v, _, err := f.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)
}
