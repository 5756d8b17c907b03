// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the per-key contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("a", []byte("1")))
	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Set("a", []byte("22")))
	v, _, err = s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("22"), v)

	require.NoError(t, s.Set("b", []byte("x")))
	require.NoError(t, s.Set("c", []byte("y")))
	require.NoError(t, s.DeleteMany("b", "c", "never-set"))
	for _, k := range []string{"b", "c"} {
		_, ok, err := s.Get(k)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be gone", k)
	}

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	if b, isBatch := s.(Batch); isBatch {
		require.NoError(t, b.SetMany(map[string][]byte{"x": []byte("1"), "y": []byte("2")}))
		v, _, _ := s.Get("y")
		assert.Equal(t, []byte("2"), v)
	}
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory()
	in := []byte("abc")
	require.NoError(t, m.Set("k", in))
	in[0] = 'z'

	out, _, _ := m.Get("k")
	assert.Equal(t, []byte("abc"), out)
	out[0] = 'q'

	again, _, _ := m.Get("k")
	assert.Equal(t, []byte("abc"), again)
}

func TestFaulty_FailsSelectedKey(t *testing.T) {
	mem := NewMemory()
	f := NewFaulty(mem)
	boom := errors.New("disk full")
	f.FailOn("set", "b", boom)

	require.NoError(t, f.Set("a", []byte("1")))
	err := f.Set("b", []byte("2"))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, boom)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "set", se.Op)
	assert.Equal(t, "b", se.Key)

	f.Heal()
	require.NoError(t, f.Set("b", []byte("2")))
}

func TestFaulty_BatchIsAllOrNothing(t *testing.T) {
	mem := NewMemory()
	f := NewFaulty(mem)
	f.FailOn("set", "second", errors.New("io"))

	err := f.SetMany(map[string][]byte{"first": []byte("1"), "second": []byte("2")})
	require.Error(t, err)
	assert.Empty(t, mem.Keys())
}

func TestStorageError_Message(t *testing.T) {
	err := &StorageError{Op: "get", Key: "k", Err: errors.New("boom")}
	assert.Equal(t, "storage get k: boom", err.Error())

	err = &StorageError{Op: "open", Err: errors.New("boom")}
	assert.Equal(t, "storage open: boom", err.Error())
}

func TestSQLite_Contract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("failed_biometric_attempts", []byte("2")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get("failed_biometric_attempts")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}
