// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
	"strings"
)

// Store is durable key/value storage with per-key atomicity.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set replaces the value for key.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// DeleteMany removes every listed key.
	DeleteMany(keys ...string) error
}

// Batch is implemented by stores that can commit several keys in one
// all-or-nothing write.
type Batch interface {
	SetMany(values map[string][]byte) error
}

// Closer is implemented by stores holding OS resources.
type Closer interface {
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrIntegrity is returned when persisted state fails verification.
	ErrIntegrity = errors.New("store integrity check failed")

	// ErrLocked is returned when another process holds the store.
	ErrLocked = errors.New("store is in use by another process")
)

// StorageError describes a failed storage operation.
type StorageError struct {
	Op  string // "get", "set", "delete", "open", ...
	Key string // may be empty, or a comma-separated list for batches
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func wrap(op string, err error, keys ...string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: strings.Join(keys, ","), Err: err}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
