// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/DevendraSumaniya20/biometric/internal/util"
)

const (
	fileFormatVersion = 1
	macSize           = sha256.Size
	masterKeySize     = 32
	integrityInfo     = "bioreauth/store/integrity/v1"
)

// fileDocument is the JSON body of the state file. The HMAC of the body is
// appended as the last 32 bytes of the file.
type fileDocument struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Values  map[string][]byte `json:"values"`
}

// File is a Store persisted as a single signed JSON document.
//
// Every mutation writes a complete new document with WriteFileAtomic and
// only then updates the in-memory copy, so a failed write leaves both the
// file and the map as they were. An exclusive lock on <path>.lock is held
// while the store is open.
type File struct {
	path string

	mu     sync.RWMutex
	values map[string][]byte
	macKey []byte
	lock   *fileLock
	closed bool
}

// OpenFile opens or creates the state file at path. The integrity master
// key is kept next to it in <path>.key (created on first use).
//
// A file whose signature does not verify yields a *StorageError wrapping
// ErrIntegrity; the caller decides whether to wipe it.
func OpenFile(path string) (*File, error) {
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, wrap("open", err, path)
	}

	f := &File{path: path, values: make(map[string][]byte), lock: lock}

	master, err := loadOrCreateMasterKey(path + ".key")
	if err != nil {
		lock.release()
		return nil, wrap("open", err, path)
	}
	f.macKey, err = deriveMACKey(master)
	zero(master)
	if err != nil {
		lock.release()
		return nil, wrap("open", err, path)
	}

	if err := f.load(); err != nil {
		lock.release()
		return nil, err
	}
	return f, nil
}

// Path returns the state file location.
func (f *File) Path() string { return f.path }

func (f *File) Get(key string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, false, wrap("get", ErrClosed, key)
	}
	v, ok := f.values[key]
	return cloneBytes(v), ok, nil
}

func (f *File) Set(key string, value []byte) error {
	return f.SetMany(map[string][]byte{key: value})
}

func (f *File) SetMany(values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := sortedKeys(values)
	if f.closed {
		return wrap("set", ErrClosed, keys...)
	}

	next := f.copyValuesLocked()
	for k, v := range values {
		next[k] = cloneBytes(v)
	}
	if err := f.persistLocked(next); err != nil {
		return wrap("set", err, keys...)
	}
	f.values = next
	return nil
}

func (f *File) Delete(key string) error {
	return f.DeleteMany(key)
}

func (f *File) DeleteMany(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return wrap("delete", ErrClosed, keys...)
	}

	present := false
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			present = true
			break
		}
	}
	if !present {
		return nil
	}

	next := f.copyValuesLocked()
	for _, k := range keys {
		delete(next, k)
	}
	if err := f.persistLocked(next); err != nil {
		return wrap("delete", err, keys...)
	}
	f.values = next
	return nil
}

// Close releases the process lock and zeroes the integrity key.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	zero(f.macKey)
	f.macKey = nil
	return f.lock.release()
}

// Wipe removes the state file and its key. It is used to recover from an
// integrity failure and must be called while no File is open on path.
func Wipe(path string) error {
	for _, p := range []string{path, path + ".key"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrap("wipe", err, p)
		}
	}
	return nil
}

func (f *File) copyValuesLocked() map[string][]byte {
	out := make(map[string][]byte, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

func (f *File) load() error {
	payload, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return wrap("load", err, f.path)
	}

	if len(payload) < macSize {
		return wrap("load", fmt.Errorf("%w: file too short for signature", ErrIntegrity), f.path)
	}
	body := payload[:len(payload)-macSize]
	sig := payload[len(payload)-macSize:]

	if !hmac.Equal(sig, f.sign(body)) {
		return wrap("load", fmt.Errorf("%w: signature mismatch", ErrIntegrity), f.path)
	}

	var doc fileDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return wrap("load", fmt.Errorf("%w: %v", ErrIntegrity, err), f.path)
	}
	if doc.Version != fileFormatVersion {
		return wrap("load", fmt.Errorf("unsupported state version %d", doc.Version), f.path)
	}
	if doc.Values != nil {
		f.values = doc.Values
	}
	return nil
}

func (f *File) persistLocked(values map[string][]byte) error {
	body, err := json.Marshal(fileDocument{
		Version: fileFormatVersion,
		SavedAt: time.Now().UTC(),
		Values:  values,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	payload := append(body, f.sign(body)...)
	return util.WriteFileAtomic(f.path, payload, 0600, 0700)
}

func (f *File) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, f.macKey)
	mac.Write(body)
	return mac.Sum(nil)
}

func loadOrCreateMasterKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) == masterKeySize {
		return key, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read integrity key: %w", err)
	}

	key = make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate integrity key: %w", err)
	}
	if err := util.WriteFileAtomic(path, key, 0600, 0700); err != nil {
		return nil, fmt.Errorf("failed to save integrity key: %w", err)
	}
	return key, nil
}

// deriveMACKey expands the on-disk master key into the HMAC key so the
// raw key file is never used directly as MAC material.
func deriveMACKey(master []byte) ([]byte, error) {
	out := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, master, nil, []byte(integrityInfo))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive integrity key: %w", err)
	}
	return out, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
