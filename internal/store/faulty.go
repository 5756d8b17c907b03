// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sync"
)

// Faulty wraps a Store and fails selected operations. Hosts use it to
// rehearse storage outages; tests use it to check that callers surface
// StorageError without corrupting state.
type Faulty struct {
	inner Store

	mu    sync.Mutex
	rules map[string]error // "op" or "op:key" -> error
}

// NewFaulty wraps inner.
func NewFaulty(inner Store) *Faulty {
	return &Faulty{inner: inner, rules: make(map[string]error)}
}

// FailOn makes op fail with err. When key is non-empty only that key
// fails. Batch writes are matched by op "setmany" or by any member key
// under op "set".
func (f *Faulty) FailOn(op, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules[ruleKey(op, key)] = err
}

// Heal removes every failure rule.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = make(map[string]error)
}

func ruleKey(op, key string) string {
	if key == "" {
		return op
	}
	return op + ":" + key
}

func (f *Faulty) check(op string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.rules[op]; ok {
		return wrap(op, err, keys...)
	}
	for _, k := range keys {
		if err, ok := f.rules[ruleKey(op, k)]; ok {
			return wrap(op, err, k)
		}
	}
	return nil
}

func (f *Faulty) Get(key string) ([]byte, bool, error) {
	if err := f.check("get", key); err != nil {
		return nil, false, err
	}
	return f.inner.Get(key)
}

func (f *Faulty) Set(key string, value []byte) error {
	if err := f.check("set", key); err != nil {
		return err
	}
	return f.inner.Set(key, value)
}

func (f *Faulty) Delete(key string) error {
	if err := f.check("delete", key); err != nil {
		return err
	}
	return f.inner.Delete(key)
}

func (f *Faulty) DeleteMany(keys ...string) error {
	if err := f.check("delete", keys...); err != nil {
		return err
	}
	return f.inner.DeleteMany(keys...)
}

// SetMany is all-or-nothing even when inner does not implement Batch: a
// rule matching any key rejects the whole batch before anything is written.
func (f *Faulty) SetMany(values map[string][]byte) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	if err := f.check("setmany"); err != nil {
		return err
	}
	if err := f.check("set", keys...); err != nil {
		return err
	}
	if b, ok := f.inner.(Batch); ok {
		return b.SetMany(values)
	}
	for k, v := range values {
		if err := f.inner.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
