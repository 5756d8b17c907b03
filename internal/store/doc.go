// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the durable key/value storage the attempt ledger
// persists into.
//
// Each key is atomic: a Set either replaces the whole value or leaves the
// previous one in place. Backends that can also commit several keys at
// once implement Batch.
//
// # Backends
//
//   - Memory: process-local map, used by tests and ephemeral hosts
//   - File: one JSON document with an HMAC-SHA256 trailer, replaced with an
//     atomic rename and guarded by an exclusive lock file
//   - SQLite: a single kv table in a pure-Go SQLite database
//
// # Errors
//
// Every I/O failure is reported as *StorageError naming the operation and
// key. Nothing in this package retries.
package store
