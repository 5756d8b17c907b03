// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file helpers shared by the persistent stores and
// the configuration writer.
//
// # Key Functions
//
//   - WriteFileAtomic: crash-safe replacement of a file (temp + fsync + rename)
//   - SyncDir: fsync a directory so a rename is durable
//
// # Usage
//
//	err := util.WriteFileAtomic(path, data, 0600, 0700)
package util
