// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for bioreauth.
//
// Supports TOML, YAML and JSON configuration files, with built-in defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: complete file configuration
//   - SecurityConfig: the immutable re-authentication policy handed to the
//     ledger and engine (attempt limit, lockout, session and prompt timeouts)
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (BIOREAUTH_*)
//   - ~/.bioreauth/config.toml
//   - ~/.bioreauth/config.yaml
//   - ~/.bioreauth/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Security.Policy()
package config
