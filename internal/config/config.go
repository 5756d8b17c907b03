// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/DevendraSumaniya20/biometric/internal/util"
)

// =============================================================================
// SECURITY POLICY
// =============================================================================

// SecurityConfig is the re-authentication policy. It is built once at
// startup and never mutated.
//
// LockoutDuration, SessionTimeout and BiometricPromptTimeout are
// independent settings; nothing requires them to be equal.
type SecurityConfig struct {
	MaxFailedAttempts      uint32
	LockoutDuration        time.Duration
	SessionTimeout         time.Duration
	BiometricPromptTimeout time.Duration
}

// DefaultSecurityConfig returns the built-in policy.
func DefaultSecurityConfig() SecurityConfig {
	return Default().Security.Policy()
}

// Validate checks the policy invariants: every duration positive and at
// least one attempt allowed.
func (s SecurityConfig) Validate() error {
	var errs ValidateErrors
	if s.MaxFailedAttempts < 1 {
		errs = append(errs, ValidationError{Field: "max_failed_attempts", Message: "must be at least 1"})
	}
	if s.LockoutDuration <= 0 {
		errs = append(errs, ValidationError{Field: "lockout_duration", Message: "must be positive"})
	}
	if s.SessionTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "session_timeout", Message: "must be positive"})
	}
	if s.BiometricPromptTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "biometric_prompt_timeout", Message: "must be positive"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete bioreauth configuration file.
type Config struct {
	Version string `toml:"version" yaml:"version" json:"version"`

	Security  SecuritySection  `toml:"security" yaml:"security" json:"security"`
	Store     StoreSection     `toml:"store" yaml:"store" json:"store"`
	Biometric BiometricSection `toml:"biometric" yaml:"biometric" json:"biometric"`
	Lifecycle LifecycleSection `toml:"lifecycle" yaml:"lifecycle" json:"lifecycle"`
	Log       LogSection       `toml:"log" yaml:"log" json:"log"`
}

// SecuritySection is the on-disk form of SecurityConfig. Durations are
// whole seconds.
type SecuritySection struct {
	MaxFailedAttempts          int `toml:"max_failed_attempts" yaml:"max_failed_attempts" json:"max_failed_attempts"`
	LockoutDurationSecs        int `toml:"lockout_duration_secs" yaml:"lockout_duration_secs" json:"lockout_duration_secs"`
	SessionTimeoutSecs         int `toml:"session_timeout_secs" yaml:"session_timeout_secs" json:"session_timeout_secs"`
	BiometricPromptTimeoutSecs int `toml:"biometric_prompt_timeout_secs" yaml:"biometric_prompt_timeout_secs" json:"biometric_prompt_timeout_secs"`
}

// Policy converts the section into the immutable SecurityConfig.
func (s SecuritySection) Policy() SecurityConfig {
	max := s.MaxFailedAttempts
	if max < 0 {
		max = 0
	}
	return SecurityConfig{
		MaxFailedAttempts:      uint32(max),
		LockoutDuration:        time.Duration(s.LockoutDurationSecs) * time.Second,
		SessionTimeout:         time.Duration(s.SessionTimeoutSecs) * time.Second,
		BiometricPromptTimeout: time.Duration(s.BiometricPromptTimeoutSecs) * time.Second,
	}
}

// StoreSection selects the persistent store backend.
type StoreSection struct {
	// Driver is "file" (default), "sqlite" or "memory".
	Driver string `toml:"driver" yaml:"driver" json:"driver"`
	// Path is the state file or database (empty = inside the config dir).
	Path string `toml:"path" yaml:"path" json:"path"`
}

// BiometricSection selects the proof-of-presence capability.
type BiometricSection struct {
	// Driver is "totp" (default) or "none".
	Driver  string `toml:"driver" yaml:"driver" json:"driver"`
	Issuer  string `toml:"issuer" yaml:"issuer" json:"issuer"`
	Account string `toml:"account" yaml:"account" json:"account"`
}

// LifecycleSection selects where foreground/background signals come from.
type LifecycleSection struct {
	// Source is "signals" (default: SIGTSTP/SIGCONT), "file" or "manual".
	Source string `toml:"source" yaml:"source" json:"source"`
	// Path is the watched state file for the "file" source.
	Path string `toml:"path" yaml:"path" json:"path"`
}

// LogSection configures application and audit logging.
type LogSection struct {
	Level     string `toml:"level" yaml:"level" json:"level"`
	Format    string `toml:"format" yaml:"format" json:"format"`
	File      string `toml:"file" yaml:"file" json:"file"`
	AuditPath string `toml:"audit_path" yaml:"audit_path" json:"audit_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Security: SecuritySection{
			MaxFailedAttempts:          3,
			LockoutDurationSecs:        900, // 15 minutes
			SessionTimeoutSecs:         900,
			BiometricPromptTimeoutSecs: 30,
		},
		Store: StoreSection{
			Driver: "file",
		},
		Biometric: BiometricSection{
			Driver:  "totp",
			Issuer:  "bioreauth",
			Account: "local-user",
		},
		Lifecycle: LifecycleSection{
			Source: "signals",
		},
		Log: LogSection{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults fills every unset (zero) field with its default.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Security.MaxFailedAttempts == 0 {
		c.Security.MaxFailedAttempts = d.Security.MaxFailedAttempts
	}
	if c.Security.LockoutDurationSecs == 0 {
		c.Security.LockoutDurationSecs = d.Security.LockoutDurationSecs
	}
	if c.Security.SessionTimeoutSecs == 0 {
		c.Security.SessionTimeoutSecs = d.Security.SessionTimeoutSecs
	}
	if c.Security.BiometricPromptTimeoutSecs == 0 {
		c.Security.BiometricPromptTimeoutSecs = d.Security.BiometricPromptTimeoutSecs
	}

	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Biometric.Driver == "" {
		c.Biometric.Driver = d.Biometric.Driver
	}
	if c.Biometric.Issuer == "" {
		c.Biometric.Issuer = d.Biometric.Issuer
	}
	if c.Biometric.Account == "" {
		c.Biometric.Account = d.Biometric.Account
	}
	if c.Lifecycle.Source == "" {
		c.Lifecycle.Source = d.Lifecycle.Source
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the bioreauth configuration directory. BIOREAUTH_HOME
// overrides the default ~/.bioreauth.
func ConfigDir() (string, error) {
	if dir := os.Getenv("BIOREAUTH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".bioreauth"), nil
}

// candidateFiles lists the config files Load looks for, in order.
func candidateFiles() ([]string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return []string{
		filepath.Join(dir, "config.toml"),
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	}, nil
}

// ResolveStorePath returns the configured store path, or the default
// location inside the config directory for the selected driver.
func (c *Config) ResolveStorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(c.Store.Driver, "sqlite") {
		return filepath.Join(dir, "state.db"), nil
	}
	return filepath.Join(dir, "state.json"), nil
}

// ResolveAuditPath returns the audit log path ("" disables the file sink).
func (c *Config) ResolveAuditPath() (string, error) {
	if c.Log.AuditPath == "-" {
		return "", nil
	}
	if c.Log.AuditPath != "" {
		return c.Log.AuditPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load finds the first existing config file and loads it; with no file
// present the defaults (plus environment overrides) are returned.
func Load() (*Config, error) {
	path, found, err := Locate()
	if err != nil {
		return nil, err
	}
	if found {
		return LoadFromPath(path)
	}
	return finish(Default())
}

// Locate returns the config file Load would read. When none exists it
// returns DefaultPath and found=false.
func Locate() (path string, found bool, err error) {
	paths, err := candidateFiles()
	if err != nil {
		return "", false, err
	}
	for _, p := range paths {
		if _, statErr := os.Stat(p); statErr == nil {
			return p, true, nil
		}
	}
	return paths[0], false, nil
}

// LoadFromPath loads configuration from a specific file, choosing the
// decoder by extension (.yaml/.yml, .json, otherwise TOML).
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies BIOREAUTH_* environment variables:
//   - BIOREAUTH_MAX_FAILED_ATTEMPTS: security.max_failed_attempts
//   - BIOREAUTH_LOCKOUT_SECS: security.lockout_duration_secs
//   - BIOREAUTH_SESSION_TIMEOUT_SECS: security.session_timeout_secs
//   - BIOREAUTH_PROMPT_TIMEOUT_SECS: security.biometric_prompt_timeout_secs
//   - BIOREAUTH_STORE_DRIVER / BIOREAUTH_STORE_PATH: store.*
//   - BIOREAUTH_BIOMETRIC_DRIVER: biometric.driver
//   - BIOREAUTH_LIFECYCLE_SOURCE / BIOREAUTH_LIFECYCLE_PATH: lifecycle.*
//   - BIOREAUTH_LOG_LEVEL: log.level
//
// Unparseable numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	envInt("BIOREAUTH_MAX_FAILED_ATTEMPTS", &c.Security.MaxFailedAttempts)
	envInt("BIOREAUTH_LOCKOUT_SECS", &c.Security.LockoutDurationSecs)
	envInt("BIOREAUTH_SESSION_TIMEOUT_SECS", &c.Security.SessionTimeoutSecs)
	envInt("BIOREAUTH_PROMPT_TIMEOUT_SECS", &c.Security.BiometricPromptTimeoutSecs)

	envString("BIOREAUTH_STORE_DRIVER", &c.Store.Driver)
	envString("BIOREAUTH_STORE_PATH", &c.Store.Path)
	envString("BIOREAUTH_BIOMETRIC_DRIVER", &c.Biometric.Driver)
	envString("BIOREAUTH_LIFECYCLE_SOURCE", &c.Lifecycle.Source)
	envString("BIOREAUTH_LIFECYCLE_PATH", &c.Lifecycle.Path)
	envString("BIOREAUTH_LOG_LEVEL", &c.Log.Level)
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Security.MaxFailedAttempts < 1 {
		errs = append(errs, ValidationError{Field: "security.max_failed_attempts", Message: "must be at least 1"})
	}
	secs := map[string]int{
		"security.lockout_duration_secs":         c.Security.LockoutDurationSecs,
		"security.session_timeout_secs":          c.Security.SessionTimeoutSecs,
		"security.biometric_prompt_timeout_secs": c.Security.BiometricPromptTimeoutSecs,
	}
	for _, field := range []string{
		"security.lockout_duration_secs",
		"security.session_timeout_secs",
		"security.biometric_prompt_timeout_secs",
	} {
		if secs[field] <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	errs = oneOf(errs, "store.driver", c.Store.Driver, "file", "sqlite", "memory")
	errs = oneOf(errs, "biometric.driver", c.Biometric.Driver, "totp", "none")
	errs = oneOf(errs, "lifecycle.source", c.Lifecycle.Source, "signals", "file", "manual")
	errs = oneOf(errs, "log.level", c.Log.Level, "debug", "info", "warn", "error")
	errs = oneOf(errs, "log.format", c.Log.Format, "console", "json")

	if strings.EqualFold(c.Lifecycle.Source, "file") && c.Lifecycle.Path == "" {
		errs = append(errs, ValidationError{Field: "lifecycle.path", Message: "required when lifecycle.source is \"file\""})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(errs ValidateErrors, field, value string, allowed ...string) ValidateErrors {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return errs
		}
	}
	return append(errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid value '%s', must be one of: %s", value, strings.Join(allowed, ", ")),
	})
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes cfg as TOML to path with 0600 permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# bioreauth configuration file\n")
	buf.WriteString("# Durations are in seconds.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the TOML path Save uses by default.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve ValidateErrors
	return errors.As(err, &ve)
}
