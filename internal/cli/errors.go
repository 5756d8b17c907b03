// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for bioreauth commands.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/ledger"
	"github.com/DevendraSumaniya20/biometric/internal/store"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	// ExitAuthError means the user was not re-authenticated.
	ExitAuthError    = 4
	ExitStorageError = 5
	ExitLockedOut    = 6
	// ExitUnavailable means the capability cannot be used; fall back to
	// the password.
	ExitUnavailable  = 7
	ExitTimeoutError = 8
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotAuthenticated is returned by unlock when the attempt did not
	// succeed.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUnavailable is returned by unlock when the capability cannot be
	// used.
	ErrUnavailable = errors.New("biometric unavailable, use your password")
	// ErrTimedOut is returned by unlock when the prompt timed out.
	ErrTimedOut = errors.New("authentication timed out")
)

// CommandError is a command failure with context.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// UsageError reports bad arguments.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Message
	}
	return e.Message + "\nUsage: " + e.Usage
}

// ConfigError reports a configuration file that could not be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func usageErr(msg, usage string) error {
	return &UsageError{Message: msg, Usage: usage}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err in the output mode the command ran in.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		out := map[string]interface{}{
			"success":    false,
			"error":      err.Error(),
			"error_type": errorType(err),
			"exit_code":  GetExitCode(err),
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorType(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "usage_error"
	case ExitConfigError:
		return "config_error"
	case ExitAuthError:
		return "auth_error"
	case ExitStorageError:
		return "storage_error"
	case ExitLockedOut:
		return "locked_out"
	case ExitUnavailable:
		return "unavailable"
	case ExitTimeoutError:
		return "timeout"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error onto an exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var tty *TTYRequiredError
	var cfgErr *ConfigError
	switch {
	case errors.As(err, &usage), errors.As(err, &tty):
		return ExitUsageError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, ledger.ErrLocked):
		return ExitLockedOut
	case errors.Is(err, ErrUnavailable):
		return ExitUnavailable
	case errors.Is(err, ErrTimedOut):
		return ExitTimeoutError
	case errors.Is(err, ErrNotAuthenticated):
		return ExitAuthError
	case config.IsValidationError(err):
		return ExitConfigError
	case store.IsStorageError(err):
		return ExitStorageError
	}
	return ExitGeneralError
}
