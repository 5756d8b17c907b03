// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing for bioreauth.
package cli

import (
	"fmt"
	"io"
	"strings"
)

// Version information (overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdRun Command = iota
	CmdUnlock
	CmdStatus
	CmdReset
	CmdEnroll
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdRun:
		return "run"
	case CmdUnlock:
		return "unlock"
	case CmdStatus:
		return "status"
	case CmdReset:
		return "reset"
	case CmdEnroll:
		return "enroll"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool

	// Name is the command word as typed (kept for unknown commands).
	Name string
	// Raw holds everything after the command word.
	Raw []string
}

const usageText = `bioreauth - biometric re-authentication session engine

USAGE:
  bioreauth [global flags] <command> [args]

COMMANDS:
  run                    Interactive re-authentication screen (default)
  unlock                 One-shot re-authentication; exit code 0 on success
  status [--json]        Lockout state, attempts and session freshness
  reset --confirm        Clear failed attempts and any lockout
  enroll [--force]       Create the authenticator secret and print its URL
  config [show|path|init]
                         Show, locate or create the configuration file
  version                Show version information
  help                   Show this help

GLOBAL FLAGS:
  --config <path>        Use this configuration file
  --json                 Machine-readable output
  -v, --verbose          Debug logging
  -q, --quiet            Suppress informational output

Version: %s
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdRun, args
	}

	args.Name = remaining[0]
	args.Raw = remaining[1:]

	switch strings.ToLower(args.Name) {
	case "run", "tui":
		return CmdRun, args
	case "unlock", "auth":
		return CmdUnlock, args
	case "status", "s":
		return CmdStatus, args
	case "reset":
		return CmdReset, args
	case "enroll":
		return CmdEnroll, args
	case "config":
		return CmdConfig, args
	case "version", "-V", "--version":
		return CmdVersion, args
	case "help", "-h", "--help":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

// parseGlobalFlags extracts global flags wherever they appear and returns
// the rest in order.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

// Run executes cmd and returns the process exit code. Errors are written
// to errw, or to out as JSON when --json is set.
func Run(cmd Command, args Args, out, errw io.Writer) int {
	err := dispatch(cmd, args, out, errw)
	if err != nil {
		w := errw
		if args.JSON {
			w = out
		}
		DisplayError(w, err, args.JSON)
	}
	return GetExitCode(err)
}

func dispatch(cmd Command, args Args, out, errw io.Writer) error {
	// Commands that must work without a usable configuration.
	switch cmd {
	case CmdHelp:
		return HandleHelp(args, out)
	case CmdVersion:
		return HandleVersion(args, out)
	case CmdUnknown:
		PrintUsage(errw)
		return usageErr(fmt.Sprintf("unknown command %q", args.Name), "")
	case CmdConfig:
		if p := NewArgParser(args.Raw, "force"); p.Subcommand() == "init" {
			return handleConfigInit(&Env{Args: args, Out: out, Err: errw}, p.BoolFlag("force"))
		}
	}

	logFile := ""
	if cmd == CmdRun {
		logFile = tuiLogFile()
	}
	env, err := NewEnv(args, out, errw, logFile)
	if err != nil {
		return err
	}
	defer env.Close()

	switch cmd {
	case CmdRun:
		return HandleRun(env)
	case CmdUnlock:
		return HandleUnlock(env)
	case CmdStatus:
		return HandleStatus(env)
	case CmdReset:
		return HandleReset(env)
	case CmdEnroll:
		return HandleEnroll(env)
	case CmdConfig:
		return HandleConfig(env)
	}
	return usageErr(fmt.Sprintf("unknown command %q", args.Name), "")
}
