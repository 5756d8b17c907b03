// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Print the effective configuration as TOML
//   path                Print the configuration file in use
//   init                Write the defaults to the default location
//
// Flags:
//   --force             init: overwrite an existing file
//   --json              Output in JSON format

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/DevendraSumaniya20/biometric/internal/config"
)

// HandleConfig handles "bioreauth config".
func HandleConfig(env *Env) error {
	p := NewArgParser(env.Args.Raw, "force")
	switch sub := p.Subcommand(); sub {
	case "", "show":
		return handleConfigShow(env)
	case "path":
		return handleConfigPath(env)
	case "init":
		return handleConfigInit(env, p.BoolFlag("force"))
	default:
		return usageErr(fmt.Sprintf("unknown config subcommand %q", sub), "bioreauth config [show|path|init]")
	}
}

func handleConfigShow(env *Env) error {
	if env.Args.JSON {
		return NewJSONResponse("config", env.Config).Print(env.Out, highlight(env))
	}
	if !env.ConfigFound && !env.Args.Quiet {
		fmt.Fprintln(env.Out, "# no configuration file found; showing defaults")
	}
	if err := toml.NewEncoder(env.Out).Encode(env.Config); err != nil {
		return &CommandError{Command: "config", Action: "show", Err: err}
	}
	return nil
}

func handleConfigPath(env *Env) error {
	path := env.ConfigPath
	if !env.ConfigFound {
		def, err := config.DefaultPath()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = def
	}
	if env.Args.JSON {
		return NewJSONResponse("config", map[string]interface{}{
			"path":   path,
			"exists": env.ConfigFound,
		}).Print(env.Out, highlight(env))
	}
	fmt.Fprintln(env.Out, path)
	if !env.ConfigFound && !env.Args.Quiet {
		fmt.Fprintln(env.Err, DimStyle.Render("(not created yet; run: bioreauth config init)"))
	}
	return nil
}

func handleConfigInit(env *Env, force bool) error {
	path := env.Args.ConfigPath
	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = def
	}

	if _, err := os.Stat(path); err == nil && !force {
		return &CommandError{Command: "config", Action: "init",
			Err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ConfigError{Path: path, Err: err}
	}

	if err := config.Save(config.Default(), path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if env.Args.JSON {
		return NewJSONResponse("config", map[string]string{"path": path}).Print(env.Out, highlight(env))
	}
	if !env.Args.Quiet {
		fmt.Fprintf(env.Out, "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
	}
	return nil
}
