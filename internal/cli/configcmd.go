// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/retouch/internal/config"
)

func newConfigCommand(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			return showConfig(app, asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := st.configPath
			if p == "" {
				var err error
				if p, err = config.ConfigPathTOML(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initConfig(st.configPath, force)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusLabel(true, "wrote "+p))
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value, e.g. server.base_url",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			v, err := app.Config.Get(args[0])
			if err != nil {
				return fmt.Errorf("%w (known keys: %s)", err, strings.Join(config.Keys(), ", "))
			}
			fmt.Fprintln(app.Out, v)
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, get)
	return cmd
}

func showConfig(app *App, asJSON bool) error {
	if asJSON {
		out, err := formatJSON(app.Config)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, out)
		return nil
	}

	source := app.ConfigPath
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintln(app.Out, MutedStyle.Render("# source: "+source))
	fmt.Fprint(app.Out, app.Config.String())
	return nil
}

// initConfig writes the default configuration to path, or to the standard
// location when path is empty.
func initConfig(path string, force bool) (string, error) {
	if path == "" {
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return "", err
	}
	return path, nil
}

// existingConfigPath returns the config file Load would read, if any.
func existingConfigPath() (string, bool) {
	for _, pathFn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		p, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
