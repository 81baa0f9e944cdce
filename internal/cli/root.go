// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/retouch/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// TUIRunner starts the full-screen interface.
type TUIRunner func(ctx context.Context, app *App) error

// rootState carries the persistent flags and the lazily built App.
type rootState struct {
	configPath string
	logLevel   string
	primary    bool
	noColor    bool

	app *App
}

// NewRootCommand builds the retouch command tree. Running the root command
// without a subcommand starts runTUI.
func NewRootCommand(runTUI TUIRunner) *cobra.Command {
	st := &rootState{}

	root := &cobra.Command{
		Use:   "retouch",
		Short: "Stream AI image edits and chat from the terminal",
		Long: `retouch sends an instruction, optionally with an image, to an image-edit
backend or a local Ollama model and streams the response: text as it
arrives, reasoning in collapsible think blocks, and the edited image.`,
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if st.noColor {
				ForceColorsEnabled(false)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			return runTUI(cmd.Context(), app)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if st.app != nil {
				return st.app.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&st.configPath, "config", "c", "", "config file (default $RETOUCH_HOME/config.toml or ~/.retouch/config.toml)")
	pf.StringVar(&st.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	pf.BoolVar(&st.primary, "primary", false, "stream from Ollama instead of the backend push stream")
	pf.BoolVar(&st.noColor, "no-color", false, "disable coloured console output (same as NO_COLOR)")

	root.AddCommand(
		&cobra.Command{
			Use:   "tui",
			Short: "Start the interactive terminal interface (default)",
			Args:  cobra.NoArgs,
			RunE:  root.RunE,
		},
		newAskCommand(st),
		newChatCommand(st),
		newStatusCommand(st),
		newConfigCommand(st),
	)
	return root
}

// load reads the configuration, applies flag overrides and wires the App
// once per process.
func (st *rootState) load(cmd *cobra.Command) (*App, error) {
	if st.app != nil {
		return st.app, nil
	}

	cfg, path, err := st.loadConfig()
	if err != nil {
		return nil, err
	}
	if st.logLevel != "" {
		cfg.Log.Level = st.logLevel
	}
	if cmd.Flags().Changed("primary") {
		cfg.Transport.UsePrimary = st.primary
	}
	config.SetGlobal(cfg)

	log, f := openLog(cfg)
	app := NewApp(cfg, log)
	app.ConfigPath = path
	app.logFile = f
	app.Out = cmd.OutOrStdout()

	log.Info().
		Str("config", path).
		Str("server", cfg.Server.BaseURL).
		Bool("primary", cfg.Transport.UsePrimary).
		Msg("retouch starting")

	st.app = app
	return app, nil
}

func (st *rootState) loadConfig() (*config.Config, string, error) {
	if st.configPath != "" {
		cfg, err := config.LoadFromPath(st.configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, st.configPath, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	path, _ := existingConfigPath()
	return cfg, path, nil
}
