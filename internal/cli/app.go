// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/config"
	"github.com/jeranaias/retouch/internal/logging"
	"github.com/jeranaias/retouch/internal/ollama"
	"github.com/jeranaias/retouch/internal/push"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/turn"
	"github.com/jeranaias/retouch/internal/ui/styles"
	"github.com/jeranaias/retouch/internal/upload"
)

// OllamaChecker is the part of the Ollama client used by status checks.
type OllamaChecker interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	HasModel(ctx context.Context, name string) (bool, error)
}

// Pinger checks that the backend push endpoint answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App bundles everything the front ends need for one process.
type App struct {
	Config *config.Config
	// ConfigPath is the file Config was loaded from, empty for defaults.
	ConfigPath string

	Orchestrator *turn.Orchestrator
	Session      *session.Session
	Ollama       OllamaChecker
	Push         Pinger

	Log zerolog.Logger
	Out io.Writer

	logFile *os.File
}

// NewApp wires the transports and orchestrator described by cfg.
func NewApp(cfg *config.Config, log zerolog.Logger) *App {
	oc := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		DefaultModel: cfg.Ollama.Model,
	})
	pc := push.NewClient(push.ClientConfig{
		BaseURL:    cfg.Server.BaseURL,
		StreamPath: cfg.Server.StreamPath,
		ChatPath:   cfg.Server.ChatPath,
	})
	uc := upload.NewClient(upload.ClientConfig{
		BaseURL: cfg.Server.BaseURL,
		Path:    cfg.Server.UploadPath,
	})

	orch := turn.New(oc, pc, uc, OptionsFromConfig(cfg), log)

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Session:      session.New(),
		Ollama:       oc,
		Push:         pc,
		Log:          log,
		Out:          os.Stdout,
	}
}

// OptionsFromConfig maps the [transport] and [ollama] sections to turn
// options.
func OptionsFromConfig(cfg *config.Config) turn.Options {
	return turn.Options{
		UsePrimary:  cfg.Transport.UsePrimary,
		Fallback:    cfg.Transport.Fallback,
		Model:       cfg.Ollama.Model,
		OpenTimeout: cfg.Transport.OpenTimeout(),
	}
}

// Theme builds the theme configured in [ui].
func (a *App) Theme() *styles.Theme {
	return styles.NewTheme(a.Config.UI.Theme)
}

// NewSink creates a console sink for this app's output.
func (a *App) NewSink(showThink, markdown bool) *ConsoleSink {
	return NewConsoleSink(a.Out, ConsoleOptions{
		ShowThink: showThink || a.Config.UI.ShowThink,
		Markdown:  markdown,
		BaseURL:   a.Config.Server.BaseURL,
		Theme:     a.Theme(),
	})
}

// Close releases the log file, if any.
func (a *App) Close() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

// openLog points the logger at the configured log file. When the file
// cannot be opened, warnings and above go to stderr instead.
func openLog(cfg *config.Config) (zerolog.Logger, *os.File) {
	lc := logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}

	path, err := cfg.LogPath()
	if err == nil {
		var f *os.File
		if f, err = logging.OpenFile(path); err == nil {
			lc.Output = f
			return logging.New(lc), f
		}
	}

	lc.Output = os.Stderr
	lc.Level = "warn"
	log := logging.New(lc)
	log.Warn().Err(err).Msg("log file unavailable, logging to stderr")
	return log, nil
}
