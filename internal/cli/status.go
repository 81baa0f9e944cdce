// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statusTimeout bounds each endpoint check.
const statusTimeout = 5 * time.Second

// ModelStatus is one locally available Ollama model.
type ModelStatus struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// EndpointStatus is the result of checking one endpoint.
type EndpointStatus struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Models   []ModelStatus `json:"models,omitempty"`
	HasModel bool          `json:"has_model,omitempty"`
}

// StatusReport is printed by `retouch status`.
type StatusReport struct {
	Primary  bool           `json:"use_primary"`
	Fallback bool           `json:"fallback"`
	Model    string         `json:"model"`
	Backend  EndpointStatus `json:"backend"`
	Ollama   EndpointStatus `json:"ollama"`
}

func newStatusCommand(st *rootState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the backend and Ollama endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			report := CheckStatus(cmd.Context(), app)
			return printStatus(app, report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// CheckStatus checks both endpoints concurrently.
func CheckStatus(ctx context.Context, app *App) StatusReport {
	cfg := app.Config
	report := StatusReport{
		Primary:  cfg.Transport.UsePrimary,
		Fallback: cfg.Transport.Fallback,
		Model:    cfg.Ollama.Model,
		Backend:  EndpointStatus{Name: "backend", URL: cfg.Server.BaseURL},
		Ollama:   EndpointStatus{Name: "ollama", URL: cfg.Ollama.URL},
	}

	var g errgroup.Group
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, statusTimeout)
		defer cancel()
		if err := app.Push.Ping(cctx); err != nil {
			report.Backend.Error = err.Error()
			return nil
		}
		report.Backend.OK = true
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, statusTimeout)
		defer cancel()
		if err := app.Ollama.CheckRunning(cctx); err != nil {
			report.Ollama.Error = err.Error()
			return nil
		}
		report.Ollama.OK = true
		models, err := app.Ollama.ListModels(cctx)
		if err != nil {
			report.Ollama.Error = err.Error()
			return nil
		}
		for _, m := range models {
			report.Ollama.Models = append(report.Ollama.Models, ModelStatus{Name: m.Name, Size: m.FormatSize()})
		}
		has, err := app.Ollama.HasModel(cctx, cfg.Ollama.Model)
		if err != nil {
			report.Ollama.Error = err.Error()
			return nil
		}
		report.Ollama.HasModel = has
		return nil
	})
	_ = g.Wait()

	app.Log.Info().
		Bool("backend_ok", report.Backend.OK).
		Bool("ollama_ok", report.Ollama.OK).
		Msg("status checked")
	return report
}

func printStatus(app *App, r StatusReport, asJSON bool) error {
	if asJSON {
		out, err := formatJSON(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, out)
		return nil
	}

	out := app.Out
	fmt.Fprintln(out, TitleStyle.Render("retouch status"))
	for _, ep := range []EndpointStatus{r.Backend, r.Ollama} {
		line := ep.URL
		if !ep.OK {
			line += "  " + MutedStyle.Render(ep.Error)
		}
		fmt.Fprintf(out, "%s%s\n", LabelStyle.Render(ep.Name), statusLabel(ep.OK, line))
	}

	model := r.Model
	switch {
	case !r.Ollama.OK:
	case r.Ollama.HasModel:
		model = statusLabel(true, model)
	default:
		model = WarningStyle.Render(model + " (not pulled)")
	}
	fmt.Fprintf(out, "%s%s\n", LabelStyle.Render("model"), ValueStyle.Render(model))
	for _, m := range r.Ollama.Models {
		fmt.Fprintf(out, "%s%s %s\n", LabelStyle.Render(""), ValueStyle.Render(m.Name), MutedStyle.Render(m.Size))
	}

	transport := "backend push stream"
	if r.Primary {
		transport = "ollama"
		if r.Fallback {
			transport += ", falling back to backend"
		}
	}
	fmt.Fprintf(out, "%s%s\n", LabelStyle.Render("transport"), ValueStyle.Render(transport))
	return nil
}
