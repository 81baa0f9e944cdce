// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/turn"
)

// AskOptions configures a one-shot turn.
type AskOptions struct {
	Instruction string
	ImagePath   string
	// EditID continues editing a result from an earlier run by its id.
	EditID    string
	Continue  bool
	ShowThink bool
	Markdown  bool
}

// ErrTurnCancelled is returned by RunAsk when the turn was cancelled.
var ErrTurnCancelled = errors.New("turn cancelled")

func newAskCommand(st *rootState) *cobra.Command {
	var opts AskOptions
	cmd := &cobra.Command{
		Use:   "ask [instruction...]",
		Short: "Send one instruction and stream the response",
		Example: `  retouch ask "make it black and white" --image photo.jpg
  retouch ask "now blur the background" --edit-id 3f2a9c
  retouch ask --primary "explain what a histogram shows"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			opts.Instruction = strings.Join(args, " ")

			// Ctrl+C cancels the turn; the cancelled note still prints.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return RunAsk(ctx, app, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.ImagePath, "image", "i", "", "image file to upload with the instruction")
	f.StringVar(&opts.EditID, "edit-id", "", "continue editing the result with this id")
	f.BoolVar(&opts.Continue, "continue", false, "continue editing the last edited image")
	f.BoolVar(&opts.ShowThink, "show-think", false, "print think blocks in full")
	f.BoolVar(&opts.Markdown, "markdown", false, "render the response as markdown when it completes")
	return cmd
}

// RunAsk submits one turn and prints it until it ends. It returns the
// turn's error when the turn fails and ErrTurnCancelled when it is
// cancelled.
func RunAsk(ctx context.Context, app *App, opts AskOptions) error {
	if opts.EditID != "" {
		edited, ok := session.ParseEditedURL("/uploads/" + opts.EditID + "_edited.png")
		if !ok {
			return fmt.Errorf("invalid edit id %q", opts.EditID)
		}
		app.Session.SetLastEdited(edited)
		opts.Continue = true
	}

	sink := app.NewSink(opts.ShowThink, opts.Markdown)
	t, err := app.Orchestrator.Run(ctx, app.Session, turn.Request{
		Instruction:     opts.Instruction,
		ImagePath:       opts.ImagePath,
		ContinueEditing: opts.Continue,
	}, sink)
	if err != nil {
		return err
	}

	state, err := t.Wait()
	switch state {
	case turn.StateCancelled:
		return ErrTurnCancelled
	case turn.StateError:
		return err
	}
	if edited, ok := app.Session.LastEdited(); ok {
		fmt.Fprintln(app.Out, MutedStyle.Render("continue with: retouch ask --edit-id "+edited.ID+" \"...\""))
	}
	return nil
}
