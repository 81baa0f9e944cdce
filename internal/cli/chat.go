// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/retouch/internal/config"
	"github.com/jeranaias/retouch/internal/push"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/turn"
	"github.com/jeranaias/retouch/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
}

// ChatCLI provides line editing and persistent history for the REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in the config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation. Non-empty lines are
// added to the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// ChatOptions configures the REPL.
type ChatOptions struct {
	ShowThink bool
	Markdown  bool
}

func newChatCommand(st *rootState) *cobra.Command {
	var opts ChatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Line-oriented chat with history and slash commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.load(cmd)
			if err != nil {
				return err
			}
			in := NewChatCLI()
			defer in.Close()
			return RunChat(cmd.Context(), app, in, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.ShowThink, "show-think", false, "print think blocks in full")
	cmd.Flags().BoolVar(&opts.Markdown, "markdown", false, "render responses as markdown when they complete")
	return cmd
}

// chatREPL holds the state of one REPL run.
type chatREPL struct {
	ctx  context.Context
	app  *App
	sink *ConsoleSink
	out  io.Writer
}

// RunChat reads lines from in until EOF, an aborted prompt or /quit. Each
// line is a turn unless it is a slash command or the path of a readable
// image file, which is staged for the next turn.
func RunChat(ctx context.Context, app *App, in LineReader, opts ChatOptions) error {
	r := &chatREPL{
		ctx:  ctx,
		app:  app,
		sink: app.NewSink(opts.ShowThink, opts.Markdown),
		out:  app.Out,
	}

	fmt.Fprintln(r.out, TitleStyle.Render("retouch chat"))
	fmt.Fprintln(r.out, MutedStyle.Render("Type an instruction, drop an image file, or /help. Ctrl+C cancels a response."))

	for {
		input, err := in.ReadInput(PromptStyle.Render("retouch> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			if quit := r.command(input); quit {
				return nil
			}
			continue
		}

		if path, ok := session.ParseDroppedPath(input); ok {
			if up, err := session.LoadPendingUpload(path); err == nil {
				r.stage(up)
				continue
			}
		}
		r.send(input)
	}
}

// send runs one turn. An interrupt during the turn cancels only the turn.
func (r *chatREPL) send(instruction string) {
	tctx, stop := signal.NotifyContext(r.ctx, os.Interrupt)
	defer stop()

	_, err := r.app.Orchestrator.Run(tctx, r.app.Session, turn.Request{Instruction: instruction}, r.sink)
	switch {
	case err == nil:
	case push.IsUnreachable(err):
		r.errorf("backend unreachable at %s (check `retouch status`)", r.app.Config.Server.BaseURL)
	default:
		r.errorf("%v", err)
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type slashCommand struct {
	name string
	args string
	help string
	run  func(r *chatREPL, arg string) bool
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{"/attach", "<path>", "stage an image for the next message", func(r *chatREPL, arg string) bool {
			if arg == "" {
				r.errorf("usage: /attach <path>")
				return false
			}
			path, ok := session.ParseDroppedPath(arg)
			if !ok {
				path = arg
			}
			r.attach(path)
			return false
		}},
		{"/detach", "", "remove the staged image", func(r *chatREPL, _ string) bool {
			if r.app.Session.DiscardPendingUpload() {
				r.note("staged image removed")
			} else {
				r.note("no image staged")
			}
			return false
		}},
		{"/continue", "[on|off]", "keep editing the last edited image", func(r *chatREPL, arg string) bool {
			on, ok := util.ParseToggle(arg, r.app.Session.ContinueEditing())
			if !ok {
				r.errorf("usage: /continue [on|off]")
				return false
			}
			r.app.Session.SetContinueEditing(on)
			r.note(fmt.Sprintf("continue editing: %s", util.OnOff(on)))
			return false
		}},
		{"/primary", "[on|off]", "stream from Ollama instead of the backend", func(r *chatREPL, arg string) bool {
			on, ok := util.ParseToggle(arg, r.app.Orchestrator.Options().UsePrimary)
			if !ok {
				r.errorf("usage: /primary [on|off]")
				return false
			}
			r.app.Orchestrator.SetUsePrimary(on)
			r.note(fmt.Sprintf("primary transport: %s", util.OnOff(on)))
			return false
		}},
		{"/think", "[on|off]", "print think blocks in full", func(r *chatREPL, arg string) bool {
			on, ok := util.ParseToggle(arg, r.sink.ShowThink())
			if !ok {
				r.errorf("usage: /think [on|off]")
				return false
			}
			r.sink.SetShowThink(on)
			r.note(fmt.Sprintf("show think blocks: %s", util.OnOff(on)))
			return false
		}},
		{"/status", "", "show session state", func(r *chatREPL, _ string) bool {
			out, err := formatJSON(r.app.Session.GetStatus())
			if err != nil {
				r.errorf("%v", err)
				return false
			}
			fmt.Fprintln(r.out, out)
			if up, ok := r.app.Session.LastUploaded(); ok {
				r.note("last upload: " + strings.TrimSuffix(r.app.Config.Server.BaseURL, "/") + up.FullURL())
			}
			return false
		}},
		{"/help", "", "list commands", func(r *chatREPL, _ string) bool {
			for _, c := range slashCommands {
				fmt.Fprintf(r.out, "  %s %s\n", util.PadRight(c.name+" "+c.args, 20), MutedStyle.Render(c.help))
			}
			return false
		}},
		{"/quit", "", "leave the chat", func(*chatREPL, string) bool { return true }},
	}
}

// command runs a slash command and reports whether the REPL should end.
func (r *chatREPL) command(input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	if name == "/exit" {
		name = "/quit"
	}
	for _, c := range slashCommands {
		if c.name == name {
			return c.run(r, arg)
		}
	}
	r.errorf("unknown command %s (try /help)", name)
	return false
}

func (r *chatREPL) attach(path string) {
	up, err := session.LoadPendingUpload(path)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	r.stage(up)
}

func (r *chatREPL) stage(up *session.PendingUpload) {
	replaced := r.app.Session.PendingUpload() != nil
	r.app.Session.Stage(up)

	msg := fmt.Sprintf("staged %s (%s)", util.TruncateMiddle(up.Filename, 40), util.FormatBytes(up.Size()))
	if replaced {
		msg += ", replacing the previous image"
	}
	r.note(msg)
}

func (r *chatREPL) note(msg string) {
	fmt.Fprintln(r.out, WarningStyle.Render("[i] "+msg))
}

func (r *chatREPL) errorf(format string, args ...any) {
	fmt.Fprintln(r.out, ErrorStyle.Render("[Error]")+" "+fmt.Sprintf(format, args...))
}
