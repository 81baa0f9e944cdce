// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/ui/styles"
	"github.com/jeranaias/retouch/internal/util"
)

// ConsoleOptions controls how a ConsoleSink prints a turn.
type ConsoleOptions struct {
	// ShowThink prints think blocks in full instead of a one-line marker.
	ShowThink bool
	// Markdown holds assistant text back and prints it through glamour
	// once a different block or the end of the turn arrives.
	Markdown bool
	// BaseURL resolves server-relative image references.
	BaseURL string
	// Width bounds single-line labels. Zero means the terminal width.
	Width int
	Theme *styles.Theme
}

// ConsoleSink prints turn events to a line-oriented terminal. It implements
// render.Sink and render.TurnStarter and is safe for concurrent use.
type ConsoleSink struct {
	mu    sync.Mutex
	out   io.Writer
	opts  ConsoleOptions
	turns map[string]*consoleTurn
}

type consoleTurn struct {
	text    strings.Builder
	midLine bool
}

// NewConsoleSink creates a sink writing to out.
func NewConsoleSink(out io.Writer, opts ConsoleOptions) *ConsoleSink {
	if opts.Width <= 0 {
		opts.Width = GetTerminalWidth()
	}
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme(styles.ModeAuto)
	}
	return &ConsoleSink{out: out, opts: opts, turns: make(map[string]*consoleTurn)}
}

// BeginTurn implements render.TurnStarter.
func (c *ConsoleSink) BeginTurn(turnID, userText, preview string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th := c.opts.Theme
	fmt.Fprintf(c.out, "%s %s\n", th.UserLabel.Render("you ›"), th.UserText.Render(userText))
	if preview != "" {
		label := util.TruncateMiddle(render.DescribeThumbnail(preview), c.opts.Width-12)
		fmt.Fprintf(c.out, "      %s\n", th.Muted.Render("image: "+label))
	}
	c.turns[turnID] = &consoleTurn{}
}

// AppendText implements render.Sink.
func (c *ConsoleSink) AppendText(turnID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.turn(turnID)
	if c.opts.Markdown {
		ct.text.WriteString(text)
		return
	}
	io.WriteString(c.out, text)
	ct.midLine = !strings.HasSuffix(text, "\n")
}

// AppendThinkBlock implements render.Sink.
func (c *ConsoleSink) AppendThinkBlock(turnID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.turn(turnID)
	c.flushText(ct)
	c.breakLine(ct)

	th := c.opts.Theme
	body := strings.TrimSpace(text)
	if !c.opts.ShowThink {
		n := strings.Count(body, "\n") + 1
		unit := "lines"
		if n == 1 {
			unit = "line"
		}
		marker := fmt.Sprintf("%s thinking (%d %s hidden)", styles.Indicators.Collapsed, n, unit)
		fmt.Fprintln(c.out, th.Think.Render(marker))
		return
	}
	fmt.Fprintln(c.out, th.Think.Render(styles.Indicators.Expanded+" thinking"))
	fmt.Fprintln(c.out, th.ThinkBody.Render(body))
}

// AppendImage implements render.Sink.
func (c *ConsoleSink) AppendImage(turnID, thumbnail, fullURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.turn(turnID)
	c.flushText(ct)
	c.breakLine(ct)

	th := c.opts.Theme
	link := render.ResolveURL(c.opts.BaseURL, fullURL)
	fmt.Fprintf(c.out, "%s %s\n", th.Done.Render(styles.Indicators.Image), th.Link.Render(link))
	fmt.Fprintf(c.out, "      %s\n", th.Muted.Render(render.DescribeThumbnail(thumbnail)))
}

// AppendStatus implements render.Sink. Terminal status lines release the
// per-turn state.
func (c *ConsoleSink) AppendStatus(turnID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.turn(turnID)
	c.flushText(ct)
	c.breakLine(ct)

	kind := styles.ClassifyStatus(message)
	fmt.Fprintln(c.out, c.opts.Theme.RenderStatusLine(message, kind))
	if kind != styles.StatusNote {
		delete(c.turns, turnID)
	}
}

// SetShowThink switches between full and collapsed think blocks for later
// output.
func (c *ConsoleSink) SetShowThink(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.ShowThink = on
}

// ShowThink reports whether think blocks are printed in full.
func (c *ConsoleSink) ShowThink() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.ShowThink
}

func (c *ConsoleSink) turn(id string) *consoleTurn {
	ct, ok := c.turns[id]
	if !ok {
		ct = &consoleTurn{}
		c.turns[id] = ct
	}
	return ct
}

func (c *ConsoleSink) flushText(ct *consoleTurn) {
	if ct.text.Len() == 0 {
		return
	}
	fmt.Fprintln(c.out, renderMarkdown(ct.text.String()))
	ct.text.Reset()
	ct.midLine = false
}

func (c *ConsoleSink) breakLine(ct *consoleTurn) {
	if ct.midLine {
		io.WriteString(c.out, "\n")
		ct.midLine = false
	}
}
