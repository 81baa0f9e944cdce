// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/push"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/turn"
	"github.com/jeranaias/retouch/internal/ui/styles"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case TurnEventMsg:
		return m.handleTurnEvent(msg)

	case TurnEndedMsg:
		return m.handleTurnEnded(msg)

	case StreamTickMsg:
		m.repaint.tick()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.turns.count() == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ConfigReloadedMsg:
		return m.handleConfigReloaded(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	vpHeight := max(msg.Height-headerHeight-statusHeight-inputHeight-inputChrome-helpHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(max(msg.Width-4, 10))
	m.refresh()
	return m, nil
}

// refresh re-renders the transcript into the viewport. The view follows the
// stream when it was at the bottom, and otherwise keeps the focused block
// visible.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	content, focusLine := m.renderTranscript()
	m.viewport.SetContent(content)

	switch {
	case focusLine >= 0:
		if focusLine < m.viewport.YOffset || focusLine >= m.viewport.YOffset+m.viewport.Height {
			m.viewport.SetYOffset(focusLine)
		}
	case follow:
		m.viewport.GotoBottom()
	}
}

// =============================================================================
// TURN EVENTS
// =============================================================================

func (m Model) handleTurnEvent(msg TurnEventMsg) (tea.Model, tea.Cmd) {
	t := msg.Turn
	next := waitForEvent(t)

	// After a cancel request only the terminal event is rendered.
	if !msg.Event.Final && t.CancelRequested() {
		return m, next
	}
	render.Dispatch(m.transcript, t.ID(), msg.Event)

	now, tick := m.repaint.request()
	if now {
		m.refresh()
	}
	return m, tea.Batch(next, tick)
}

func (m Model) handleTurnEnded(msg TurnEndedMsg) (tea.Model, tea.Cmd) {
	t := msg.Turn
	m.turns.remove(t.ID())

	state, err := t.Wait()
	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.WarnLevel
	}
	m.log.WithLevel(level).
		Err(err).
		Str("turn_id", t.ID()).
		Str("state", state.String()).
		Str("transport", t.Transport().String()).
		Msg("turn ended")

	if state == turn.StateDone {
		m.finished[t.ID()] = true
	}
	if push.IsUnreachable(err) {
		m.notice = "backend unreachable at " + hostOf(m.cfg.Server.BaseURL) + " (check `retouch status`)"
	}
	m.refresh()
	return m, nil
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Cancel) {
		if n := m.turns.cancelAll(); n > 0 {
			m.notice = fmt.Sprintf("cancelling %d turn(s)", n)
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	if m.lightbox != nil {
		switch {
		case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Open), msg.String() == "q":
			m.lightbox = nil
		}
		return m, nil
	}

	if m.focus != noFocus {
		return m.handleFocusKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		m.input.Reset()
		return m.submit(text)

	case key.Matches(msg, m.keys.NextFocus):
		return m.moveFocus(1), nil

	case key.Matches(msg, m.keys.PrevFocus):
		return m.moveFocus(-1), nil

	case msg.String() == "ctrl+o":
		m.openLightbox(-1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	// A terminal delivers a dropped file as a burst of runes holding its
	// path. Stage it instead of typing it.
	if msg.Type == tea.KeyRunes && len(msg.Runes) > 1 && strings.TrimSpace(m.input.Value()) == "" {
		if path, ok := session.ParseDroppedPath(string(msg.Runes)); ok {
			if up, err := session.LoadPendingUpload(path); err == nil {
				m.stageUpload(up)
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleFocusKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	targets := m.focusTargets()
	if m.focus >= len(targets) {
		m.focus = noFocus
		m.input.Focus()
		return m, nil
	}
	target := targets[m.focus]

	switch {
	case key.Matches(msg, m.keys.NextFocus):
		return m.moveFocus(1), nil

	case key.Matches(msg, m.keys.PrevFocus):
		return m.moveFocus(-1), nil

	case key.Matches(msg, m.keys.Back):
		m.focus = noFocus
		m.input.Focus()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Open):
		if target.kind == render.BlockImage {
			m.openLightbox(m.focus)
		} else {
			m.openLightbox(-1)
		}
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		if target.kind == render.BlockImage {
			m.openLightbox(m.focus)
			return m, nil
		}
		m.transcript.Toggle(target.turnID, target.index)
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
	}
	return m, nil
}

// =============================================================================
// FOCUS AND LIGHTBOX
// =============================================================================

// focusTarget is a block the keyboard can land on.
type focusTarget struct {
	turnID string
	index  int
	kind   render.BlockKind
}

func (m Model) focusTargets() []focusTarget {
	var out []focusTarget
	for _, tv := range m.transcript.Turns() {
		for i, b := range tv.Blocks {
			if b.Kind == render.BlockThink || b.Kind == render.BlockImage {
				out = append(out, focusTarget{turnID: tv.ID, index: i, kind: b.Kind})
			}
		}
	}
	return out
}

// moveFocus steps through the focus targets. Stepping past either end
// returns the keyboard to the input.
func (m Model) moveFocus(delta int) Model {
	n := len(m.focusTargets())
	if n == 0 {
		m.notice = "nothing to focus yet"
		return m
	}

	// Positions 0..n-1 are blocks, n is the input.
	pos := m.focus
	if pos == noFocus {
		pos = n
	}
	pos = ((pos+delta)%(n+1) + n + 1) % (n + 1)

	if pos == n {
		m.focus = noFocus
		m.input.Focus()
	} else {
		m.focus = pos
		m.input.Blur()
	}
	m.refresh()
	return m
}

// openLightbox opens the image at focus index i, or the latest image when
// i is negative.
func (m *Model) openLightbox(i int) {
	targets := m.focusTargets()
	if i < 0 {
		for j := len(targets) - 1; j >= 0; j-- {
			if targets[j].kind == render.BlockImage {
				i = j
				break
			}
		}
	}
	if i < 0 || i >= len(targets) || targets[i].kind != render.BlockImage {
		m.notice = "no image to open"
		return
	}

	b := m.transcript.Blocks(targets[i].turnID)[targets[i].index]
	m.lightbox = &lightbox{fullURL: b.FullURL, thumbnail: b.Thumbnail, openedAt: m.now()}
}

// =============================================================================
// SUBMIT
// =============================================================================

func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	text = strings.TrimSpace(text)
	m.notice = ""

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}
	if path, ok := session.ParseDroppedPath(text); ok {
		if up, err := session.LoadPendingUpload(path); err == nil {
			m.stageUpload(up)
			return m, nil
		}
	}

	t, err := m.orch.Submit(m.ctx, m.sess, turn.Request{Instruction: text})
	if err != nil {
		if errors.Is(err, turn.ErrNoInput) {
			m.notice = err.Error()
		} else {
			m.notice = "Error: " + err.Error()
		}
		return m, nil
	}

	m.transcript.BeginTurn(t.ID(), t.UserText(), t.Preview())
	m.turns.add(t)
	m.focus = noFocus
	m.input.Focus()
	m.refresh()
	m.viewport.GotoBottom()

	return m, tea.Batch(waitForEvent(t), m.spinner.Tick)
}

func (m *Model) stage(path string) {
	up, err := session.LoadPendingUpload(path)
	if err != nil {
		m.notice = "Error: " + err.Error()
		return
	}
	m.stageUpload(up)
}

func (m *Model) stageUpload(up *session.PendingUpload) {
	replaced := m.sess.PendingUpload() != nil
	m.sess.Stage(up)
	m.notice = "staged " + up.Filename
	if replaced {
		m.notice += ", replacing the previous image"
	}
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func (m Model) handleConfigReloaded(msg ConfigReloadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.log.Warn().Err(msg.Err).Msg("config reload failed")
		m.notice = "config reload failed: " + msg.Err.Error()
		return m, nil
	}

	cfg := msg.Config
	m.cfg = cfg
	m.orch.SetOptions(turn.Options{
		UsePrimary:  cfg.Transport.UsePrimary,
		Fallback:    cfg.Transport.Fallback,
		Model:       cfg.Ollama.Model,
		OpenTimeout: cfg.Transport.OpenTimeout(),
	})
	m.theme = styles.NewTheme(cfg.UI.Theme)
	m.theme.SetSize(m.width, m.height)
	m.repaint = newRepaintLimiter(cfg.UI.MaxFPS)
	m.markdown.reset()

	m.log.Info().Bool("primary", cfg.Transport.UsePrimary).Str("theme", cfg.UI.Theme).Msg("config reloaded")
	m.notice = "configuration reloaded"
	m.refresh()
	return m, nil
}
