// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/util"
)

// command runs a slash command typed into the input.
func (m Model) command(input string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/attach":
		if arg == "" {
			m.notice = "usage: /attach <path>"
			return m, nil
		}
		path, ok := session.ParseDroppedPath(arg)
		if !ok {
			path = arg
		}
		m.stage(path)

	case "/detach":
		if m.sess.DiscardPendingUpload() {
			m.notice = "staged image removed"
		} else {
			m.notice = "no image staged"
		}

	case "/continue":
		on, ok := util.ParseToggle(arg, m.sess.ContinueEditing())
		if !ok {
			m.notice = "usage: /continue [on|off]"
			return m, nil
		}
		m.sess.SetContinueEditing(on)
		m.notice = "continue editing: " + util.OnOff(on)

	case "/primary":
		on, ok := util.ParseToggle(arg, m.orch.Options().UsePrimary)
		if !ok {
			m.notice = "usage: /primary [on|off]"
			return m, nil
		}
		m.orch.SetUsePrimary(on)
		m.notice = "primary transport: " + util.OnOff(on)

	case "/help":
		m.notice = "/attach <path>  /detach  /continue [on|off]  /primary [on|off]  /quit"

	case "/quit", "/exit":
		m.turns.cancelAll()
		m.quitting = true
		return m, tea.Quit

	default:
		m.notice = "unknown command " + name + " (try /help)"
	}
	return m, nil
}
