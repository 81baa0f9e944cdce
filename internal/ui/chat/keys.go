// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keyboard bindings of the chat interface.
type KeyMap struct {
	Submit    key.Binding
	Newline   key.Binding
	NextFocus key.Binding
	PrevFocus key.Binding
	Toggle    key.Binding
	Open      key.Binding
	Back      key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
	Cancel    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Newline: key.NewBinding(
			key.WithKeys("ctrl+j", "alt+enter"),
			key.WithHelp("C-j", "newline"),
		),
		NextFocus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "focus blocks"),
		),
		PrevFocus: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("S-tab", "focus back"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("enter/space", "expand/collapse"),
		),
		Open: key.NewBinding(
			key.WithKeys("o", "ctrl+o"),
			key.WithHelp("o", "open image"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "cancel/quit"),
		),
	}
}

// inputHelp lists the bindings shown while typing.
func (k KeyMap) inputHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Newline, k.NextFocus, k.Cancel}
}

// focusHelp lists the bindings shown while a block is focused.
func (k KeyMap) focusHelp() []key.Binding {
	return []key.Binding{k.NextFocus, k.Toggle, k.Open, k.Back}
}
