// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/retouch/internal/config"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/turn"
)

// =============================================================================
// TURN MESSAGES
// =============================================================================

// TurnEventMsg carries one event of a running turn.
type TurnEventMsg struct {
	Turn  *turn.Turn
	Event render.Event
}

// TurnEndedMsg is sent once the event channel of a turn is closed.
type TurnEndedMsg struct {
	Turn *turn.Turn
}

// waitForEvent reads the next event of t.
func waitForEvent(t *turn.Turn) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-t.Events()
		if !ok {
			return TurnEndedMsg{Turn: t}
		}
		return TurnEventMsg{Turn: t, Event: ev}
	}
}

// =============================================================================
// RENDERING MESSAGES
// =============================================================================

// StreamTickMsg triggers a deferred transcript repaint.
type StreamTickMsg struct {
	Time time.Time
}

// ConfigReloadedMsg is sent when the configuration file changes on disk.
type ConfigReloadedMsg struct {
	Config *config.Config
	Err    error
}
