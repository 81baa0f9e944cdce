// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"
)

// =============================================================================
// REPAINT LIMITING
// =============================================================================

const defaultMaxFPS = 30

// repaintLimiter caps transcript repaints while events stream in. A repaint
// that is refused is deferred to a single StreamTickMsg, so the last event
// of a burst is always drawn.
type repaintLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	pending  bool
}

func newRepaintLimiter(maxFPS int) *repaintLimiter {
	if maxFPS <= 0 {
		maxFPS = defaultMaxFPS
	}
	return &repaintLimiter{
		limiter:  rate.NewLimiter(rate.Limit(maxFPS), 1),
		interval: time.Second / time.Duration(maxFPS),
	}
}

// request reports whether to repaint now. Otherwise it returns the tick
// command to schedule, or nil when a tick is already pending.
func (r *repaintLimiter) request() (bool, tea.Cmd) {
	if r.pending {
		return false, nil
	}
	if r.limiter.Allow() {
		return true, nil
	}
	r.pending = true
	return false, streamTickCmd(r.interval)
}

// tick clears the pending flag when the deferred repaint arrives.
func (r *repaintLimiter) tick() {
	r.pending = false
}

// streamTickCmd sends a StreamTickMsg after d.
func streamTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
