// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	"github.com/jeranaias/retouch/internal/turn"
)

// =============================================================================
// RUNNING TURNS (THREAD-SAFE)
// =============================================================================

// turnTracker holds the turns that are still streaming.
// It must be used as a pointer in Model so that the copies Bubble Tea makes
// of the model share one set.
type turnTracker struct {
	mu     sync.Mutex
	active map[string]*turn.Turn
	order  []string
}

func newTurnTracker() *turnTracker {
	return &turnTracker{active: make(map[string]*turn.Turn)}
}

func (tt *turnTracker) add(t *turn.Turn) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, ok := tt.active[t.ID()]; ok {
		return
	}
	tt.active[t.ID()] = t
	tt.order = append(tt.order, t.ID())
}

func (tt *turnTracker) remove(id string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, ok := tt.active[id]; !ok {
		return
	}
	delete(tt.active, id)
	for i, v := range tt.order {
		if v == id {
			tt.order = append(tt.order[:i], tt.order[i+1:]...)
			break
		}
	}
}

// cancelAll requests cancellation of every running turn and returns how
// many there were. The turns stay tracked until their channels close.
func (tt *turnTracker) cancelAll() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for _, id := range tt.order {
		tt.active[id].Cancel()
	}
	return len(tt.order)
}

func (tt *turnTracker) count() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.order)
}
