// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/retouch/internal/render"
)

// eventBuffer is the capacity of a turn's event channel.
const eventBuffer = 32

// Turn is one request and its streamed response. It is created by
// Orchestrator.Submit and never reused.
//
// Events must be drained until the channel closes; the producer blocks on
// the terminal event.
type Turn struct {
	id       string
	userText string
	preview  string
	source   SourceKind

	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	events chan render.Event
	done   chan struct{}

	mu        sync.Mutex
	state     State
	transport TransportKind
	err       error
}

func newTurn(parent context.Context, id string, src SourceKind, userText, preview string) *Turn {
	ctx, cancel := context.WithCancel(parent)
	return &Turn{
		id:       id,
		userText: userText,
		preview:  preview,
		source:   src,
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan render.Event, eventBuffer),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// ID returns the turn identifier.
func (t *Turn) ID() string { return t.id }

// UserText returns the line shown for the user's side of the turn.
func (t *Turn) UserText() string { return t.userText }

// Preview returns the image reference shown with the user's line, if any.
func (t *Turn) Preview() string { return t.preview }

// Source returns what the turn sends with its instruction.
func (t *Turn) Source() SourceKind { return t.source }

// Events returns the render events of the turn. The last event has Final
// set, after which the channel is closed.
func (t *Turn) Events() <-chan render.Event { return t.events }

// Done is closed once the turn has reached a terminal state and its event
// channel is closed.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Cancel aborts the turn. It is safe to call more than once and after the
// turn has ended.
func (t *Turn) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// CancelRequested reports whether Cancel was called or the parent context
// ended. Consumers skip non-final events once this is true.
func (t *Turn) CancelRequested() bool {
	return t.cancelled.Load() || t.parent.Err() != nil
}

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transport returns the transport carrying the turn, once one is open.
func (t *Turn) Transport() TransportKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transport
}

// Err returns the error of a turn that ended in StateError.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the turn ends and returns its terminal state.
func (t *Turn) Wait() (State, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.err
}

// =============================================================================
// PRODUCER SIDE
// =============================================================================

func (t *Turn) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Turn) setTransport(k TransportKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transport = k
	t.state = StateStreaming
}

// emit sends a non-final event. It reports false once the turn is
// cancelled, in which case the event is dropped.
func (t *Turn) emit(ev render.Event) bool {
	if t.CancelRequested() {
		return false
	}
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// finish records the terminal state, sends the single final event and
// closes the channels.
func (t *Turn) finish(o outcome) {
	t.mu.Lock()
	t.state = o.state
	t.err = o.err
	t.mu.Unlock()

	ev := o.final
	ev.Final = true
	t.events <- ev
	close(t.events)
	t.cancel()
	close(t.done)
}
