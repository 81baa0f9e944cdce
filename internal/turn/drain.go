// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
)

// Drain delivers the events of t to sink until the turn ends. When ctx ends
// first the turn is cancelled and only its terminal event is delivered.
func Drain(ctx context.Context, t *Turn, sink render.Sink) (State, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for ev := range t.Events() {
			if !ev.Final && t.CancelRequested() {
				continue
			}
			render.Dispatch(sink, t.ID(), ev)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.Cancel()
		case <-t.Done():
		}
		return nil
	})

	_ = g.Wait()
	return t.Wait()
}

// Run submits req and drains the resulting turn into sink. The user's line
// is rendered first when sink implements render.TurnStarter.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, req Request, sink render.Sink) (*Turn, error) {
	t, err := o.Submit(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	if ts, ok := sink.(render.TurnStarter); ok {
		ts.BeginTurn(t.ID(), t.UserText(), t.Preview())
	}
	_, err = Drain(ctx, t, sink)
	return t, err
}
