// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/stream"
)

// readChunkSize is the buffer used for transport reads.
const readChunkSize = 32 * 1024

// consumer turns one open transport body into events for its turn.
type consumer struct {
	t    *Turn
	sess *session.Session
	kind TransportKind
	log  zerolog.Logger

	lr   *stream.LineReader
	norm *stream.Normalizer
	tb   stream.TagBuffer
	fd   stream.FinishDetector
}

func newConsumer(t *Turn, sess *session.Session, kind TransportKind, log zerolog.Logger) *consumer {
	return &consumer{
		t:    t,
		sess: sess,
		kind: kind,
		log:  log,
		lr:   stream.NewLineReader(),
		norm: stream.NewNormalizer(log),
	}
}

// step is the result of handling one parsed line.
type step struct {
	stop bool
	res  outcome
}

func proceed() step           { return step{} }
func stopWith(o outcome) step { return step{stop: true, res: o} }

// consume reads body until a terminal condition and returns it. The body is
// closed on return, and also when the turn is cancelled so that a blocked
// read fails promptly.
func (c *consumer) consume(body io.ReadCloser) outcome {
	stopClose := context.AfterFunc(c.t.ctx, func() { body.Close() })
	defer func() {
		stopClose()
		body.Close()
	}()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if s := c.lines(c.lr.Feed(buf[:n])); s.stop {
				return s.res
			}
		}
		if err == nil {
			continue
		}

		if c.t.CancelRequested() {
			return cancelled()
		}
		if errors.Is(err, io.EOF) {
			if s := c.lines(c.lr.Close()); s.stop {
				return s.res
			}
			c.log.Debug().Str("transport", c.kind.String()).Msg("stream ended without completion signal")
			return c.finishDone()
		}
		c.flush()
		return failed(&StreamError{Transport: c.kind, Err: err})
	}
}

func (c *consumer) lines(lines []stream.ParsedLine) step {
	for _, pl := range lines {
		if s := c.line(pl); s.stop {
			return s
		}
	}
	return proceed()
}

func (c *consumer) line(pl stream.ParsedLine) step {
	if !pl.OK() {
		c.log.Warn().Err(pl.Err).Str("transport", c.kind.String()).Msg("skipping malformed line")
		return proceed()
	}
	if stream.IsDone(pl.Value) {
		return stopWith(c.finishDone())
	}

	if c.kind == TransportPrimary {
		for _, ev := range c.norm.Normalize(pl.Value) {
			if !c.text(ev.Text) {
				return stopWith(cancelled())
			}
		}
		return proceed()
	}

	for _, ev := range c.norm.NormalizePush(pl.Value) {
		if s := c.pushEvent(ev); s.stop {
			return s
		}
	}
	return proceed()
}

// pushEvent routes one typed push event.
func (c *consumer) pushEvent(ev render.Event) step {
	switch ev.Kind {
	case render.KindText:
		if tc, ok := session.ParseToolCall(ev.Text); ok {
			c.sess.SetLastToolCall(tc)
			c.log.Debug().Str("operation", tc.Name).Msg("captured tool call")
		}
		if !c.text(ev.Text) {
			return stopWith(cancelled())
		}
		if c.fd.Observe(ev.Text) {
			c.log.Debug().Msg("completion keyword seen, closing stream")
			return stopWith(c.finishDone())
		}
		return proceed()

	case render.KindImageResult:
		if !c.flush() || !c.t.emit(ev) {
			return stopWith(cancelled())
		}
		if edited, ok := session.ParseEditedURL(ev.FullURL); ok {
			c.sess.SetLastEdited(edited)
			c.log.Debug().Str("edited_id", edited.ID).Msg("recorded edited image")
		} else {
			c.log.Warn().Str("full_url", ev.FullURL).Msg("image url does not name an edited upload")
		}
		return stopWith(done())
	}
	return proceed()
}

// text passes streamed text through the think-tag buffer.
func (c *consumer) text(s string) bool {
	return c.emitSpans(c.tb.Append(s))
}

// flush releases whatever the think-tag buffer still holds.
func (c *consumer) flush() bool {
	return c.emitSpans(c.tb.Flush())
}

func (c *consumer) finishDone() outcome {
	if !c.flush() {
		return cancelled()
	}
	return done()
}

func (c *consumer) emitSpans(spans []stream.Span) bool {
	for _, sp := range spans {
		var ev render.Event
		if sp.Kind == stream.ThinkBlock {
			ev = render.ThinkBlock(sp.Content)
		} else {
			ev = render.Text(sp.Content)
		}
		if !c.t.emit(ev) {
			return false
		}
	}
	return true
}
