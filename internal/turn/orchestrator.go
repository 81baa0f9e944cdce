// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/ollama"
	"github.com/jeranaias/retouch/internal/push"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/upload"
)

// =============================================================================
// TRANSPORTS
// =============================================================================

// PrimaryTransport opens a newline-delimited JSON generation stream.
type PrimaryTransport interface {
	Generate(ctx context.Context, r ollama.GenerateRequest) (io.ReadCloser, error)
}

// PushTransport opens a server-push event stream.
type PushTransport interface {
	Open(ctx context.Context, q push.Query) (io.ReadCloser, error)
}

// Uploader stores an image on the backend.
type Uploader interface {
	Upload(ctx context.Context, f upload.File, instruction string) (*upload.Result, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Request is what the user submits.
type Request struct {
	Instruction string
	// ImagePath is an image file to upload when nothing is staged.
	ImagePath string
	// ContinueEditing keeps editing the last edited result. The session's
	// continue-editing flag has the same effect.
	ContinueEditing bool
}

// Options controls transport selection.
type Options struct {
	// UsePrimary selects the primary generation transport.
	UsePrimary bool
	// Fallback retries once on the push transport when the primary
	// transport fails to open.
	Fallback bool
	// Model is passed to the primary transport.
	Model string
	// OpenTimeout bounds opening a transport. Zero means no bound.
	OpenTimeout time.Duration
}

// FallbackNote is rendered when a turn switches to the push transport.
const FallbackNote = "Primary stream unavailable, falling back to server stream"

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator creates turns and drives them from transport to events.
// It is safe for concurrent use; each turn runs in its own goroutine.
type Orchestrator struct {
	primary  PrimaryTransport
	push     PushTransport
	uploader Uploader
	log      zerolog.Logger

	mu   sync.Mutex
	opts Options
}

// New creates an orchestrator. Any transport may be nil when unused.
func New(primary PrimaryTransport, pushT PushTransport, uploader Uploader, opts Options, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		primary:  primary,
		push:     pushT,
		uploader: uploader,
		opts:     opts,
		log:      log.With().Str("component", "turn").Logger(),
	}
}

// Options returns the transport options.
func (o *Orchestrator) Options() Options {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts
}

// SetUsePrimary switches the transport used by later turns.
func (o *Orchestrator) SetUsePrimary(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.UsePrimary = on
}

// SetOptions replaces all transport options for later turns. Turns already
// submitted keep the options they started with.
func (o *Orchestrator) SetOptions(opts Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts = opts
}

// plan is a resolved submission.
type plan struct {
	source      SourceKind
	instruction string
	file        *session.PendingUpload
	edited      session.EditedImage
	opts        Options
}

// Submit resolves what to send, creates a turn and starts it. The source
// is chosen in order: the staged upload, req.ImagePath, the last edited
// result when continuing, and finally the instruction alone. It returns
// ErrNoInput when none applies.
func (o *Orchestrator) Submit(ctx context.Context, sess *session.Session, req Request) (*Turn, error) {
	p, err := o.resolve(sess, req)
	if err != nil {
		return nil, err
	}

	userText, preview := describe(p)
	t := newTurn(ctx, uuid.NewString(), p.source, userText, preview)
	sess.RecordTurn()

	o.log.Info().
		Str("turn_id", t.id).
		Str("source", p.source.String()).
		Bool("primary", p.opts.UsePrimary).
		Msg("turn submitted")

	go o.run(t, sess, p)
	return t, nil
}

func (o *Orchestrator) resolve(sess *session.Session, req Request) (plan, error) {
	p := plan{instruction: req.Instruction, opts: o.Options()}

	if up := sess.TakePendingUpload(); up != nil {
		if req.ImagePath != "" {
			o.log.Debug().Str("path", req.ImagePath).Msg("staged upload takes precedence over image path")
		}
		p.source = SourceUpload
		p.file = up
		return p, nil
	}

	if req.ImagePath != "" {
		up, err := session.LoadPendingUpload(req.ImagePath)
		if err != nil {
			return plan{}, fmt.Errorf("failed to load image: %w", err)
		}
		p.source = SourceUpload
		p.file = up
		return p, nil
	}

	if req.ContinueEditing || sess.ContinueEditing() {
		if edited, ok := sess.LastEdited(); ok {
			p.source = SourceEdited
			p.edited = edited
			return p, nil
		}
	}

	if strings.TrimSpace(req.Instruction) != "" {
		p.source = SourceChat
		return p, nil
	}

	return plan{}, ErrNoInput
}

// describe returns the user line and preview reference for a plan.
func describe(p plan) (string, string) {
	switch p.source {
	case SourceEdited:
		return fmt.Sprintf("Continue editing last image: %q", p.instruction), p.edited.FullURL
	case SourceUpload:
		return fmt.Sprintf("Upload: %s %q", p.file.Filename, p.instruction), p.file.Preview
	default:
		return p.instruction, ""
	}
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// outcome is the terminal result of a turn.
type outcome struct {
	state State
	err   error
	final render.Event
}

func done() outcome {
	return outcome{state: StateDone, final: render.Done()}
}

func cancelled() outcome {
	return outcome{state: StateCancelled, final: render.Status(render.CancelledNote)}
}

func failed(err error) outcome {
	return outcome{state: StateError, err: err, final: render.Error(err.Error())}
}

func (o *Orchestrator) run(t *Turn, sess *session.Session, p plan) {
	log := o.log.With().Str("turn_id", t.id).Logger()

	res := o.execute(t, sess, p, log)
	if res.state != StateCancelled && t.CancelRequested() {
		res = cancelled()
	}

	ev := log.Info()
	if res.err != nil {
		ev = log.Warn().Err(res.err)
	}
	ev.Str("state", res.state.String()).Str("transport", t.Transport().String()).Msg("turn finished")

	t.finish(res)
}

func (o *Orchestrator) execute(t *Turn, sess *session.Session, p plan, log zerolog.Logger) outcome {
	if t.CancelRequested() {
		return cancelled()
	}
	t.setState(StateOpening)

	q, res, ok := o.prepare(t, sess, p, log)
	if !ok {
		return res
	}

	body, kind, err := o.open(t, q, p, log)
	if err != nil {
		if t.CancelRequested() {
			return cancelled()
		}
		return failed(err)
	}

	t.setTransport(kind)
	log.Debug().Str("transport", kind.String()).Msg("stream open")

	c := newConsumer(t, sess, kind, log)
	return c.consume(body)
}

// prepare uploads the image of an upload turn and builds the push query.
func (o *Orchestrator) prepare(t *Turn, sess *session.Session, p plan, log zerolog.Logger) (push.Query, outcome, bool) {
	switch p.source {
	case SourceChat:
		return push.Query{ChatOnly: true, Instruction: p.instruction}, outcome{}, true

	case SourceEdited:
		q := push.Query{ID: p.edited.ID, Instruction: p.instruction, Source: push.SourceEdited}
		withToolCall(&q, sess)
		return q, outcome{}, true
	}

	if o.uploader == nil {
		return push.Query{}, failed(&upload.Error{Message: "no upload endpoint configured"}), false
	}
	res, err := o.uploader.Upload(t.ctx, upload.File{
		Name:        p.file.Filename,
		ContentType: p.file.ContentType,
		Data:        p.file.Data,
	}, p.instruction)
	if err != nil {
		if t.CancelRequested() {
			return push.Query{}, cancelled(), false
		}
		log.Warn().Err(err).Str("filename", p.file.Filename).Msg("upload failed")
		return push.Query{}, outcome{state: StateError, err: err, final: render.Status(uploadMessage(err))}, false
	}

	sess.SetLastUploaded(session.UploadedImage{ID: res.ID, Filename: res.Filename})
	log.Debug().Str("upload_id", res.ID).Msg("image uploaded")

	q := push.Query{ID: res.ID, Filename: res.Filename, Instruction: p.instruction}
	withToolCall(&q, sess)
	return q, outcome{}, true
}

func uploadMessage(err error) string {
	var ue *upload.Error
	if errors.As(err, &ue) {
		return ue.Error()
	}
	return "Upload error: " + err.Error()
}

// withToolCall forwards the last captured tool call so the backend can skip
// parsing the instruction.
func withToolCall(q *push.Query, sess *session.Session) {
	if tc, ok := sess.LastToolCall(); ok {
		q.Operation = tc.Name
		q.OpParams = string(tc.Args)
	}
}

// open opens the selected transport, falling back once from primary to
// push when configured.
func (o *Orchestrator) open(t *Turn, q push.Query, p plan, log zerolog.Logger) (io.ReadCloser, TransportKind, error) {
	if p.opts.UsePrimary && o.primary != nil {
		body, err := withOpenTimeout(t.ctx, p.opts.OpenTimeout, func(ctx context.Context) (io.ReadCloser, error) {
			return o.primary.Generate(ctx, ollama.GenerateRequest{Model: p.opts.Model, Prompt: p.instruction})
		})
		if err == nil {
			return body, TransportPrimary, nil
		}
		openErr := &OpenError{Transport: TransportPrimary, Err: err}
		if t.CancelRequested() || !p.opts.Fallback || o.push == nil {
			return nil, TransportNone, openErr
		}
		log.Warn().Err(err).Msg("primary stream failed to open, falling back")
		if !t.emit(render.Status(FallbackNote)) {
			return nil, TransportNone, openErr
		}
	}

	if o.push == nil {
		return nil, TransportNone, &OpenError{Transport: TransportPush, Err: ErrNoTransport}
	}
	body, err := withOpenTimeout(t.ctx, p.opts.OpenTimeout, func(ctx context.Context) (io.ReadCloser, error) {
		return o.push.Open(ctx, q)
	})
	if err != nil {
		return nil, TransportNone, &OpenError{Transport: TransportPush, Err: err}
	}
	return body, TransportPush, nil
}

// withOpenTimeout runs open under a context that is cancelled if opening
// takes longer than the open timeout. Once open returns the timer no longer
// applies, so reads are bounded by the turn only.
func withOpenTimeout(parent context.Context, timeout time.Duration, open func(context.Context) (io.ReadCloser, error)) (io.ReadCloser, error) {
	if timeout <= 0 {
		return open(parent)
	}

	ctx, cancel := context.WithCancel(parent)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	body, err := open(ctx)
	if timer.Stop() && err == nil {
		// The stream lives on; release the context with the turn.
		context.AfterFunc(parent, cancel)
		return body, nil
	}
	cancel()
	if body != nil {
		body.Close()
	}
	if timedOut.Load() {
		return nil, ErrOpenTimeout
	}
	return nil, err
}
