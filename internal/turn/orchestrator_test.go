// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/retouch/internal/ollama"
	"github.com/jeranaias/retouch/internal/push"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/upload"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// =============================================================================
// FAKE TRANSPORTS
// =============================================================================

type fakePrimary struct {
	mu    sync.Mutex
	reqs  []ollama.GenerateRequest
	open  func(ctx context.Context) (io.ReadCloser, error)
	calls atomic.Int32
}

func (f *fakePrimary) Generate(ctx context.Context, r ollama.GenerateRequest) (io.ReadCloser, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, r)
	f.mu.Unlock()
	return f.open(ctx)
}

type fakePush struct {
	mu      sync.Mutex
	queries []push.Query
	open    func(ctx context.Context, q push.Query) (io.ReadCloser, error)
}

func (f *fakePush) Open(ctx context.Context, q push.Query) (io.ReadCloser, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.open(ctx, q)
}

func (f *fakePush) Queries() []push.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Query(nil), f.queries...)
}

type fakeUploader struct {
	mu    sync.Mutex
	files []upload.File
	res   *upload.Result
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, file upload.File, instruction string) (*upload.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return f.res, f.err
}

func body(s string) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func pushBody(s string) func(context.Context, push.Query) (io.ReadCloser, error) {
	return func(context.Context, push.Query) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func sse(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}

func newTestOrchestrator(p PrimaryTransport, s PushTransport, u Uploader, opts Options) *Orchestrator {
	return New(p, s, u, opts, zerolog.Nop())
}

func kinds(blocks []render.Block) []render.BlockKind {
	out := make([]render.BlockKind, len(blocks))
	for i, b := range blocks {
		out[i] = b.Kind
	}
	return out
}

func lastBlock(t *testing.T, blocks []render.Block) render.Block {
	t.Helper()
	require.NotEmpty(t, blocks)
	return blocks[len(blocks)-1]
}

// =============================================================================
// STREAMING
// =============================================================================

func TestRun_PrimaryStreamsTextAndThinkBlocks(t *testing.T) {
	primary := &fakePrimary{open: body(
		`{"response":"hello <thi"}` + "\n" +
			`{"response":"nk>secret</think> world"}` + "\n" +
			`{"done":true}` + "\n" +
			`{"response":"ignored"}` + "\n",
	)}
	o := newTestOrchestrator(primary, nil, nil, Options{UsePrimary: true, Model: "qwen2.5:7b"})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "hi"}, tr)
	require.NoError(t, err)

	assert.Equal(t, StateDone, tn.State())
	assert.Equal(t, TransportPrimary, tn.Transport())

	blocks := tr.Blocks(tn.ID())
	require.Len(t, blocks, 5)
	assert.Equal(t, []render.BlockKind{
		render.BlockUser, render.BlockText, render.BlockThink, render.BlockText, render.BlockStatus,
	}, kinds(blocks))
	assert.Equal(t, "hi", blocks[0].Text)
	assert.Equal(t, "hello ", blocks[1].Text)
	assert.Equal(t, "secret", blocks[2].Text)
	assert.True(t, blocks[2].Collapsed)
	assert.Equal(t, " world", blocks[3].Text)
	assert.Equal(t, render.DoneNote, blocks[4].Text)

	require.Len(t, primary.reqs, 1)
	assert.Equal(t, "hi", primary.reqs[0].Prompt)
	assert.Equal(t, "qwen2.5:7b", primary.reqs[0].Model)
}

func TestRun_PrimaryChoicesShape(t *testing.T) {
	primary := &fakePrimary{open: body(`{"choices":[{"delta":{"content":"ab"}},{"delta":"cd"}]}` + "\n")}
	o := newTestOrchestrator(primary, nil, nil, Options{UsePrimary: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, "abcd", tr.PlainText(tn.ID()))
}

func TestRun_EndOfStreamWithoutSignalIsDone(t *testing.T) {
	// The last line has no trailing newline.
	primary := &fakePrimary{open: body("not json\n" + `{"response":"a"}` + "\n" + `{"response":"b <think>half"}`)}
	o := newTestOrchestrator(primary, nil, nil, Options{UsePrimary: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, tn.State())

	blocks := tr.Blocks(tn.ID())
	assert.Equal(t, []render.BlockKind{
		render.BlockUser, render.BlockText, render.BlockThink, render.BlockStatus,
	}, kinds(blocks))
	assert.Equal(t, "ab ", blocks[1].Text)
	assert.Equal(t, "half", blocks[2].Text, "unterminated block is released at the end")
}

func TestRun_ReadFailureEndsInError(t *testing.T) {
	primary := &fakePrimary{open: func(context.Context) (io.ReadCloser, error) {
		r := io.MultiReader(
			strings.NewReader(`{"response":"partial"}`+"\n"),
			iotest.ErrReader(errors.New("connection reset")),
		)
		return io.NopCloser(r), nil
	}}
	o := newTestOrchestrator(primary, nil, nil, Options{UsePrimary: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.Error(t, err)
	assert.True(t, IsStreamError(err))
	assert.Equal(t, StateError, tn.State())
	assert.Equal(t, "partial", tr.PlainText(tn.ID()))
	assert.Equal(t, render.ErrorPrefix+err.Error(), lastBlock(t, tr.Blocks(tn.ID())).Text)
}

func TestRun_PushImageRecordsEditedImage(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(
		`{"type":"ai","text":"Working on it"}`,
		`{"type":"image","thumbnail":"data:image/png;base64,AA==","full_url":"/uploads/abc123_edited.png"}`,
		`{"type":"ai","text":"never rendered"}`,
	))}
	o := newTestOrchestrator(nil, pushT, nil, Options{})
	sess := session.New()
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), sess, Request{Instruction: "make it blue"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, tn.State())
	assert.Equal(t, TransportPush, tn.Transport())

	blocks := tr.Blocks(tn.ID())
	assert.Equal(t, []render.BlockKind{
		render.BlockUser, render.BlockText, render.BlockImage, render.BlockStatus,
	}, kinds(blocks))
	assert.Equal(t, "/uploads/abc123_edited.png", blocks[2].FullURL)

	edited, ok := sess.LastEdited()
	require.True(t, ok)
	assert.Equal(t, "abc123", edited.ID)

	q := pushT.Queries()
	require.Len(t, q, 1)
	assert.True(t, q[0].ChatOnly)
	assert.Equal(t, "make it blue", q[0].Instruction)
}

func TestRun_PushImageWithUnexpectedURL(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(`{"type":"image","thumbnail":"t","full_url":"/uploads/weird.png"}`))}
	o := newTestOrchestrator(nil, pushT, nil, Options{})
	sess := session.New()
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), sess, Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, tn.State())
	assert.Equal(t, "/uploads/weird.png", tr.Blocks(tn.ID())[1].FullURL)

	_, ok := sess.LastEdited()
	assert.False(t, ok)
}

func TestRun_CompletionKeywordClosesPushStream(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(
		`{"type":"ai","text":"All "}`,
		`{"type":"ai","text":"Done"}`,
		`{"type":"image","thumbnail":"t","full_url":"/uploads/late_edited.png"}`,
	))}
	o := newTestOrchestrator(nil, pushT, nil, Options{})
	sess := session.New()
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), sess, Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, tn.State())
	assert.Equal(t, "All Done", tr.PlainText(tn.ID()))

	_, ok := sess.LastEdited()
	assert.False(t, ok, "events after the keyword are not processed")
}

func TestRun_UnknownPushTypesAreIgnored(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(
		`{"type":"done"}`,
		`{"type":"error","text":"intermediate"}`,
		`{"type":"status","text":"Loading model"}`,
		`{"type":"image","thumbnail":"data:image/png;base64,AA==","full_url":"/uploads/abc123_edited.png"}`,
	))}
	o := newTestOrchestrator(nil, pushT, nil, Options{})
	sess := session.New()
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), sess, Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, tn.State())

	blocks := tr.Blocks(tn.ID())
	require.Len(t, blocks, 3)
	assert.Equal(t, render.BlockImage, blocks[1].Kind)
	assert.Equal(t, "/uploads/abc123_edited.png", blocks[1].FullURL)
	assert.Equal(t, render.DoneNote, blocks[2].Text)

	edited, ok := sess.LastEdited()
	require.True(t, ok)
	assert.Equal(t, "abc123", edited.ID)
}

// =============================================================================
// FALLBACK AND OPEN FAILURES
// =============================================================================

func TestRun_FallsBackOnceToPush(t *testing.T) {
	primary := &fakePrimary{open: func(context.Context) (io.ReadCloser, error) {
		return nil, ollama.ErrNotRunning
	}}
	pushT := &fakePush{open: pushBody(sse(`{"type":"ai","text":"from push"}`))}
	o := newTestOrchestrator(primary, pushT, nil, Options{UsePrimary: true, Fallback: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, TransportPush, tn.Transport())
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Len(t, pushT.Queries(), 1)

	notes := 0
	for _, b := range tr.Blocks(tn.ID()) {
		if b.Kind == render.BlockStatus && b.Text == FallbackNote {
			notes++
		}
	}
	assert.Equal(t, 1, notes)
	assert.Equal(t, "from push", tr.PlainText(tn.ID()))
}

func TestRun_NoFallbackWhenDisabled(t *testing.T) {
	primary := &fakePrimary{open: func(context.Context) (io.ReadCloser, error) {
		return nil, ollama.ErrNotRunning
	}}
	pushT := &fakePush{open: pushBody("")}
	o := newTestOrchestrator(primary, pushT, nil, Options{UsePrimary: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.True(t, ollama.IsNotRunning(err))
	assert.Equal(t, StateError, tn.State())
	assert.Empty(t, pushT.Queries())
}

func TestRun_PushOpenFailureFallsBackOnlyOnce(t *testing.T) {
	primary := &fakePrimary{open: func(context.Context) (io.ReadCloser, error) {
		return nil, ollama.ErrNotRunning
	}}
	pushT := &fakePush{open: func(context.Context, push.Query) (io.ReadCloser, error) {
		return nil, &push.OpenError{Status: 502, Message: "bad gateway"}
	}}
	o := newTestOrchestrator(primary, pushT, nil, Options{UsePrimary: true, Fallback: true})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.Error(t, err)

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, TransportPush, oe.Transport)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Len(t, pushT.Queries(), 1)
	assert.Equal(t, StateError, tn.State())
}

func TestRun_OpenTimeout(t *testing.T) {
	pushT := &fakePush{open: func(ctx context.Context, _ push.Query) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestOrchestrator(nil, pushT, nil, Options{OpenTimeout: 20 * time.Millisecond})
	tr := render.NewTranscript()

	tn, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpenTimeout)
	assert.Equal(t, StateError, tn.State())
}

func TestRun_NoTransport(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, Options{})
	_, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, render.NewTranscript())
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestSetUsePrimary_AppliesToLaterTurns(t *testing.T) {
	primary := &fakePrimary{open: body(`{"response":"p"}` + "\n")}
	pushT := &fakePush{open: pushBody(sse(`{"type":"ai","text":"s"}`))}
	o := newTestOrchestrator(primary, pushT, nil, Options{})

	tr := render.NewTranscript()
	first, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, TransportPush, first.Transport())

	o.SetUsePrimary(true)
	assert.True(t, o.Options().UsePrimary)
	second, err := o.Run(context.Background(), session.New(), Request{Instruction: "x"}, tr)
	require.NoError(t, err)
	assert.Equal(t, TransportPrimary, second.Transport())
}

func TestSetOptions_ReplacesEverything(t *testing.T) {
	o := newTestOrchestrator(nil, nil, nil, Options{UsePrimary: true, Fallback: true, Model: "a"})

	o.SetOptions(Options{Model: "b", OpenTimeout: time.Second})
	assert.Equal(t, Options{Model: "b", OpenTimeout: time.Second}, o.Options())
}

// =============================================================================
// UPLOADS AND SUBMIT
// =============================================================================

func TestRun_PendingUploadIsUploadedAndConsumedOnce(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(`{"type":"image","thumbnail":"t","full_url":"/uploads/u1_edited.png"}`))}
	up := &fakeUploader{res: &upload.Result{ID: "u1", Filename: "cat.png"}}
	o := newTestOrchestrator(nil, pushT, up, Options{})
	sess := session.New()

	staged, err := session.NewPendingUpload("cat.png", pngBytes)
	require.NoError(t, err)
	sess.Stage(staged)

	tr := render.NewTranscript()
	tn, err := o.Run(context.Background(), sess, Request{Instruction: "remove background"}, tr)
	require.NoError(t, err)
	assert.Equal(t, SourceUpload, tn.Source())
	assert.Equal(t, `Upload: cat.png "remove background"`, tn.UserText())
	assert.Equal(t, staged.Preview, tn.Preview())
	assert.Nil(t, sess.PendingUpload())

	require.Len(t, up.files, 1)
	assert.Equal(t, "image/png", up.files[0].ContentType)

	q := pushT.Queries()
	require.Len(t, q, 1)
	assert.Equal(t, push.Query{ID: "u1", Filename: "cat.png", Instruction: "remove background"}, q[0])

	uploaded, ok := sess.LastUploaded()
	require.True(t, ok)
	assert.Equal(t, "u1", uploaded.ID)

	_, err = o.Submit(context.Background(), sess, Request{})
	assert.ErrorIs(t, err, ErrNoInput, "the staged image is not sent twice")
}

func TestRun_UploadErrorOpensNoStream(t *testing.T) {
	pushT := &fakePush{open: pushBody("")}
	up := &fakeUploader{err: &upload.Error{Status: 400, Message: "bad image"}}
	o := newTestOrchestrator(nil, pushT, up, Options{})
	sess := session.New()

	staged, err := session.NewPendingUpload("cat.png", pngBytes)
	require.NoError(t, err)
	sess.Stage(staged)

	tr := render.NewTranscript()
	tn, err := o.Run(context.Background(), sess, Request{Instruction: "x"}, tr)
	require.Error(t, err)
	assert.Equal(t, StateError, tn.State())
	assert.Empty(t, pushT.Queries())

	last := lastBlock(t, tr.Blocks(tn.ID()))
	assert.Equal(t, render.BlockStatus, last.Kind)
	assert.Equal(t, "Upload error: bad image", last.Text)
}

func TestRun_ToolCallIsForwardedOnEditedTurn(t *testing.T) {
	pushT := &fakePush{open: pushBody(sse(
		`{"type":"ai","text":"Tool call: {\"function\":{\"name\":\"edit_image\",\"arguments\":{\"op\":\"crop\"}}}"}`,
		`{"type":"image","thumbnail":"t","full_url":"/uploads/abc123_edited.png"}`,
	))}
	o := newTestOrchestrator(nil, pushT, nil, Options{})
	sess := session.New()

	_, err := o.Run(context.Background(), sess, Request{Instruction: "crop it"}, render.NewTranscript())
	require.NoError(t, err)

	tc, ok := sess.LastToolCall()
	require.True(t, ok)
	assert.Equal(t, "edit_image", tc.Name)

	tn, err := o.Run(context.Background(), sess, Request{Instruction: "tighter", ContinueEditing: true}, render.NewTranscript())
	require.NoError(t, err)
	assert.Equal(t, SourceEdited, tn.Source())
	assert.Equal(t, `Continue editing last image: "tighter"`, tn.UserText())

	q := pushT.Queries()
	require.Len(t, q, 2)
	assert.True(t, q[0].ChatOnly, "chat turns carry no tool call")
	assert.Empty(t, q[0].Operation)
	assert.Equal(t, push.Query{
		ID:          "abc123",
		Instruction: "tighter",
		Source:      push.SourceEdited,
		Operation:   "edit_image",
		OpParams:    `{"op":"crop"}`,
	}, q[1])
}

func TestSubmit_SourcePriority(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(imgPath, pngBytes, 0o600))

	never := &fakePush{open: func(ctx context.Context, _ push.Query) (io.ReadCloser, error) {
		return nil, errors.New("not used")
	}}
	up := &fakeUploader{err: errors.New("not used")}

	tests := []struct {
		name    string
		setup   func(s *session.Session)
		req     Request
		want    SourceKind
		wantErr error
	}{
		{name: "blank", req: Request{Instruction: "  "}, wantErr: ErrNoInput},
		{name: "chat", req: Request{Instruction: "hi"}, want: SourceChat},
		{name: "image path", req: Request{ImagePath: imgPath}, want: SourceUpload},
		{
			name: "staged beats path",
			setup: func(s *session.Session) {
				p, _ := session.NewPendingUpload("staged.png", pngBytes)
				s.Stage(p)
			},
			req:  Request{ImagePath: imgPath},
			want: SourceUpload,
		},
		{
			name:    "continue without edited image",
			req:     Request{ContinueEditing: true},
			wantErr: ErrNoInput,
		},
		{
			name: "continue without edited image falls back to chat",
			req:  Request{Instruction: "hi", ContinueEditing: true},
			want: SourceChat,
		},
		{
			name: "session continue flag",
			setup: func(s *session.Session) {
				s.SetLastEdited(session.EditedImage{ID: "e1", FullURL: "/uploads/e1_edited.png"})
				s.SetContinueEditing(true)
			},
			req:  Request{Instruction: "more"},
			want: SourceEdited,
		},
		{
			name: "path beats continue",
			setup: func(s *session.Session) {
				s.SetLastEdited(session.EditedImage{ID: "e1", FullURL: "/uploads/e1_edited.png"})
			},
			req:  Request{ImagePath: imgPath, ContinueEditing: true},
			want: SourceUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(nil, never, up, Options{})
			sess := session.New()
			if tt.setup != nil {
				tt.setup(sess)
			}

			tn, err := o.Submit(context.Background(), sess, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, tn)
				return
			}
			require.NoError(t, err)
			_, _ = Drain(context.Background(), tn, render.NewTranscript())
			assert.Equal(t, tt.want, tn.Source())
		})
	}
}

func TestSubmit_StagedUploadWinsOverPath(t *testing.T) {
	up := &fakeUploader{err: errors.New("offline")}
	o := newTestOrchestrator(nil, &fakePush{open: pushBody("")}, up, Options{})
	sess := session.New()
	staged, err := session.NewPendingUpload("staged.png", pngBytes)
	require.NoError(t, err)
	sess.Stage(staged)

	tn, err := o.Submit(context.Background(), sess, Request{ImagePath: "/does/not/matter.png"})
	require.NoError(t, err)
	_, _ = Drain(context.Background(), tn, render.NewTranscript())

	require.Len(t, up.files, 1)
	assert.Equal(t, "staged.png", up.files[0].Name)
}

func TestSubmit_UnreadableImagePath(t *testing.T) {
	o := newTestOrchestrator(nil, &fakePush{open: pushBody("")}, &fakeUploader{}, Options{})
	sess := session.New()

	_, err := o.Submit(context.Background(), sess, Request{ImagePath: filepath.Join(t.TempDir(), "missing.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load image")
	assert.Zero(t, sess.GetStatus().Turns)
}

// =============================================================================
// CANCELLATION
// =============================================================================

// streamingPush returns a push transport whose body delivers one text
// payload and then blocks until it is closed.
func streamingPush() *fakePush {
	return &fakePush{open: func(context.Context, push.Query) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = pw.Write([]byte(sse(`{"type":"ai","text":"partial"}`)))
		}()
		return pr, nil
	}}
}

func TestCancel_RendersOneTerminalStatus(t *testing.T) {
	o := newTestOrchestrator(nil, streamingPush(), nil, Options{})

	tn, err := o.Submit(context.Background(), session.New(), Request{Instruction: "x"})
	require.NoError(t, err)

	first := <-tn.Events()
	assert.Equal(t, render.Text("partial"), first)

	tn.Cancel()
	tn.Cancel()

	var rest []render.Event
	for ev := range tn.Events() {
		rest = append(rest, ev)
	}
	require.Len(t, rest, 1)
	assert.True(t, rest[0].Final)
	assert.Equal(t, render.KindStatusNote, rest[0].Kind)
	assert.Equal(t, render.CancelledNote, rest[0].Message)

	state, err := tn.Wait()
	assert.Equal(t, StateCancelled, state)
	assert.NoError(t, err)
}

// cancelOnText cancels the run as soon as the first text arrives.
type cancelOnText struct {
	*render.Transcript
	cancel context.CancelFunc
}

func (c cancelOnText) AppendText(turnID, text string) {
	c.Transcript.AppendText(turnID, text)
	c.cancel()
}

func TestRun_ContextCancelStopsTurn(t *testing.T) {
	o := newTestOrchestrator(nil, streamingPush(), nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := cancelOnText{Transcript: render.NewTranscript(), cancel: cancel}

	tn, err := o.Run(ctx, session.New(), Request{Instruction: "x"}, sink)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, tn.State())

	blocks := sink.Blocks(tn.ID())
	assert.Equal(t, []render.BlockKind{render.BlockUser, render.BlockText, render.BlockStatus}, kinds(blocks))
	assert.Equal(t, render.CancelledNote, blocks[2].Text)
}

func TestCancel_BeforeOpen(t *testing.T) {
	opened := make(chan struct{})
	pushT := &fakePush{open: func(ctx context.Context, _ push.Query) (io.ReadCloser, error) {
		close(opened)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestOrchestrator(nil, pushT, nil, Options{})

	tn, err := o.Submit(context.Background(), session.New(), Request{Instruction: "x"})
	require.NoError(t, err)
	<-opened
	tn.Cancel()

	tr := render.NewTranscript()
	state, err := Drain(context.Background(), tn, tr)
	assert.Equal(t, StateCancelled, state)
	assert.NoError(t, err)
	assert.Equal(t, render.CancelledNote, lastBlock(t, tr.Blocks(tn.ID())).Text)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRun_ConcurrentTurnsAreIndependent(t *testing.T) {
	primary := &fakePrimary{open: body(
		`{"response":"<think>a"}` + "\n" + `{"response":"b</think>tail"}` + "\n",
	)}
	o := newTestOrchestrator(primary, nil, nil, Options{UsePrimary: true})
	sess := session.New()

	const n = 8
	tr := render.NewTranscript()
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tn, err := o.Run(context.Background(), sess, Request{Instruction: "x"}, tr)
			if assert.NoError(t, err) {
				ids[i] = tn.ID()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, sess.GetStatus().Turns)
	for _, id := range ids {
		blocks := tr.Blocks(id)
		require.Len(t, blocks, 4)
		assert.Equal(t, "ab", blocks[1].Text)
		assert.Equal(t, "tail", blocks[2].Text)
	}
}
