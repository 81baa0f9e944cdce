// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/retouch/internal/config"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/ui/styles"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// fakeBackend serves the upload, push and Ollama endpoints.
type fakeBackend struct {
	mu      sync.Mutex
	uploads int
	streams []string
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		_, _, err := r.FormFile("image")
		assert.NoError(t, err)
		b.mu.Lock()
		b.uploads++
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": "abc", "filename": "cat.png"})
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		writeSSE(w,
			`{"type":"ai","text":"<think>plan</think>Applying grayscale"}`,
			`{"type":"image","thumbnail":"data:image/png;base64,AAAA","full_url":"/uploads/abc_edited.png"}`,
		)
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		writeSSE(w, `{"type":"ai","text":"Hello there"}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"qwen2.5:7b","size":4683087332},{"name":"llava:13b","size":8011256494}]}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	return mux
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, r.URL.Path+"?"+r.URL.RawQuery)
}

func (b *fakeBackend) Streams() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.streams...)
}

func writeSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
}

// newTestApp wires an App against a fake backend and captures its output.
func newTestApp(t *testing.T) (*App, *fakeBackend, *bytes.Buffer) {
	t.Helper()
	t.Setenv("RETOUCH_HOME", t.TempDir())

	b := &fakeBackend{}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	cfg.Ollama.URL = srv.URL

	app := NewApp(cfg, zerolog.Nop())
	out := &bytes.Buffer{}
	app.Out = out
	return app, b, out
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))
	return path
}

// =============================================================================
// CONSOLE SINK
// =============================================================================

func newSink(out io.Writer, showThink bool) *ConsoleSink {
	return NewConsoleSink(out, ConsoleOptions{
		ShowThink: showThink,
		BaseURL:   "http://h:5000",
		Width:     80,
		Theme:     styles.NewTheme(styles.ModeDark),
	})
}

func TestConsoleSink_PrintsTurnInOrder(t *testing.T) {
	var out bytes.Buffer
	s := newSink(&out, false)

	s.BeginTurn("t1", "make it grey", "")
	s.AppendText("t1", "Hel")
	s.AppendText("t1", "lo")
	s.AppendThinkBlock("t1", "first\nsecond")
	s.AppendImage("t1", "data:image/png;base64,AAAA", "/uploads/x_edited.png")
	s.AppendStatus("t1", render.DoneNote)

	got := out.String()
	assert.Contains(t, got, "you ›")
	assert.Contains(t, got, "make it grey")
	assert.Contains(t, got, "Hello\n")
	assert.Contains(t, got, "thinking (2 lines hidden)")
	assert.NotContains(t, got, "first")
	assert.Contains(t, got, "http://h:5000/uploads/x_edited.png")
	assert.Contains(t, got, "image/png thumbnail")
	assert.Contains(t, got, "[OK] [done]")

	assert.Less(t, strings.Index(got, "Hello"), strings.Index(got, "thinking"))
	assert.Less(t, strings.Index(got, "thinking"), strings.Index(got, "x_edited"))
}

func TestConsoleSink_ShowThink(t *testing.T) {
	var out bytes.Buffer
	s := newSink(&out, false)
	s.SetShowThink(true)
	assert.True(t, s.ShowThink())

	s.AppendThinkBlock("t1", "the reasoning")
	assert.Contains(t, out.String(), "the reasoning")
}

func TestConsoleSink_StatusKinds(t *testing.T) {
	var out bytes.Buffer
	s := newSink(&out, false)

	s.AppendStatus("t1", "Primary stream unavailable, falling back to server stream")
	s.AppendStatus("t1", render.ErrorPrefix+"boom")
	s.AppendStatus("t2", render.CancelledNote)

	got := out.String()
	assert.Contains(t, got, "[i] Primary stream unavailable")
	assert.Contains(t, got, "[X] [stream error] boom")
	assert.Contains(t, got, "[-] [cancelled]")
	assert.Empty(t, s.turns)
}

func TestConsoleSink_MarkdownBuffersUntilTurnEnds(t *testing.T) {
	var out bytes.Buffer
	s := NewConsoleSink(&out, ConsoleOptions{Markdown: true, Width: 80, Theme: styles.NewTheme(styles.ModeDark)})

	s.AppendText("t1", "streamed ")
	s.AppendText("t1", "words")
	assert.Empty(t, out.String())

	s.AppendStatus("t1", render.DoneNote)
	assert.Contains(t, out.String(), "streamed")
	assert.Contains(t, out.String(), "words")
}

// =============================================================================
// ASK
// =============================================================================

func TestRunAsk_UploadsAndStreamsEdit(t *testing.T) {
	app, b, out := newTestApp(t)

	err := RunAsk(testContext(t), app, AskOptions{Instruction: "grayscale", ImagePath: writePNG(t)})
	require.NoError(t, err)

	assert.Equal(t, 1, b.uploads)
	require.Len(t, b.Streams(), 1)
	assert.Contains(t, b.Streams()[0], "/stream?")
	assert.Contains(t, b.Streams()[0], "id=abc")

	got := out.String()
	assert.Contains(t, got, "Applying grayscale")
	assert.Contains(t, got, "thinking (1 line hidden)")
	assert.Contains(t, got, "/uploads/abc_edited.png")
	assert.Contains(t, got, "--edit-id abc")

	edited, ok := app.Session.LastEdited()
	require.True(t, ok)
	assert.Equal(t, "abc", edited.ID)
}

func TestRunAsk_EditIDContinuesEditing(t *testing.T) {
	app, b, _ := newTestApp(t)

	require.NoError(t, RunAsk(testContext(t), app, AskOptions{Instruction: "more", EditID: "abc"}))

	require.Len(t, b.Streams(), 1)
	assert.Contains(t, b.Streams()[0], "source=edited")
	assert.Equal(t, 0, b.uploads)
}

func TestRunAsk_InvalidEditID(t *testing.T) {
	app, _, _ := newTestApp(t)
	err := RunAsk(testContext(t), app, AskOptions{Instruction: "x", EditID: "a/b"})
	assert.Error(t, err)
}

func TestRunAsk_ChatOnly(t *testing.T) {
	app, b, out := newTestApp(t)

	require.NoError(t, RunAsk(testContext(t), app, AskOptions{Instruction: "hi"}))
	require.Len(t, b.Streams(), 1)
	assert.Contains(t, b.Streams()[0], "/chat?")
	assert.Contains(t, out.String(), "Hello there")
}

func TestRunAsk_NoInput(t *testing.T) {
	app, _, _ := newTestApp(t)
	err := RunAsk(testContext(t), app, AskOptions{})
	assert.Error(t, err)
}

// =============================================================================
// CHAT REPL
// =============================================================================

type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestRunChat_DroppedPathIsStagedAndSentOnce(t *testing.T) {
	app, b, out := newTestApp(t)
	path := writePNG(t)

	in := &scriptedInput{lines: []string{"'" + path + "'", "grayscale", "again"}}
	require.NoError(t, RunChat(testContext(t), app, in, ChatOptions{}))

	assert.Equal(t, 1, b.uploads)
	streams := b.Streams()
	require.Len(t, streams, 2)
	assert.Contains(t, streams[0], "/stream?")
	assert.Contains(t, streams[1], "/chat?")
	assert.Contains(t, out.String(), "staged cat.png")
}

func TestRunChat_TypedPathToNonImageIsSent(t *testing.T) {
	app, b, out := newTestApp(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("brighten the sky"), 0o644))

	in := &scriptedInput{lines: []string{path}}
	require.NoError(t, RunChat(testContext(t), app, in, ChatOptions{}))

	assert.Nil(t, app.Session.PendingUpload())
	require.Len(t, b.Streams(), 1)
	assert.Contains(t, b.Streams()[0], "/chat?")
	assert.NotContains(t, out.String(), "staged")
	assert.NotContains(t, out.String(), "[Error]")
}

func TestRunChat_UnreachableBackend(t *testing.T) {
	app, _, out := newTestApp(t)
	app.Config.Server.BaseURL = "http://127.0.0.1:1"
	app = NewApp(app.Config, zerolog.Nop())
	app.Out = out

	in := &scriptedInput{lines: []string{"grayscale"}}
	require.NoError(t, RunChat(testContext(t), app, in, ChatOptions{}))

	assert.Contains(t, out.String(), "backend unreachable at http://127.0.0.1:1")
}

func TestRunChat_StatusShowsLastUpload(t *testing.T) {
	app, _, out := newTestApp(t)
	path := writePNG(t)

	in := &scriptedInput{lines: []string{"/status", path, "grayscale", "/status"}}
	require.NoError(t, RunChat(testContext(t), app, in, ChatOptions{}))

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "last upload:"))
	assert.Contains(t, got, "last upload: "+app.Config.Server.BaseURL+"/uploads/abc_cat.png")
}

func TestRunChat_SlashCommands(t *testing.T) {
	app, _, out := newTestApp(t)
	path := writePNG(t)

	in := &scriptedInput{lines: []string{
		"/attach " + path,
		"/attach " + path,
		"/detach",
		"/detach",
		"/continue on",
		"/primary",
		"/think on",
		"/status",
		"/bogus",
		"/help",
		"/quit",
		"never read",
	}}
	require.NoError(t, RunChat(testContext(t), app, in, ChatOptions{}))

	got := out.String()
	assert.Contains(t, got, "replacing the previous image")
	assert.Contains(t, got, "staged image removed")
	assert.Contains(t, got, "no image staged")
	assert.Contains(t, got, "continue editing: on")
	assert.Contains(t, got, "primary transport: on")
	assert.Contains(t, got, "show think blocks: on")
	assert.Contains(t, got, `"ContinueEditing": true`)
	assert.Contains(t, got, "unknown command /bogus")
	assert.Contains(t, got, "/attach <path>")

	assert.True(t, app.Session.ContinueEditing())
	assert.True(t, app.Orchestrator.Options().UsePrimary)
	assert.Nil(t, app.Session.PendingUpload())
	assert.Equal(t, []string{"never read"}, in.lines)
}

// =============================================================================
// STATUS AND CONFIG
// =============================================================================

func TestCheckStatus(t *testing.T) {
	app, _, out := newTestApp(t)

	r := CheckStatus(testContext(t), app)
	assert.True(t, r.Backend.OK)
	assert.True(t, r.Ollama.OK)
	assert.True(t, r.Ollama.HasModel)
	assert.Equal(t, []ModelStatus{
		{Name: "qwen2.5:7b", Size: "4.4 GB"},
		{Name: "llava:13b", Size: "7.5 GB"},
	}, r.Ollama.Models)

	require.NoError(t, printStatus(app, r, false))
	assert.Contains(t, out.String(), "[OK]")
	assert.Contains(t, out.String(), "backend push stream")
	assert.Contains(t, out.String(), "llava:13b")
	assert.Contains(t, out.String(), "7.5 GB")
}

func TestCheckStatus_UntaggedModelMatchesLatest(t *testing.T) {
	app, _, _ := newTestApp(t)
	tags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			io.WriteString(w, `{"models":[{"name":"llama3:latest","size":512}]}`)
			return
		}
		io.WriteString(w, "ok")
	}))
	t.Cleanup(tags.Close)
	app.Config.Ollama.URL = tags.URL
	app.Config.Ollama.Model = "llama3"
	app.Ollama = NewApp(app.Config, zerolog.Nop()).Ollama

	r := CheckStatus(testContext(t), app)
	assert.True(t, r.Ollama.OK)
	assert.True(t, r.Ollama.HasModel)
	assert.Equal(t, []ModelStatus{{Name: "llama3:latest", Size: "512 B"}}, r.Ollama.Models)
}

func TestCheckStatus_Unreachable(t *testing.T) {
	app, _, _ := newTestApp(t)
	app.Config.Ollama.URL = "http://127.0.0.1:1"
	app.Ollama = NewApp(app.Config, zerolog.Nop()).Ollama

	r := CheckStatus(testContext(t), app)
	assert.True(t, r.Backend.OK)
	assert.False(t, r.Ollama.OK)
	assert.NotEmpty(t, r.Ollama.Error)
}

func TestInitConfig(t *testing.T) {
	t.Setenv("RETOUCH_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	got, err := initConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.BaseURL, cfg.Server.BaseURL)

	_, err = initConfig(path, false)
	assert.ErrorContains(t, err, "already exists")

	_, err = initConfig(path, true)
	assert.NoError(t, err)
}

func TestRootCommand_ConfigGetAndPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RETOUCH_HOME", home)

	var out bytes.Buffer
	root := NewRootCommand(nil)
	root.SetOut(&out)
	root.SetArgs([]string{"config", "get", "ollama.model"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "qwen2.5:7b\n", out.String())

	out.Reset()
	root = NewRootCommand(nil)
	root.SetOut(&out)
	root.SetArgs([]string{"config", "path"})
	require.NoError(t, root.Execute())
	assert.Equal(t, filepath.Join(home, "config.toml")+"\n", out.String())
}

func TestRootCommand_NoColorFlag(t *testing.T) {
	t.Setenv("RETOUCH_HOME", t.TempDir())
	t.Setenv("FORCE_COLOR", "1")
	t.Cleanup(func() {
		colorsEnabledOnce = sync.Once{}
		applyColorProfile()
	})
	ForceColorsEnabled(true)

	root := NewRootCommand(nil)
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--no-color", "config", "path"})
	require.NoError(t, root.Execute())

	assert.False(t, ColorsEnabled())
	assert.Equal(t, termenv.Ascii, lipgloss.ColorProfile())
}

func TestRootCommand_PrimaryFlagOverridesConfig(t *testing.T) {
	t.Setenv("RETOUCH_HOME", t.TempDir())

	var got *App
	root := NewRootCommand(func(_ context.Context, app *App) error {
		got = app
		return nil
	})
	root.SetArgs([]string{"tui", "--primary", "--log-level", "debug"})
	require.NoError(t, root.Execute())

	require.NotNil(t, got)
	assert.True(t, got.Config.Transport.UsePrimary)
	assert.True(t, got.Orchestrator.Options().UsePrimary)
	assert.Equal(t, "debug", got.Config.Log.Level)
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
