// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes is enough of a PNG for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestNew(t *testing.T) {
	s := New()
	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), s.ID())
	assert.NotEqual(t, s.ID(), New().ID())

	st := s.GetStatus()
	assert.False(t, st.HasPending)
	assert.Empty(t, st.LastEditedID)
	assert.Zero(t, st.Turns)
}

func TestSession_PendingUploadLifecycle(t *testing.T) {
	s := New()
	assert.Nil(t, s.PendingUpload())
	assert.Nil(t, s.TakePendingUpload())

	first, err := NewPendingUpload("a.png", pngBytes)
	require.NoError(t, err)
	second, err := NewPendingUpload("b.png", pngBytes)
	require.NoError(t, err)

	s.Stage(first)
	s.Stage(second)
	assert.Same(t, second, s.PendingUpload(), "staging replaces the previous image")
	assert.Equal(t, "b.png", s.GetStatus().PendingName)

	assert.Same(t, second, s.TakePendingUpload())
	assert.Nil(t, s.TakePendingUpload(), "a staged image is consumed once")
}

func TestSession_DiscardPendingUpload(t *testing.T) {
	s := New()
	assert.False(t, s.DiscardPendingUpload())

	up, err := NewPendingUpload("", pngBytes)
	require.NoError(t, err)
	s.Stage(up)
	assert.True(t, s.DiscardPendingUpload())
	assert.Nil(t, s.PendingUpload())
}

// Concurrent takers never both receive the same staged image.
func TestSession_TakePendingUploadConcurrent(t *testing.T) {
	s := New()
	up, err := NewPendingUpload("a.png", pngBytes)
	require.NoError(t, err)
	s.Stage(up)

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TakePendingUpload() != nil {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, got)
}

func TestSession_LastImages(t *testing.T) {
	s := New()
	_, ok := s.LastEdited()
	assert.False(t, ok)
	_, ok = s.LastUploaded()
	assert.False(t, ok)

	s.SetLastUploaded(UploadedImage{ID: "u1", Filename: "cat.png"})
	up, ok := s.LastUploaded()
	require.True(t, ok)
	assert.Equal(t, "/uploads/u1_cat.png", up.FullURL())

	s.SetLastEdited(EditedImage{ID: "e1", FullURL: "/uploads/e1_edited.png"})
	ed, ok := s.LastEdited()
	require.True(t, ok)
	assert.Equal(t, "e1", ed.ID)
	assert.Equal(t, "e1", s.GetStatus().LastEditedID)
}

func TestSession_ContinueEditingAndTurns(t *testing.T) {
	s := New()
	assert.False(t, s.ContinueEditing())
	s.SetContinueEditing(true)
	assert.True(t, s.ContinueEditing())

	s.RecordTurn()
	s.RecordTurn()
	st := s.GetStatus()
	assert.Equal(t, 2, st.Turns)
	assert.True(t, st.ContinueEditing)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2 * time.Minute, "2m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

// =============================================================================
// PENDING UPLOAD TESTS
// =============================================================================

func TestNewPendingUpload(t *testing.T) {
	up, err := NewPendingUpload("cat.png", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", up.Filename)
	assert.Equal(t, "image/png", up.ContentType)
	assert.True(t, strings.HasPrefix(up.Preview, "data:image/png;base64,"))
	assert.Equal(t, len(pngBytes), up.Size())
	assert.False(t, up.StagedAt.IsZero())
}

func TestNewPendingUpload_DefaultName(t *testing.T) {
	up, err := NewPendingUpload("", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, DefaultPastedName, up.Filename)
}

func TestNewPendingUpload_Rejects(t *testing.T) {
	_, err := NewPendingUpload("x.png", nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = NewPendingUpload("notes.txt", []byte("just some text"))
	assert.ErrorIs(t, err, ErrNotImage)

	big := make([]byte, MaxUploadBytes+1)
	copy(big, pngBytes)
	_, err = NewPendingUpload("big.png", big)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestLoadPendingUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))

	up, err := LoadPendingUpload(path)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", up.Filename)

	_, err = LoadPendingUpload(dir)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = LoadPendingUpload(filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseDroppedPath(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "cat.png")
	spaced := filepath.Join(dir, "my cat.png")
	require.NoError(t, os.WriteFile(plain, pngBytes, 0o644))
	require.NoError(t, os.WriteFile(spaced, pngBytes, 0o644))

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", plain, plain, true},
		{"padded", "  " + plain + "\n", plain, true},
		{"single quoted", "'" + spaced + "'", spaced, true},
		{"double quoted", `"` + spaced + `"`, spaced, true},
		{"escaped spaces", strings.ReplaceAll(spaced, " ", `\ `), spaced, true},
		{"file url", "file://" + plain, plain, true},
		{"directory", dir, "", false},
		{"missing", filepath.Join(dir, "nope.png"), "", false},
		{"prose", "make it brighter", "", false},
		{"two lines", plain + "\n" + plain, "", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDroppedPath(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// EDITED URL TESTS
// =============================================================================

func TestParseEditedURL(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		ok     bool
	}{
		{"/uploads/abc123_edited.png", "abc123", true},
		{"http://localhost:5000/uploads/9f1c-2b_edited.png", "9f1c-2b", true},
		{"/uploads/a_b_edited.png", "a_b", true},
		{"/uploads/weird.png", "", false},
		{"/uploads/abc123_edited.png?_ts=1", "", false},
		{"/other/abc_edited.png", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			img, ok := ParseEditedURL(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantID, img.ID)
			if ok {
				assert.Equal(t, tt.url, img.FullURL)
			}
		})
	}
}

// =============================================================================
// TOOL CALL TESTS
// =============================================================================

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantArgs string
		ok       bool
	}{
		{
			"flat",
			`Tool call: {"name":"blur","arguments":{"radius":3}}`,
			"blur", `{"radius":3}`, true,
		},
		{
			"operation key",
			`Tool call: {"operation":"grayscale"}`,
			"grayscale", `{}`, true,
		},
		{
			"tool and params",
			`Tool call:{"tool":"rotate","params":{"angle":90}}`,
			"rotate", `{"angle":90}`, true,
		},
		{
			"nested function",
			`Tool call: {"function":{"name":"edit_image","arguments":{"operation":"flip"}}}`,
			"edit_image", `{"operation":"flip"}`, true,
		},
		{
			"string arguments",
			`Tool call: {"name":"pixelate","arguments":"{\"size\":8}"}`,
			"pixelate", `{"size":8}`, true,
		},
		{"no prefix", `{"name":"blur"}`, "", "", false},
		{"bad json", `Tool call: {name}`, "", "", false},
		{"no name", `Tool call: {"arguments":{}}`, "", "", false},
		{"received prefix", `Received tool call: {"name":"blur"}`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ParseToolCall(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantName, tc.Name)
			assert.JSONEq(t, tt.wantArgs, string(tc.Args))
			assert.True(t, json.Valid(tc.Args))
		})
	}
}

func TestSession_LastToolCall(t *testing.T) {
	s := New()
	_, ok := s.LastToolCall()
	assert.False(t, ok)

	tc, ok := ParseToolCall(`Tool call: {"name":"blur"}`)
	require.True(t, ok)
	s.SetLastToolCall(tc)

	got, ok := s.LastToolCall()
	require.True(t, ok)
	assert.Equal(t, "blur", got.Name)
}
