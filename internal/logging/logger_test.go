// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"", false, true},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug message"))
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "info message"))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("TRACE"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "turn")
	logger.Info().Str("turn_id", "t1").Msg("opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn", entry["component"])
	assert.Equal(t, "t1", entry["turn_id"])
	assert.Equal(t, "opened", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Output: &buf})
	l := Component(base, "push")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"push"`)
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.NotContains(t, out, "\x1b[", "non-terminal output is not colored")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "retouch.log")
	f, err := OpenFile(path)
	require.NoError(t, err)

	logger := New(Config{Output: f})
	logger.Info().Msg("to file")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	// Reopening appends.
	f, err = OpenFile(path)
	require.NoError(t, err)
	l := New(Config{Output: f})
	l.Info().Msg("again")
	require.NoError(t, f.Close())
	data, _ = os.ReadFile(path)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
