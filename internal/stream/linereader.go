// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// PARSED LINES
// =============================================================================

// ParsedLine is the result of parsing one complete line. Err is non-nil for
// malformed lines, in which case Value is nil.
type ParsedLine struct {
	Value any
	Raw   string
	Err   error
}

// OK reports whether the line parsed as JSON.
func (p ParsedLine) OK() bool { return p.Err == nil }

// MalformedError describes a line that failed to parse. It never ends a
// stream.
type MalformedError struct {
	Line  string
	Cause error
}

func (e *MalformedError) Error() string {
	return "malformed JSON line: " + e.Cause.Error() + " -- line: " + e.Line
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// =============================================================================
// LINE READER
// =============================================================================

// LineReader splits a byte stream into newline-delimited JSON values.
// Lines may carry an SSE "data:" prefix; other SSE fields and comments are
// skipped. The reader stops at the first object whose "done" field is true.
//
// A LineReader is not safe for concurrent use.
type LineReader struct {
	buf  []byte
	done bool
}

// NewLineReader creates an empty reader.
func NewLineReader() *LineReader {
	return &LineReader{}
}

// Feed appends a chunk and returns every complete line it finished, in
// order. The trailing partial line is retained for the next call.
func (r *LineReader) Feed(chunk []byte) []ParsedLine {
	if r.done {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	var out []ParsedLine
	consumed := 0
	for {
		i := bytes.IndexByte(r.buf[consumed:], '\n')
		if i < 0 {
			break
		}
		line := r.buf[consumed : consumed+i]
		consumed += i + 1

		pl, ok := parseLine(line)
		if !ok {
			continue
		}
		out = append(out, pl)
		if IsDone(pl.Value) {
			r.done = true
			r.buf = nil
			return out
		}
	}

	if consumed > 0 {
		r.buf = append(r.buf[:0:0], r.buf[consumed:]...)
	}
	return out
}

// Close parses the retained fragment once as a last-chance line and ends
// the reader.
func (r *LineReader) Close() []ParsedLine {
	if r.done {
		return nil
	}
	r.done = true
	rest := r.buf
	r.buf = nil
	if pl, ok := parseLine(rest); ok {
		return []ParsedLine{pl}
	}
	return nil
}

// Done reports whether a completion signal was seen or Close was called.
func (r *LineReader) Done() bool {
	return r.done
}

// Buffered returns the number of bytes held for an incomplete line.
func (r *LineReader) Buffered() int {
	return len(r.buf)
}

// parseLine trims and decodes a single line. It returns false for lines
// that carry no payload.
func parseLine(line []byte) (ParsedLine, bool) {
	s := strings.TrimSpace(string(line))
	if s == "" || isSSEField(s) {
		return ParsedLine{}, false
	}
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		s = strings.TrimSpace(rest)
		if s == "" {
			return ParsedLine{}, false
		}
	}
	if s == "[DONE]" {
		return ParsedLine{Value: map[string]any{"done": true}, Raw: s}, true
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return ParsedLine{Raw: s, Err: &MalformedError{Line: s, Cause: err}}, true
	}
	return ParsedLine{Value: v, Raw: s}, true
}

// isSSEField reports comment lines and the SSE fields that never carry a
// payload.
func isSSEField(s string) bool {
	if strings.HasPrefix(s, ":") {
		return true
	}
	for _, f := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(s, f) {
			return true
		}
	}
	return false
}

// IsDone reports whether v is an object carrying a boolean true "done"
// field.
func IsDone(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	done, ok := obj["done"].(bool)
	return ok && done
}
