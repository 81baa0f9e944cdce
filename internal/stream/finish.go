// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"regexp"
	"strings"
)

// finishedPattern matches text that announces the end of a push stream.
// This sniffs content rather than protocol state: a model that genuinely
// writes the word "done" ends its own stream early.
var finishedPattern = regexp.MustCompile(`(?i:\bdone\b)|\bFinished\b`)

// maxCarry bounds the partial word carried between payloads.
const maxCarry = 16

// FinishDetector scans streamed text for a completion keyword, including a
// keyword split across two payloads.
type FinishDetector struct {
	carry string
}

// Observe adds text and reports whether the completion keyword has
// appeared.
func (d *FinishDetector) Observe(text string) bool {
	if text == "" {
		return false
	}
	window := d.carry + text
	d.carry = trailingWord(window)
	return finishedPattern.MatchString(window)
}

// trailingWord returns the unfinished word at the end of s, or "" when it
// is too long to be part of a keyword.
func trailingWord(s string) string {
	i := strings.LastIndexAny(s, " \t\r\n")
	w := s[i+1:]
	if len(w) > maxCarry {
		return ""
	}
	return w
}
