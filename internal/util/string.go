// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended to truncated labels.
const Ellipsis = "…"

// TruncateWidth shortens s to at most maxWidth terminal columns, ending it
// with an ellipsis when anything was cut. Wide runes are never split.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= runewidth.StringWidth(Ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// TruncateMiddle shortens s to maxWidth columns by cutting out its middle,
// which keeps both the start and the extension of a file name visible.
func TruncateMiddle(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 2 {
		return TruncateWidth(s, maxWidth)
	}

	budget := maxWidth - runewidth.StringWidth(Ellipsis)
	tailWidth := budget / 2
	head := runewidth.Truncate(s, budget-tailWidth, "")

	runes := []rune(s)
	var tail []rune
	w := 0
	for i := len(runes) - 1; i >= 0; i-- {
		rw := runewidth.RuneWidth(runes[i])
		if w+rw > tailWidth {
			break
		}
		w += rw
		tail = append([]rune{runes[i]}, tail...)
	}
	return head + Ellipsis + string(tail)
}

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// PadRight pads s with spaces to width columns.
func PadRight(s string, width int) string {
	if w := runewidth.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// FirstLine returns the first line of s without its line ending.
func FirstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatBytes renders a byte count as B, KB or MB with one decimal.
func FormatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// ParseToggle reads an on/off argument. An empty argument flips current.
// The second result is false when arg is not recognised.
func ParseToggle(arg string, current bool) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "":
		return !current, true
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	}
	return false, false
}

// OnOff renders a toggle state.
func OnOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
