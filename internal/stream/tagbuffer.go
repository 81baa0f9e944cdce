// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"regexp"
	"strings"
)

// =============================================================================
// SPANS
// =============================================================================

// SpanKind distinguishes plain output from think-block content.
type SpanKind int

const (
	PlainText SpanKind = iota
	ThinkBlock
)

// Span is a piece of text released by TagBuffer.
type Span struct {
	Kind    SpanKind
	Content string
}

// =============================================================================
// TAG BUFFER
// =============================================================================

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// thinkPattern matches complete think blocks. The body is non-greedy so the
// first closing tag ends the block; it may be empty and may contain any
// other markup.
var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// TagBuffer incrementally splits streamed text into plain and think spans,
// holding back text that belongs to a think block that has not closed yet.
//
// A TagBuffer belongs to a single turn and is not safe for concurrent use.
type TagBuffer struct {
	pending string
	// inText is set once plain text has been released since the last
	// think block.
	inText bool
}

// Append feeds a chunk and returns the spans that are complete. The
// concatenated output does not depend on how the stream is chunked.
//
// Whitespace-only text at the start of the stream or between two think
// blocks is dropped. Whitespace after the last block is released by Flush.
func (b *TagBuffer) Append(chunk string) []Span {
	if chunk == "" && b.pending == "" {
		return nil
	}
	combined := b.pending + chunk

	var spans []Span
	last := 0
	for _, m := range thinkPattern.FindAllStringSubmatchIndex(combined, -1) {
		if before := combined[last:m[0]]; b.keepGap(before) {
			spans = append(spans, Span{Kind: PlainText, Content: before})
		}
		spans = append(spans, Span{Kind: ThinkBlock, Content: combined[m[2]:m[3]]})
		b.inText = false
		last = m[1]
	}

	rest := combined[last:]

	// Any opening tag left over has no closing tag after it, otherwise the
	// pattern would have matched.
	if strings.Contains(rest, openTag) {
		b.pending = rest
		return spans
	}

	keep := partialOpenSuffix(rest)
	emit := rest[:len(rest)-keep]
	if !b.keepGap(emit) {
		// Undecided until the next non-whitespace text or Flush.
		b.pending = rest
		return spans
	}
	spans = append(spans, Span{Kind: PlainText, Content: emit})
	b.inText = true
	b.pending = rest[len(rest)-keep:]
	return spans
}

// keepGap reports whether plain text s is released. Whitespace-only text
// survives only when it continues plain text already released.
func (b *TagBuffer) keepGap(s string) bool {
	if s == "" {
		return false
	}
	return b.inText || strings.TrimSpace(s) != ""
}

// Flush releases whatever is still held back, for use when the stream ends.
// An unterminated think block is released as a think span.
func (b *TagBuffer) Flush() []Span {
	rest := b.pending
	inText := b.inText
	b.pending = ""
	b.inText = false
	if rest == "" {
		return nil
	}
	i := strings.Index(rest, openTag)
	if i < 0 {
		return []Span{{Kind: PlainText, Content: rest}}
	}
	var spans []Span
	if before := rest[:i]; before != "" && (inText || strings.TrimSpace(before) != "") {
		spans = append(spans, Span{Kind: PlainText, Content: before})
	}
	return append(spans, Span{Kind: ThinkBlock, Content: rest[i+len(openTag):]})
}

// Pending returns the held-back text.
func (b *TagBuffer) Pending() string {
	return b.pending
}

// partialOpenSuffix returns the length of the longest suffix of s that is a
// proper prefix of the opening tag.
func partialOpenSuffix(s string) int {
	for n := len(openTag) - 1; n > 0; n-- {
		if strings.HasSuffix(s, openTag[:n]) {
			return n
		}
	}
	return 0
}
