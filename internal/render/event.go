// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render defines the canonical render events produced by a turn and
// the Sink contract that front ends implement to display them.
package render

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind discriminates the variants of Event.
type Kind int

const (
	KindText Kind = iota
	KindThinkBlock
	KindImageResult
	KindStatusNote
	KindDone
	KindError
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindThinkBlock:
		return "think"
	case KindImageResult:
		return "image"
	case KindStatusNote:
		return "status"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENT
// =============================================================================

// Event is the canonical shape every upstream payload is normalized into.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// Text holds the content of Text and ThinkBlock events.
	Text string

	// Thumbnail and FullURL are set on ImageResult events.
	Thumbnail string
	FullURL   string

	// Message is set on StatusNote and Error events.
	Message string

	// Final marks the single event that ends a turn.
	Final bool
}

// Text returns a Text event.
func Text(s string) Event { return Event{Kind: KindText, Text: s} }

// ThinkBlock returns a ThinkBlock event.
func ThinkBlock(s string) Event { return Event{Kind: KindThinkBlock, Text: s} }

// Image returns an ImageResult event.
func Image(thumbnail, fullURL string) Event {
	return Event{Kind: KindImageResult, Thumbnail: thumbnail, FullURL: fullURL}
}

// Status returns a StatusNote event.
func Status(msg string) Event { return Event{Kind: KindStatusNote, Message: msg} }

// Done returns a Done event.
func Done() Event { return Event{Kind: KindDone} }

// Error returns an Error event.
func Error(msg string) Event { return Event{Kind: KindError, Message: msg} }
