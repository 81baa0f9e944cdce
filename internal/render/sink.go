// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

// Status lines rendered for the terminal events of a turn.
const (
	DoneNote      = "[done]"
	CancelledNote = "[cancelled]"
	ErrorPrefix   = "[stream error] "
)

// Sink receives rendered content for a turn.
//
// Every operation appends. A sink must never replace content it already
// rendered for the same turn, so that think blocks a user expanded or
// collapsed keep their state while the stream continues.
type Sink interface {
	AppendText(turnID, text string)
	// AppendThinkBlock renders a collapsed, independently toggleable aside.
	AppendThinkBlock(turnID, text string)
	AppendImage(turnID, thumbnail, fullURL string)
	AppendStatus(turnID, message string)
}

// TurnStarter is implemented by sinks that render the user's side of a
// turn before its response streams in.
type TurnStarter interface {
	BeginTurn(turnID, userText, preview string)
}

// Dispatch routes a single event to the matching Sink operation.
// Done and Error are rendered as status lines.
func Dispatch(s Sink, turnID string, ev Event) {
	switch ev.Kind {
	case KindText:
		if ev.Text != "" {
			s.AppendText(turnID, ev.Text)
		}
	case KindThinkBlock:
		s.AppendThinkBlock(turnID, ev.Text)
	case KindImageResult:
		s.AppendImage(turnID, ev.Thumbnail, ev.FullURL)
	case KindStatusNote:
		s.AppendStatus(turnID, ev.Message)
	case KindDone:
		s.AppendStatus(turnID, DoneNote)
	case KindError:
		s.AppendStatus(turnID, ErrorPrefix+ev.Message)
	}
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi fans every operation out to several sinks in order.
type Multi []Sink

// BeginTurn forwards to every sink that implements TurnStarter.
func (m Multi) BeginTurn(turnID, userText, preview string) {
	for _, s := range m {
		if ts, ok := s.(TurnStarter); ok {
			ts.BeginTurn(turnID, userText, preview)
		}
	}
}

func (m Multi) AppendText(turnID, text string) {
	for _, s := range m {
		s.AppendText(turnID, text)
	}
}

func (m Multi) AppendThinkBlock(turnID, text string) {
	for _, s := range m {
		s.AppendThinkBlock(turnID, text)
	}
}

func (m Multi) AppendImage(turnID, thumbnail, fullURL string) {
	for _, s := range m {
		s.AppendImage(turnID, thumbnail, fullURL)
	}
}

func (m Multi) AppendStatus(turnID, message string) {
	for _, s := range m {
		s.AppendStatus(turnID, message)
	}
}
