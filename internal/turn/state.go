// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

// State is the lifecycle position of a turn.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateDone
	StateError
	StateCancelled
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateCancelled
}

// TransportKind names the transport that carried a turn.
type TransportKind int

const (
	TransportNone TransportKind = iota
	TransportPrimary
	TransportPush
)

func (k TransportKind) String() string {
	switch k {
	case TransportPrimary:
		return "primary"
	case TransportPush:
		return "push"
	default:
		return "none"
	}
}

// SourceKind is what a turn sends along with its instruction.
type SourceKind int

const (
	// SourceChat sends the instruction alone.
	SourceChat SourceKind = iota
	// SourceUpload uploads a new image first.
	SourceUpload
	// SourceEdited keeps editing the last edited result.
	SourceEdited
)

func (k SourceKind) String() string {
	switch k {
	case SourceUpload:
		return "upload"
	case SourceEdited:
		return "edited"
	default:
		return "chat"
	}
}
