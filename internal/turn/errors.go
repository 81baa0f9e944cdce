// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

var (
	// ErrNoInput is returned by Submit when there is neither an instruction
	// nor an image to send. No turn is created.
	ErrNoInput = errors.New("enter a message or select an image to upload")

	// ErrOpenTimeout is the cause of an OpenError when opening took longer
	// than the configured open timeout.
	ErrOpenTimeout = errors.New("timed out opening stream")

	// ErrNoTransport is returned when no transport is configured for a turn.
	ErrNoTransport = errors.New("no transport configured")
)

// OpenError reports a transport that failed before streaming started.
type OpenError struct {
	Transport TransportKind
	Err       error
}

func (e *OpenError) Error() string {
	return e.Transport.String() + " stream failed to open: " + e.Err.Error()
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// StreamError reports a transport that failed after streaming started.
type StreamError struct {
	Transport TransportKind
	Err       error
}

func (e *StreamError) Error() string {
	return e.Transport.String() + " stream failed: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsOpenError checks if an error happened while opening a transport.
func IsOpenError(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// IsStreamError checks if an error happened while reading a stream.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
