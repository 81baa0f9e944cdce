// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SESSION
// =============================================================================

// Session tracks the state carried from one turn to the next.
type Session struct {
	mu sync.Mutex

	id           string
	startTime    time.Time
	lastActivity time.Time
	turns        int

	pending      *PendingUpload
	lastUploaded *UploadedImage
	lastEdited   *EditedImage
	lastToolCall *ToolCall

	continueEditing bool
}

// New creates an empty session.
func New() *Session {
	now := time.Now()
	return &Session{
		id:           uuid.NewString(),
		startTime:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// RecordTurn notes that a turn was submitted.
func (s *Session) RecordTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	s.lastActivity = time.Now()
}

// =============================================================================
// PENDING UPLOAD
// =============================================================================

// Stage sets the pending upload, replacing any staged image.
func (s *Session) Stage(up *PendingUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = up
	s.lastActivity = time.Now()
}

// PendingUpload returns the staged image without consuming it.
func (s *Session) PendingUpload() *PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// TakePendingUpload returns the staged image and clears it in one step, so
// that a staged image is sent at most once.
func (s *Session) TakePendingUpload() *PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	up := s.pending
	s.pending = nil
	return up
}

// DiscardPendingUpload removes the staged image. It reports whether there
// was one.
func (s *Session) DiscardPendingUpload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.pending != nil
	s.pending = nil
	return had
}

// =============================================================================
// IMAGES
// =============================================================================

// SetLastUploaded records the server-side identity of an uploaded image.
func (s *Session) SetLastUploaded(img UploadedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUploaded = &img
}

// LastUploaded returns the last uploaded image, if any.
func (s *Session) LastUploaded() (UploadedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUploaded == nil {
		return UploadedImage{}, false
	}
	return *s.lastUploaded, true
}

// SetLastEdited records the last edited result.
func (s *Session) SetLastEdited(img EditedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEdited = &img
}

// LastEdited returns the last edited result, if any.
func (s *Session) LastEdited() (EditedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEdited == nil {
		return EditedImage{}, false
	}
	return *s.lastEdited, true
}

// SetContinueEditing sets whether turns without an image should keep
// editing the last result.
func (s *Session) SetContinueEditing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.continueEditing = on
}

// ContinueEditing returns the continue-editing flag.
func (s *Session) ContinueEditing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continueEditing
}

// =============================================================================
// TOOL CALLS
// =============================================================================

// SetLastToolCall records the most recent tool call.
func (s *Session) SetLastToolCall(tc ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastToolCall = &tc
}

// LastToolCall returns the most recent tool call, if any.
func (s *Session) LastToolCall() (ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastToolCall == nil {
		return ToolCall{}, false
	}
	return *s.lastToolCall, true
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status is a point-in-time summary of the session.
type Status struct {
	SessionID       string
	StartTime       time.Time
	Duration        time.Duration
	IdleTime        time.Duration
	Turns           int
	HasPending      bool
	PendingName     string
	LastEditedID    string
	ContinueEditing bool
}

// GetStatus returns the current session status.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	st := Status{
		SessionID:       s.id,
		StartTime:       s.startTime,
		Duration:        now.Sub(s.startTime),
		IdleTime:        now.Sub(s.lastActivity),
		Turns:           s.turns,
		HasPending:      s.pending != nil,
		ContinueEditing: s.continueEditing,
	}
	if s.pending != nil {
		st.PendingName = s.pending.Filename
	}
	if s.lastEdited != nil {
		st.LastEditedID = s.lastEdited.ID
	}
	return st
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
