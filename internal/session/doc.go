// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the per-user state shared between turns.
//
// A Session carries everything a turn needs from earlier turns: the staged
// upload, the last uploaded and last edited images, the last
// tool call surfaced by the backend and the continue-editing flag. All
// access goes through a mutex so that a streaming turn and the front end
// can touch it concurrently.
//
// # Key Types
//
//   - Session: mutex-guarded state container with a uuid identifier
//   - PendingUpload: an image staged by paste, drop or /attach, consumed
//     exactly once by the next submit
//   - EditedImage: the last edited result, parsed from its /uploads URL
//   - ToolCall: the last "Tool call:" payload, forwarded on image turns
//
// # Usage
//
//	sess := session.New()
//	up, err := session.LoadPendingUpload("cat.png")
//	if err != nil {
//	    return err
//	}
//	sess.Stage(up)
//
//	// later, on submit
//	if up := sess.TakePendingUpload(); up != nil {
//	    // upload up.Data
//	}
package session
