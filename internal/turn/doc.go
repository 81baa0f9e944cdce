// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn drives a single request from submission to a terminal state.
//
// An Orchestrator resolves what a submission sends (a staged upload, an
// image path, the last edited result or the instruction alone), uploads the
// image when there is one, opens the primary generation stream or the
// server-push stream and turns the stream into render events:
//
//	o := turn.New(ollamaClient, pushClient, uploadClient, turn.Options{
//		UsePrimary: true,
//		Fallback:   true,
//		Model:      "qwen2.5:7b",
//	}, log)
//
//	t, err := o.Run(ctx, sess, turn.Request{Instruction: "make it warmer"}, sink)
//
// Each turn walks Idle → Opening → Streaming and ends in exactly one of
// StateDone, StateError or StateCancelled. The last event on Turn.Events
// is always marked Final, and once Cancel is called no other event is
// rendered.
package turn
