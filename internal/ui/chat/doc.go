// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the full-screen Bubble Tea interface of retouch.

The model keeps a render.Transcript as its only record of the conversation.
Each submitted turn is pumped into the program one event at a time by a
waitForEvent command, so the transcript is only ever touched from Update.

# Keys

	enter       send the input (a lone image path stages the image instead)
	ctrl+j      newline in the input
	tab         focus the next think block or image; shift+tab goes back
	enter/space toggle the focused think block
	o           open the focused (or latest) image in the lightbox
	esc         close the lightbox, or return focus to the input
	ctrl+c      cancel running turns, or quit when none is running

# Commands

	/attach <path>  /detach  /continue [on|off]  /primary [on|off]  /help  /quit

# Usage

	err := chat.Run(ctx, chat.Deps{
		Orchestrator: orch,
		Session:      sess,
		Config:       cfg,
		ConfigPath:   path,
		Log:          log,
	})
*/
package chat
