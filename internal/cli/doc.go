// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package cli implements the retouch command tree and the line-oriented front
end.

# Commands

	retouch [tui]            full-screen interface (started through a TUIRunner)
	retouch ask <text>       one turn, printed as it streams
	retouch chat             REPL with history and slash commands
	retouch status           check the backend and Ollama
	retouch config show|path|init|get

Persistent flags --config, --log-level and --primary override the loaded
configuration for every command.

# Output

ConsoleSink is the render.Sink used by ask and chat. Think blocks print as a
one-line marker unless show-think is on. JSON output is highlighted with
chroma when colours are enabled; see ColorsEnabled for the NO_COLOR and
FORCE_COLOR rules.
*/
package cli
