// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles holds the colour palette and lipgloss styles shared by the
retouch TUI and the console front end.

Colours are lipgloss AdaptiveColor values, so a single palette serves dark
and light terminals. A Theme is built for one of the configured modes:

	dark   force the dark variants
	light  force the light variants
	auto   let lipgloss query the terminal background

Every status colour is paired with a text indicator (see Indicators).
*/
package styles
