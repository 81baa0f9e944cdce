// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/retouch/internal/ui/styles"
)

// init aligns lipgloss with NO_COLOR, FORCE_COLOR and TTY detection.
func init() {
	applyColorProfile()
}

func applyColorProfile() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED CONSOLE STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan).
			MarginBottom(1)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	MutedStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)
)

// statusLabel renders a [OK]/[X] marker followed by text.
func statusLabel(ok bool, text string) string {
	if ok {
		return SuccessStyle.Render(styles.Indicators.Done) + " " + text
	}
	return ErrorStyle.Render(styles.Indicators.Error) + " " + text
}
