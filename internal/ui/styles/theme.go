// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/retouch/internal/render"
)

// Theme modes accepted in the [ui] config section.
const (
	ModeDark  = "dark"
	ModeLight = "light"
	ModeAuto  = "auto"
)

// Theme holds all the styled components for the application.
type Theme struct {
	Mode         string
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// CHROME
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderInfo  lipgloss.Style
	Footer      lipgloss.Style
	FooterKey   lipgloss.Style
	Input       lipgloss.Style
	InputFocus  lipgloss.Style
	Staged      lipgloss.Style

	// ==========================================================================
	// TRANSCRIPT BLOCKS
	// ==========================================================================

	UserLabel     lipgloss.Style
	UserText      lipgloss.Style
	AssistantText lipgloss.Style
	Think         lipgloss.Style
	ThinkBody     lipgloss.Style
	Focused       lipgloss.Style
	ImageCard     lipgloss.Style
	Status        lipgloss.Style
	Done          lipgloss.Style
	Error         lipgloss.Style
	Muted         lipgloss.Style
	Link          lipgloss.Style

	// ==========================================================================
	// OVERLAYS
	// ==========================================================================

	Lightbox      lipgloss.Style
	LightboxTitle lipgloss.Style
}

// NewTheme creates a theme for mode. Unknown modes behave like auto.
func NewTheme(mode string) *Theme {
	t := &Theme{Mode: mode, ColorProfile: termenv.ColorProfile()}

	switch mode {
	case ModeDark:
		t.IsDark = true
		lipgloss.SetHasDarkBackground(true)
	case ModeLight:
		t.IsDark = false
		lipgloss.SetHasDarkBackground(false)
	default:
		t.Mode = ModeAuto
		t.IsDark = lipgloss.HasDarkBackground()
	}

	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.HeaderInfo = lipgloss.NewStyle().
		Foreground(TextSecondary)
	t.Footer = lipgloss.NewStyle().
		Foreground(TextMuted).
		Padding(0, 1)
	t.FooterKey = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)
	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.InputFocus = t.Input.
		BorderForeground(FocusRing)
	t.Staged = lipgloss.NewStyle().
		Foreground(Amber)

	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.UserText = lipgloss.NewStyle().
		Foreground(TextPrimary)
	t.AssistantText = lipgloss.NewStyle().
		Foreground(TextPrimary)
	t.Think = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)
	t.ThinkBody = lipgloss.NewStyle().
		Foreground(TextSecondary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(OverlayDim).
		PaddingLeft(1)
	t.Focused = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)
	t.ImageCard = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Emerald).
		Padding(0, 1)
	t.Status = lipgloss.NewStyle().
		Foreground(Amber)
	t.Done = lipgloss.NewStyle().
		Foreground(Emerald)
	t.Error = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)
	t.Muted = lipgloss.NewStyle().
		Foreground(TextMuted)
	// Underline keeps links distinguishable without colour.
	t.Link = lipgloss.NewStyle().
		Foreground(Cyan).
		Underline(true)

	t.Lightbox = lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(Purple).
		Padding(1, 2)
	t.LightboxTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GlamourStyle names the glamour standard style matching the theme.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// RenderStatusLine styles a transcript status line by what it reports.
// Terminal notes get a shape indicator in addition to colour.
func (t *Theme) RenderStatusLine(msg string, kind StatusKind) string {
	switch kind {
	case StatusDone:
		return t.Done.Render(Indicators.Done + " " + msg)
	case StatusError:
		return t.Error.Render(Indicators.Error + " " + msg)
	case StatusCancelled:
		return t.Muted.Render(Indicators.Cancelled + " " + msg)
	default:
		return t.Status.Render(Indicators.Note + " " + msg)
	}
}

// StatusKind classifies a status line for styling.
type StatusKind int

const (
	StatusNote StatusKind = iota
	StatusDone
	StatusError
	StatusCancelled
)

// ClassifyStatus maps a rendered status message to its StatusKind.
func ClassifyStatus(msg string) StatusKind {
	switch {
	case msg == render.DoneNote:
		return StatusDone
	case msg == render.CancelledNote:
		return StatusCancelled
	case strings.HasPrefix(msg, render.ErrorPrefix), strings.HasPrefix(msg, "Upload error"):
		return StatusError
	}
	return StatusNote
}
