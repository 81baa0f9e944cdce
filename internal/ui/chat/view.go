// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/ui/styles"
	"github.com/jeranaias/retouch/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting retouch..."
	}
	if m.lightbox != nil {
		return m.renderLightbox()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.renderInput(),
		m.renderHelp(),
	)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript renders every turn and returns the line on which the
// focused block starts, or -1.
func (m Model) renderTranscript() (string, int) {
	turns := m.transcript.Turns()
	if len(turns) == 0 {
		return m.renderWelcome(), -1
	}

	width := max(m.viewport.Width-2, 20)
	var focused *focusTarget
	if m.focus != noFocus {
		if targets := m.focusTargets(); m.focus < len(targets) {
			focused = &targets[m.focus]
		}
	}

	var sb strings.Builder
	lines, focusLine := 0, -1
	write := func(s string) {
		sb.WriteString(s)
		sb.WriteByte('\n')
		lines += lipgloss.Height(s)
	}

	for ti, tv := range turns {
		if ti > 0 {
			write("")
		}
		for i, b := range tv.Blocks {
			isFocused := focused != nil && focused.turnID == tv.ID && focused.index == i
			if isFocused {
				focusLine = lines
			}
			write(m.renderBlock(tv.ID, i, b, width, isFocused))
		}
	}
	return strings.TrimRight(sb.String(), "\n"), focusLine
}

func (m Model) renderBlock(turnID string, index int, b render.Block, width int, focused bool) string {
	th := m.theme
	switch b.Kind {
	case render.BlockUser:
		label := th.UserLabel.Render("you › ")
		text := th.UserText.Width(max(width-lipgloss.Width(label), 10)).Render(b.Text)
		out := lipgloss.JoinHorizontal(lipgloss.Top, label, text)
		if b.Preview != "" {
			desc := util.TruncateMiddle(render.DescribeThumbnail(b.Preview), width-8)
			out += "\n" + th.Muted.Render("      image: "+desc)
		}
		return out

	case render.BlockText:
		if m.finished[turnID] {
			blockKey := fmt.Sprintf("%s#%d", turnID, index)
			return m.markdown.render(blockKey, b.Text, th.GlamourStyle(), width)
		}
		return th.AssistantText.Width(width).Render(b.Text)

	case render.BlockThink:
		return m.renderThink(b, width, focused)

	case render.BlockImage:
		link := render.ResolveURL(m.cfg.Server.BaseURL, b.FullURL)
		body := strings.Join([]string{
			th.Done.Render(styles.Indicators.Image + " edited image"),
			th.Link.Render(util.TruncateMiddle(link, width-6)),
			th.Muted.Render(render.DescribeThumbnail(b.Thumbnail) + " · o to open"),
		}, "\n")
		card := th.ImageCard
		if focused {
			card = card.BorderForeground(styles.FocusRing)
		}
		return card.Render(body)

	case render.BlockStatus:
		return th.RenderStatusLine(b.Text, styles.ClassifyStatus(b.Text))
	}
	return ""
}

func (m Model) renderThink(b render.Block, width int, focused bool) string {
	th := m.theme
	body := strings.TrimSpace(b.Text)

	marker := styles.Indicators.Expanded + " thinking"
	if b.Collapsed {
		n := strings.Count(body, "\n") + 1
		marker = fmt.Sprintf("%s thinking (%d %s)", styles.Indicators.Collapsed, n, plural(n, "line", "lines"))
	}

	var head string
	if focused {
		head = th.Focused.Render("› " + marker)
	} else {
		head = th.Think.Render("  " + marker)
	}
	if b.Collapsed {
		return head
	}
	return head + "\n" + th.ThinkBody.Width(max(width-4, 10)).Render(body)
}

func (m Model) renderWelcome() string {
	th := m.theme
	return strings.Join([]string{
		th.HeaderBrand.Render("retouch"),
		"",
		th.Muted.Render("Type an instruction and press enter."),
		th.Muted.Render("Drop an image file into the terminal (or /attach <path>) to edit it."),
		th.Muted.Render("Think blocks start collapsed: tab to focus one, enter to expand."),
	}, "\n")
}

// =============================================================================
// CHROME
// =============================================================================

func (m Model) renderHeader() string {
	th := m.theme
	opts := m.orch.Options()

	transport := "server " + hostOf(m.cfg.Server.BaseURL)
	if opts.UsePrimary {
		transport = "ollama " + opts.Model
	}
	info := th.HeaderInfo.Render(" · " + transport)
	return th.Header.Width(m.width).Render(th.HeaderBrand.Render("retouch") + info)
}

func (m Model) renderStatus() string {
	th := m.theme
	var parts []string

	if n := m.turns.count(); n > 0 {
		parts = append(parts, m.spinner.View()+fmt.Sprintf(" streaming %d", n))
	}
	if up := m.sess.PendingUpload(); up != nil {
		label := fmt.Sprintf("%s %s (%s)", styles.Indicators.Image, util.TruncateMiddle(up.Filename, 30), util.FormatBytes(up.Size()))
		parts = append(parts, th.Staged.Render(label))
	}
	if m.sess.ContinueEditing() {
		parts = append(parts, th.Status.Render("continue editing"))
	}
	if m.notice != "" {
		parts = append(parts, th.Muted.Render(m.notice))
	}

	line := strings.Join(parts, th.Muted.Render(" · "))
	return th.Footer.Render(util.TruncateWidth(line, max(m.width-2, 1)))
}

func (m Model) renderInput() string {
	style := m.theme.InputFocus
	if m.focus != noFocus {
		style = m.theme.Input
	}
	return style.Width(max(m.width-2, 10)).Render(m.input.View())
}

func (m Model) renderHelp() string {
	bindings := m.keys.inputHelp()
	if m.focus != noFocus {
		bindings = m.keys.focusHelp()
	}
	return m.theme.Footer.Render(helpLine(m.theme, bindings))
}

func helpLine(th *styles.Theme, bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, th.FooterKey.Render(h.Key)+" "+th.Muted.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

// =============================================================================
// LIGHTBOX
// =============================================================================

func (m Model) renderLightbox() string {
	th := m.theme
	lb := m.lightbox

	link := render.CacheBusted(render.ResolveURL(m.cfg.Server.BaseURL, lb.fullURL), lb.openedAt)
	content := strings.Join([]string{
		th.LightboxTitle.Render("Edited image"),
		"",
		th.Link.Render(link),
		th.Muted.Render(render.DescribeThumbnail(lb.thumbnail)),
		"",
		th.Muted.Render("esc to close"),
	}, "\n")

	box := th.Lightbox.MaxWidth(max(m.width-2, 20)).Render(content)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// =============================================================================
// HELPERS
// =============================================================================

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
