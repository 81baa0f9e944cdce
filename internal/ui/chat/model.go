// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/config"
	"github.com/jeranaias/retouch/internal/render"
	"github.com/jeranaias/retouch/internal/session"
	"github.com/jeranaias/retouch/internal/turn"
	"github.com/jeranaias/retouch/internal/ui/styles"
)

// Deps are the collaborators of the chat interface.
type Deps struct {
	Orchestrator *turn.Orchestrator
	Session      *session.Session
	Config       *config.Config
	// ConfigPath is watched for changes when set.
	ConfigPath string
	Log        zerolog.Logger
}

// Layout heights of the fixed rows around the viewport.
const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 3
	inputChrome  = 2 // input border
	helpHeight   = 1
)

// noFocus means the input has the keyboard.
const noFocus = -1

// lightbox is the open full-size image overlay.
type lightbox struct {
	fullURL   string
	thumbnail string
	openedAt  time.Time
}

// Model is the Bubble Tea model of the chat interface.
type Model struct {
	ctx  context.Context
	orch *turn.Orchestrator
	sess *session.Session
	cfg  *config.Config
	log  zerolog.Logger

	theme      *styles.Theme
	keys       KeyMap
	transcript *render.Transcript
	viewport   viewport.Model
	input      textarea.Model
	spinner    spinner.Model

	// Shared across model copies.
	turns    *turnTracker
	repaint  *repaintLimiter
	markdown *markdownCache
	finished map[string]bool

	focus    int
	lightbox *lightbox
	notice   string

	width    int
	height   int
	ready    bool
	quitting bool

	now func() time.Time
}

// New creates the chat model. ctx bounds every turn it submits.
func New(ctx context.Context, deps Deps) Model {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	ta := textarea.New()
	ta.Placeholder = "Describe an edit, drop an image file, or /help"
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j", "alt+enter"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:        ctx,
		orch:       deps.Orchestrator,
		sess:       deps.Session,
		cfg:        cfg,
		log:        deps.Log.With().Str("component", "tui").Logger(),
		theme:      styles.NewTheme(cfg.UI.Theme),
		keys:       DefaultKeyMap(),
		transcript: render.NewTranscript(),
		input:      ta,
		spinner:    sp,
		turns:      newTurnTracker(),
		repaint:    newRepaintLimiter(cfg.UI.MaxFPS),
		markdown:   newMarkdownCache(),
		finished:   make(map[string]bool),
		focus:      noFocus,
		now:        time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Transcript returns the conversation record.
func (m Model) Transcript() *render.Transcript {
	return m.transcript
}

// Run starts the interface and blocks until it exits or ctx is done.
func Run(ctx context.Context, deps Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		New(ctx, deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if deps.ConfigPath != "" {
		err := config.Watch(ctx, deps.ConfigPath, config.DefaultDebounce, func(cfg *config.Config, err error) {
			p.Send(ConfigReloadedMsg{Config: cfg, Err: err})
		})
		if err != nil {
			deps.Log.Warn().Err(err).Str("path", deps.ConfigPath).Msg("config hot reload disabled")
		}
	}

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
