// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"sync"
)

// =============================================================================
// BLOCKS
// =============================================================================

// BlockKind identifies a rendered element of a turn.
type BlockKind int

const (
	BlockUser BlockKind = iota
	BlockText
	BlockThink
	BlockImage
	BlockStatus
)

// Block is one rendered element. Text blocks grow by appending; no other
// block is modified after creation except for the Collapsed flag of think
// blocks, which only the user toggles.
type Block struct {
	Kind      BlockKind
	Text      string
	Preview   string // user blocks: preview reference of the attached image
	Thumbnail string
	FullURL   string
	Collapsed bool
}

// TurnView is a snapshot of one turn in the transcript.
type TurnView struct {
	ID     string
	Blocks []Block
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is an in-memory, append-only conversation record that
// implements Sink. It is safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	order   []string
	turns   map[string][]Block
	version uint64
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{turns: make(map[string][]Block)}
}

// BeginTurn records the user's side of a turn.
func (t *Transcript) BeginTurn(turnID, userText, preview string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(turnID, Block{Kind: BlockUser, Text: userText, Preview: preview})
}

// AppendText implements Sink. Consecutive text is merged into one block.
func (t *Transcript) AppendText(turnID, text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	blocks := t.turns[turnID]
	if n := len(blocks); n > 0 && blocks[n-1].Kind == BlockText {
		blocks[n-1].Text += text
		t.version++
		return
	}
	t.appendLocked(turnID, Block{Kind: BlockText, Text: text})
}

// AppendThinkBlock implements Sink. Think blocks start collapsed.
func (t *Transcript) AppendThinkBlock(turnID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(turnID, Block{Kind: BlockThink, Text: text, Collapsed: true})
}

// AppendImage implements Sink.
func (t *Transcript) AppendImage(turnID, thumbnail, fullURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(turnID, Block{Kind: BlockImage, Thumbnail: thumbnail, FullURL: fullURL})
}

// AppendStatus implements Sink.
func (t *Transcript) AppendStatus(turnID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(turnID, Block{Kind: BlockStatus, Text: message})
}

func (t *Transcript) appendLocked(turnID string, b Block) {
	if _, ok := t.turns[turnID]; !ok {
		t.order = append(t.order, turnID)
	}
	t.turns[turnID] = append(t.turns[turnID], b)
	t.version++
}

// Toggle flips the collapsed state of the think block at index within a
// turn. It reports whether a think block was found there.
func (t *Transcript) Toggle(turnID string, index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	blocks := t.turns[turnID]
	if index < 0 || index >= len(blocks) || blocks[index].Kind != BlockThink {
		return false
	}
	blocks[index].Collapsed = !blocks[index].Collapsed
	t.version++
	return true
}

// Turns returns a snapshot of every turn in submission order.
func (t *Transcript) Turns() []TurnView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TurnView, 0, len(t.order))
	for _, id := range t.order {
		blocks := make([]Block, len(t.turns[id]))
		copy(blocks, t.turns[id])
		out = append(out, TurnView{ID: id, Blocks: blocks})
	}
	return out
}

// Blocks returns a snapshot of a single turn.
func (t *Transcript) Blocks(turnID string) []Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	blocks := make([]Block, len(t.turns[turnID]))
	copy(blocks, t.turns[turnID])
	return blocks
}

// Version increases on every change; callers use it to skip redundant
// redraws.
func (t *Transcript) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// PlainText returns the assistant text of a turn with think blocks omitted.
func (t *Transcript) PlainText(turnID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	for _, b := range t.turns[turnID] {
		if b.Kind == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
