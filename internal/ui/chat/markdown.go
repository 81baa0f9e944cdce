// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdownCache renders the text of finished turns with glamour. Results
// are kept per block, style and width; a miss on any of them re-renders.
type markdownCache struct {
	mu        sync.Mutex
	renderers map[string]*glamour.TermRenderer
	rendered  map[string]string
}

func newMarkdownCache() *markdownCache {
	return &markdownCache{
		renderers: make(map[string]*glamour.TermRenderer),
		rendered:  make(map[string]string),
	}
}

// render returns content rendered for style and width, or content itself
// when glamour fails.
func (c *markdownCache) render(blockKey, content, style string, width int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rkey := style + "/" + strconv.Itoa(width)
	key := rkey + "/" + blockKey
	if out, ok := c.rendered[key]; ok {
		return out
	}

	r, ok := c.renderers[rkey]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return content
		}
		c.renderers[rkey] = r
	}

	out, err := r.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	c.rendered[key] = out
	return out
}

// reset drops every cached result, e.g. after a theme change.
func (c *markdownCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.renderers)
	clear(c.rendered)
}
