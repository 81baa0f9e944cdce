// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/retouch/internal/render"
)

// =============================================================================
// RULES
// =============================================================================

// Rule maps one recognized upstream shape to render events. Rules are
// evaluated in order and the first match wins.
type Rule struct {
	Name    string
	Match   func(obj map[string]any) bool
	Extract func(obj map[string]any) []render.Event
}

// stringFieldRule matches objects whose key holds a string.
func stringFieldRule(key string) Rule {
	return Rule{
		Name: key,
		Match: func(obj map[string]any) bool {
			_, ok := obj[key].(string)
			return ok
		},
		Extract: func(obj map[string]any) []render.Event {
			return []render.Event{render.Text(obj[key].(string))}
		},
	}
}

// choicesRule matches OpenAI-style delta arrays. Each choice contributes its
// string delta or a non-empty delta.content.
var choicesRule = Rule{
	Name: "choices",
	Match: func(obj map[string]any) bool {
		choices, ok := obj["choices"].([]any)
		return ok && len(choices) > 0
	},
	Extract: func(obj map[string]any) []render.Event {
		var events []render.Event
		for _, c := range obj["choices"].([]any) {
			choice, ok := c.(map[string]any)
			if !ok {
				continue
			}
			switch delta := choice["delta"].(type) {
			case string:
				events = append(events, render.Text(delta))
			case map[string]any:
				if content, ok := delta["content"].(string); ok && content != "" {
					events = append(events, render.Text(content))
				}
			}
		}
		return events
	},
}

// GenerationRules are the shapes recognized on the primary generation
// stream, highest priority first.
var GenerationRules = []Rule{
	stringFieldRule("response"),
	stringFieldRule("token"),
	stringFieldRule("output"),
	choicesRule,
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Push payload discriminants. Any other type is ignored.
const (
	PushTypeAI    = "ai"
	PushTypeImage = "image"
)

// Normalizer turns parsed upstream payloads into render events.
type Normalizer struct {
	rules []Rule
	log   zerolog.Logger
}

// NewNormalizer creates a normalizer using GenerationRules.
func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{rules: GenerationRules, log: log}
}

// Normalize maps a generation-stream value to events. Values no rule
// recognizes become a Text event carrying their JSON form.
func (n *Normalizer) Normalize(v any) []render.Event {
	if obj, ok := v.(map[string]any); ok {
		for _, r := range n.rules {
			if r.Match(obj) {
				return r.Extract(obj)
			}
		}
	}
	raw := marshalRaw(v)
	n.log.Debug().Str("payload", raw).Msg("unrecognized payload shape")
	return []render.Event{render.Text(raw)}
}

// NormalizePush maps a typed push-event payload to events. Unknown
// discriminants produce no events.
func (n *Normalizer) NormalizePush(v any) []render.Event {
	obj, ok := v.(map[string]any)
	if !ok {
		n.log.Debug().Str("payload", marshalRaw(v)).Msg("push payload is not an object")
		return nil
	}
	kind, _ := obj["type"].(string)
	switch kind {
	case PushTypeAI:
		return []render.Event{render.Text(stringField(obj, "text"))}
	case PushTypeImage:
		return []render.Event{render.Image(stringField(obj, "thumbnail"), stringField(obj, "full_url"))}
	default:
		n.log.Debug().Str("type", kind).Msg("ignoring push event")
		return nil
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func marshalRaw(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
