// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"strings"
)

// ToolCallPrefix introduces a tool call announced in streamed text.
const ToolCallPrefix = "Tool call:"

// ToolCall is the operation the backend chose for an instruction.
type ToolCall struct {
	Name string
	// Args is the JSON arguments object, "{}" when none was given.
	Args json.RawMessage
}

// nameKeys and argKeys are checked in order.
var (
	nameKeys = []string{"name", "operation", "tool"}
	argKeys  = []string{"arguments", "args", "params", "op_params"}
)

// ParseToolCall parses text of the form `Tool call: {json}`. Both flat
// objects and objects nesting the call under "function" are accepted.
func ParseToolCall(text string) (ToolCall, bool) {
	rest, ok := strings.CutPrefix(text, ToolCallPrefix)
	if !ok {
		return ToolCall{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &obj); err != nil {
		return ToolCall{}, false
	}

	name, args := toolCallFields(obj)
	if name == "" {
		if fn, ok := obj["function"].(map[string]any); ok {
			name, args = toolCallFields(fn)
		}
	}
	if name == "" {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Args: encodeArgs(args)}, true
}

func toolCallFields(obj map[string]any) (string, any) {
	var name string
	for _, k := range nameKeys {
		if s, ok := obj[k].(string); ok && s != "" {
			name = s
			break
		}
	}
	for _, k := range argKeys {
		if v, ok := obj[k]; ok && v != nil {
			return name, v
		}
	}
	return name, nil
}

// encodeArgs normalizes arguments to a JSON object. Arguments delivered as a
// JSON-encoded string are decoded first.
func encodeArgs(v any) json.RawMessage {
	if s, ok := v.(string); ok {
		if json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
		v = nil
	}
	if v == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
