// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the incremental parsing layer between a live
// transport and the render sink.
//
// # Key Types
//
//   - LineReader: splits a byte stream into newline-delimited JSON values,
//     tolerating partial lines, SSE "data:" prefixes and malformed lines
//   - Normalizer: maps heterogeneous payload shapes to render.Event values
//     through an ordered rule list
//   - TagBuffer: releases plain text and <think> blocks as they complete,
//     holding back blocks that are still open
//   - FinishDetector: content heuristic that ends push streams
//
// # Usage
//
//	lr := stream.NewLineReader()
//	norm := stream.NewNormalizer(log)
//	var tb stream.TagBuffer
//	for _, line := range lr.Feed(chunk) {
//	    if !line.OK() {
//	        continue
//	    }
//	    for _, ev := range norm.Normalize(line.Value) {
//	        for _, span := range tb.Append(ev.Text) {
//	            // render span
//	        }
//	    }
//	}
package stream
