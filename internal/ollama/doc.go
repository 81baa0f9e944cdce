// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama generation API.
//
// The client is the primary streaming transport: Generate opens a
// /api/generate stream and hands the raw newline-delimited JSON body to the
// caller, which parses it incrementally.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientError: typed error with an ErrorType for handling decisions
//   - GenerateRequest: request body for /api/generate
//   - ModelInfo: entry of the local model list
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://127.0.0.1:11434",
//	    DefaultModel: "qwen2.5:7b",
//	})
//	body, err := client.Generate(ctx, ollama.GenerateRequest{Prompt: "Hello"})
//	if ollama.IsNotRunning(err) {
//	    // fall back to another transport
//	} else if err != nil {
//	    return err
//	}
//	defer body.Close()
package ollama
