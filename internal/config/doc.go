// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for retouch.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, and struct-tag validation.
//
// # Sections
//
//   - [server]: backend base URL and the upload, stream and chat paths
//   - [ollama]: primary generation transport URL and model
//   - [transport]: use_primary, fallback and open_timeout_secs
//   - [ui]: show_think, theme and max_fps
//   - [log]: level, pretty and file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RETOUCH_*)
//   - ~/.retouch/config.toml
//   - ~/.retouch/config.json
//   - Built-in defaults
//
// RETOUCH_HOME relocates the configuration directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Transport.OpenTimeout()
//
// Watch reloads a file on change, which lets the TUI pick up edits without
// restarting.
package config
