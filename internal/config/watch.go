// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor produces when it
// saves a file.
const DefaultDebounce = 150 * time.Millisecond

// Watch reloads the file at path whenever it changes and calls onChange
// with the new configuration or the load error. It returns once the watch
// is established; watching stops when ctx is done.
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a new file into place keep being observed.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	go watchLoop(ctx, w, abs, debounce, onChange)
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration, onChange func(*Config, error)) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			onChange(nil, fmt.Errorf("config watch: %w", err))

		case <-timer.C:
			onChange(LoadFromPath(path))
		}
	}
}
