// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the watcher waits after the last
// artifact event before reloading.
const DefaultReloadDebounce = 500 * time.Millisecond

// WatchArtifacts reloads the engine whenever the model artifact in the
// shared data directory is rewritten, for example by a CLI retrain.
//
// # Description
//
// The directory is watched rather than the file because artifacts are
// replaced by rename. Bursts of events are debounced into a single reload,
// which waits for any in-process generate or train step and is skipped
// when the served snapshot already came from the artifact on disk (as
// after TrainModel in this process). A failed reload is logged and the
// previous snapshot keeps serving.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is cancelled.
//   - debounce: Quiet period before reloading. Zero uses DefaultReloadDebounce.
//
// # Outputs
//
// Returns once the watcher is running. The watch goroutine exits on ctx.
func (e *Engine) WatchArtifacts(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(e.cfg.Paths.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", e.cfg.Paths.Dir, err)
	}
	go e.watchLoop(ctx, watcher, debounce)
	return nil
}

func (e *Engine) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer watcher.Close()

	target := filepath.Clean(e.cfg.Paths.Model)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			reloaded, err := e.reloadIfChanged(ctx)
			if err != nil {
				e.logger.Error("Artifact reload failed, keeping previous model", "error", err)
				continue
			}
			if !reloaded {
				e.logger.Debug("Model artifact unchanged, skipping reload", "path", target)
				continue
			}
			e.logger.Info("Model artifact reloaded", "path", target)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("Artifact watcher error", "error", err)
		}
	}
}
