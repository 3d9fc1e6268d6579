// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDebounce batches the burst of events one editor save produces.
const watchDebounce = 500 * time.Millisecond

func runAnnotateWatch(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		a.out.Info("Watching %s for label edits (Ctrl-C to stop)", a.cfg.Study.AnnotationsDir)
		return a.watch(ctx, a.cfg.Study.AnnotationsDir, watchDebounce, nil)
	})(cmd, args)
}

// watch re-imports a TSV file in dir after each save. Import failures are
// reported and watching continues, since a file mid-edit is often invalid.
//
// Description:
//
//	Events are collected per path until no event arrives for debounce,
//	then each changed .tsv file is imported once. Editors that save by
//	rename produce a Create for the final name, which is handled like a
//	Write. onReady, when non-nil, is called once the watch is registered.
//
// Outputs:
//
//	error - Nil when ctx is cancelled; non-nil if the watch cannot start.
func (a *app) watch(ctx context.Context, dir string, debounce time.Duration, onReady func()) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create annotations directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if onReady != nil {
		onReady()
	}

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		slices.Sort(paths)
		clear(pending)
		for _, p := range paths {
			if _, err := a.importLabelsFile(ctx, p); err != nil {
				a.out.Error("%v", err)
				a.log.Warn("Label import failed", "path", p, "error", err)
			}
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isLabelFile(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("File watcher error", "error", err)
		}
	}
}

// isLabelFile skips editor swap and backup files.
func isLabelFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".tsv") && !strings.HasPrefix(base, ".")
}
