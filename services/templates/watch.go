// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aleutianai/debatearena/pkg/logging"
)

// DirWatcher triggers a full Reindex of a Store whenever a template
// directory changes on disk, debounced so a burst of edits only
// triggers one rebuild.
type DirWatcher struct {
	store       *Store
	directories []string
	debounce    time.Duration
	logger      *logging.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// DefaultDebounce is how long DirWatcher waits for the filesystem to settle
// before reindexing.
const DefaultDebounce = 500 * time.Millisecond

// NewDirWatcher constructs a watcher over directories. Call Start to begin
// watching; the caller owns the returned watcher's lifetime via Stop.
func NewDirWatcher(store *Store, directories []string, logger *logging.Logger) (*DirWatcher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range directories {
		if err := fw.Add(dir); err != nil {
			logger.Warn("template watch directory unavailable", "dir", dir, "error", err.Error())
		}
	}
	return &DirWatcher{
		store:       store,
		directories: directories,
		debounce:    DefaultDebounce,
		logger:      logger,
		watcher:     fw,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the debounce loop until ctx is canceled or Stop is called.
// Each settle triggers a full Reindex over the watcher's directories.
func (w *DirWatcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop releases the underlying fsnotify watcher.
func (w *DirWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *DirWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", "error", err.Error())
		case <-timerC:
			n, err := w.store.Reindex(ctx, w.directories)
			if err != nil {
				w.logger.Warn("reindex after file change failed", "error", err.Error())
			} else {
				w.logger.Info("reindexed templates after file change", "count", n)
			}
			timer = nil
			timerC = nil
		}
	}
}
