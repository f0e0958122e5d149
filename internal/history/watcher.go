// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// STORE FILE WATCHER
// =============================================================================

const (
	// watchDebounce coalesces the burst of events an atomic replace emits.
	watchDebounce = 500 * time.Millisecond

	// ownWriteWindow is how long after one of our own writes we keep
	// ignoring events, so saves do not trigger a reload of ourselves.
	ownWriteWindow = 2 * time.Second
)

// Watcher watches the store directory and invokes onChange when the history
// file is modified by something other than this process, such as a restore
// from another terminal or a sync tool dropping in a new file.
type Watcher struct {
	store    *Store
	fs       *fsnotify.Watcher
	onChange func()
	stop     chan struct{}
}

// NewWatcher starts watching the store's directory. The callback runs on
// the watcher's goroutine and should hand off to its own executor if it
// does anything slow.
func NewWatcher(store *Store, onChange func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(store.dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", store.dir, err)
	}

	w := &Watcher{
		store:    store,
		fs:       fs,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(watchDebounce)
				fire = pending.C
			} else {
				pending.Reset(watchDebounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("history: watch error: %v", err)

		case <-fire:
			pending = nil
			fire = nil
			// The save worker may have written during the debounce window.
			if time.Since(w.store.LastWriteAt()) < ownWriteWindow {
				continue
			}
			log.Printf("history: store file changed externally")
			w.onChange()
		}
	}
}

// relevant reports whether the event is an external change to the store
// file itself.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != HistoryFilename {
		return false
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return time.Since(w.store.LastWriteAt()) >= ownWriteWindow
}
