// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"log"
	"time"

	"github.com/baboonchat/baboonchat-tui/internal/history"
	"github.com/baboonchat/baboonchat-tui/internal/index"
	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// HISTORY ADMINISTRATION
// =============================================================================

// Stats describes the persisted conversation corpus.
type Stats struct {
	Threads      int
	Versions     int
	Chains       int
	Messages     int
	StoreBytes   int64
	StoreUpdated time.Time
}

// Stats returns counts over the in-memory state plus store file details.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{Threads: len(e.threads)}
	for _, th := range e.threads {
		s.Versions += th.VersionCount()
		s.Chains += th.ChainCount()
		s.Messages += th.MessageCount()
	}
	if size, modified, ok := e.store.FileInfo(); ok {
		s.StoreBytes = size
		s.StoreUpdated = modified
	}
	return s
}

// ReloadHistory discards in-memory state and re-reads the store, resuming
// the most recently active thread. Used after an import or restore, and by
// the store file watcher.
func (e *Engine) ReloadHistory() {
	e.store.Flush()

	e.mu.Lock()
	e.loading = true
	e.threads = e.store.Load()
	e.resumeLatestLocked()
	e.loading = false

	threadID := e.activeThreadID
	count := len(e.threads)
	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()

	log.Printf("engine: reloaded %d threads", count)
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
}

// ClearHistory wipes the store (after its pre_clear backup) and resets all
// in-memory conversation state.
func (e *Engine) ClearHistory() {
	e.store.Clear()

	e.mu.Lock()
	e.threads = make(map[string]*model.Thread)
	e.activeThreadID = ""
	e.displayed = nil
	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()

	e.opts.Listener.DisplayedChanged("", snapshot)
}

// CreateBackup snapshots the current store with the given label, saving
// first so the backup captures the in-memory state.
func (e *Engine) CreateBackup(label string) {
	e.mu.Lock()
	e.store.SaveAndBackup(e.threads, label)
	e.mu.Unlock()
}

// ListBackups returns available backups, newest first.
func (e *Engine) ListBackups() ([]history.BackupInfo, error) {
	return e.store.ListBackups()
}

// RestoreBackup replaces the store with a backup's contents and reloads.
func (e *Engine) RestoreBackup(name string) error {
	if err := e.store.RestoreBackup(name); err != nil {
		return err
	}
	e.ReloadHistory()
	return nil
}

// ExportHistory writes the store into a zip bundle and returns its path.
func (e *Engine) ExportHistory() (string, error) {
	e.mu.Lock()
	e.store.Save(e.threads)
	e.mu.Unlock()
	return e.store.Export()
}

// ImportHistory validates and installs a bundle, then reloads. On failure
// the existing store and in-memory state are untouched.
func (e *Engine) ImportHistory(archivePath string) error {
	if err := e.store.Import(archivePath); err != nil {
		return err
	}
	e.ReloadHistory()
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

// Search rebuilds the full-text index from in-memory state and runs a
// ranked query over every message in every chain.
func (e *Engine) Search(query string, limit int) ([]index.SearchResult, error) {
	if e.opts.Index == nil {
		return nil, ErrSearchDisabled
	}

	e.mu.Lock()
	threads := e.threads
	err := e.opts.Index.Rebuild(threads)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.opts.Index.Search(query, limit)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close disconnects any live session, takes an exit backup, and drains the
// store worker. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.DisconnectRepresentative()
	e.Wait()

	e.mu.Lock()
	e.store.SaveAndBackup(e.threads, "exit")
	e.mu.Unlock()

	e.store.Close()
	if e.opts.Index != nil {
		e.opts.Index.Close()
	}
}
