// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnExternalChange(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var fired atomic.Int32
	w, err := NewWatcher(store, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	// Simulate another process dropping in a new history file.
	path := filepath.Join(dir, HistoryFilename)
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	require.Eventually(t, func() bool { return fired.Load() > 0 },
		3*time.Second, 50*time.Millisecond)
}

func TestWatcherIgnoresOwnWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var fired atomic.Int32
	w, err := NewWatcher(store, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	store.Save(nil)
	store.Flush()

	// Give the debounce window a chance to elapse; the event must be
	// swallowed because the write was ours.
	time.Sleep(2 * watchDebounce)
	require.Zero(t, fired.Load())
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var fired atomic.Int32
	w, err := NewWatcher(store, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	time.Sleep(2 * watchDebounce)
	require.Zero(t, fired.Load())
}
