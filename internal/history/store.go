// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baboonchat/baboonchat-tui/internal/model"
	"github.com/baboonchat/baboonchat-tui/internal/util"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// HistoryFilename is the primary store file inside the data directory.
	HistoryFilename = "chat_history.json"

	// backupsDirName holds timestamped copies of the store file.
	backupsDirName = "backups"

	// exportsDirName holds zip bundles produced by Export.
	exportsDirName = "exports"

	// backupRetention is how many backups are kept per rotation pass.
	backupRetention = 5

	// timestampLayout names backups and exports sortably. The fractional
	// part keeps rapid successive backups from colliding.
	timestampLayout = "20060102_150405.000000000"
)

var (
	// ErrNoHistory indicates there is no store file to operate on.
	ErrNoHistory = errors.New("no chat history file")

	// ErrBackupNotFound indicates the named backup does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrInvalidArchive indicates an import bundle that is missing the
	// history entry or fails validation.
	ErrInvalidArchive = errors.New("invalid history archive")

	// ErrClosed indicates the store worker has shut down.
	ErrClosed = errors.New("history store closed")
)

// =============================================================================
// STORE TYPE
// =============================================================================

// Store persists the full thread map to a single JSON file with atomic
// replace-on-write semantics. All mutating operations run on one background
// worker goroutine in enqueue order, so writes never interleave; readers
// only ever observe a complete old or new file.
type Store struct {
	dir string

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// lastWrite is the Unix nano time of the worker's most recent write to
	// the store file, used by the watcher to tell our own writes from
	// external ones.
	lastWrite atomic.Int64
}

type job struct {
	name   string
	fn     func() error
	result chan error // nil for fire-and-forget jobs
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name     string
	Modified time.Time
}

// NewStore creates a store rooted at dir and starts its worker.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	s := &Store{
		dir:  dir,
		jobs: make(chan job, 64),
		done: make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// worker drains the job queue in order until the store is closed.
func (s *Store) worker() {
	defer close(s.done)
	for j := range s.jobs {
		err := j.fn()
		if j.result != nil {
			j.result <- err
			continue
		}
		if err != nil {
			log.Printf("history: %s failed: %v", j.name, err)
		}
	}
}

// enqueue submits a fire-and-forget job; failures are logged by the worker.
func (s *Store) enqueue(name string, fn func() error) {
	if s.closed.Load() {
		log.Printf("history: dropped %s, store closed", name)
		return
	}
	s.jobs <- job{name: name, fn: fn}
}

// run submits a job and waits for its result.
func (s *Store) run(name string, fn func() error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	result := make(chan error, 1)
	s.jobs <- job{name: name, fn: fn, result: result}
	return <-result
}

// Flush blocks until every previously enqueued job has finished.
func (s *Store) Flush() {
	_ = s.run("flush", func() error { return nil })
}

// Close drains the queue and stops the worker. Jobs submitted after Close
// are dropped.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.Flush()
		s.closed.Store(true)
		close(s.jobs)
		<-s.done
	})
}

// =============================================================================
// PATHS
// =============================================================================

// Path returns the primary store file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, HistoryFilename)
}

func (s *Store) backupsDir() string {
	return filepath.Join(s.dir, backupsDirName)
}

func (s *Store) exportsDir() string {
	return filepath.Join(s.dir, exportsDirName)
}

// FileInfo returns size and modification time of the store file, or false
// when it does not exist.
func (s *Store) FileInfo() (int64, time.Time, bool) {
	info, err := os.Stat(s.Path())
	if err != nil {
		return 0, time.Time{}, false
	}
	return info.Size(), info.ModTime(), true
}

// LastWriteAt returns the time of the worker's most recent write to the
// store file.
func (s *Store) LastWriteAt() time.Time {
	return time.Unix(0, s.lastWrite.Load())
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save persists a snapshot of the given threads. The snapshot is taken on
// the caller's goroutine; marshaling and the write happen on the worker, so
// the call returns before the bytes reach disk.
func (s *Store) Save(threads map[string]*model.Thread) {
	records := snapshotThreads(threads)
	s.enqueue("save", func() error { return s.writeRecords(records) })
}

// SaveAndBackup persists a snapshot and then creates a labeled backup, both
// on the worker so the backup always captures the fresh state.
func (s *Store) SaveAndBackup(threads map[string]*model.Thread, label string) {
	records := snapshotThreads(threads)
	s.enqueue("save+backup", func() error {
		if err := s.writeRecords(records); err != nil {
			return err
		}
		return s.backupNow(label)
	})
}

func (s *Store) writeRecords(records []StoredThread) error {
	start := time.Now()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := util.AtomicWriteFile(s.Path(), data, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	s.lastWrite.Store(time.Now().UnixNano())
	log.Printf("history: saved %d threads (%d KB) in %s",
		len(records), len(data)/1024, time.Since(start).Round(time.Millisecond))
	return nil
}

// Load reads the store file and rebuilds the thread map. A missing file
// yields an empty map; an unparseable file is logged and treated the same —
// load never fails the caller.
func (s *Store) Load() map[string]*model.Thread {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("history: read failed: %v", err)
		}
		return map[string]*model.Thread{}
	}

	var records []StoredThread
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("history: parse failed, starting empty: %v", err)
		return map[string]*model.Thread{}
	}

	threads := restoreThreads(records)
	log.Printf("history: loaded %d threads (%d KB)", len(threads), len(data)/1024)
	return threads
}

// Clear snapshots the store to a "pre_clear" backup and then removes the
// primary file. A missing store file makes this a no-op.
func (s *Store) Clear() {
	s.enqueue("clear", func() error {
		if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
			return nil
		}
		if err := s.backupNow("pre_clear"); err != nil {
			return err
		}
		return os.Remove(s.Path())
	})
}

// =============================================================================
// BACKUPS
// =============================================================================

// Backup copies the store file into the backups directory with the given
// label. A missing store file is a silent no-op. After the copy, only the
// five most recently modified backups are retained.
func (s *Store) Backup(label string) {
	s.enqueue("backup", func() error { return s.backupNow(label) })
}

// backupNow runs on the worker (or during another worker job).
func (s *Store) backupNow(label string) error {
	if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
		return nil
	}

	timestamp := time.Now().Format(timestampLayout)
	name := fmt.Sprintf("%s.%s_%s", HistoryFilename, label, timestamp)
	if err := util.CopyFile(s.Path(), filepath.Join(s.backupsDir(), name)); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	log.Printf("history: backup created: %s", name)

	return s.rotateBackups()
}

// rotateBackups deletes all but the newest backupRetention backups.
func (s *Store) rotateBackups() error {
	backups, err := s.listBackupFiles()
	if err != nil {
		return err
	}
	for _, b := range backups[min(len(backups), backupRetention):] {
		if err := os.Remove(filepath.Join(s.backupsDir(), b.Name)); err != nil {
			log.Printf("history: failed to prune backup %s: %v", b.Name, err)
		}
	}
	return nil
}

// RestoreBackup snapshots the current store as "pre_restore" and overwrites
// it with the named backup's bytes. Returns ErrBackupNotFound when the
// backup does not exist.
func (s *Store) RestoreBackup(name string) error {
	return s.run("restore", func() error {
		backupPath := filepath.Join(s.backupsDir(), name)
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, name)
		}
		if err := s.backupNow("pre_restore"); err != nil {
			return err
		}
		if err := util.CopyFile(backupPath, s.Path()); err != nil {
			return fmt.Errorf("restore backup: %w", err)
		}
		s.lastWrite.Store(time.Now().UnixNano())
		log.Printf("history: restored backup %s", name)
		return nil
	})
}

// ListBackups returns every backup, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	return s.listBackupFiles()
}

func (s *Store) listBackupFiles() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("read backups directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), HistoryFilename) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{Name: entry.Name(), Modified: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Modified.After(backups[j].Modified)
	})
	return backups, nil
}
