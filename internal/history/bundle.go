// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/baboonchat/baboonchat-tui/internal/util"
)

// =============================================================================
// EXPORT / IMPORT BUNDLES
// =============================================================================

// maxBundleEntrySize caps how much we will read out of an import archive,
// guarding against decompression bombs.
const maxBundleEntrySize = 256 << 20 // 256 MB

// Export writes the current store file into a timestamped zip bundle under
// the exports directory and returns the bundle path. Fails with ErrNoHistory
// when there is nothing to export.
func (s *Store) Export() (string, error) {
	var path string
	err := s.run("export", func() error {
		data, err := os.ReadFile(s.Path())
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNoHistory
			}
			return fmt.Errorf("read history: %w", err)
		}

		if err := os.MkdirAll(s.exportsDir(), 0755); err != nil {
			return fmt.Errorf("create exports directory: %w", err)
		}
		name := fmt.Sprintf("chat_history_%s.zip", time.Now().Format(timestampLayout))
		path = filepath.Join(s.exportsDir(), name)

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create bundle: %w", err)
		}
		defer f.Close()

		zw := zip.NewWriter(f)
		entry, err := zw.Create(HistoryFilename)
		if err != nil {
			return fmt.Errorf("create bundle entry: %w", err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("write bundle entry: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finalize bundle: %w", err)
		}
		log.Printf("history: exported %d KB to %s", len(data)/1024, name)
		return nil
	})
	return path, err
}

// Import replaces the store file with the history entry from the given zip
// bundle. The entry must parse as a thread list before anything is written;
// on any failure the existing store file is left untouched.
func (s *Store) Import(archivePath string) error {
	return s.run("import", func() error {
		data, err := readBundleEntry(archivePath)
		if err != nil {
			return err
		}

		var records []StoredThread
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}

		if err := util.AtomicWriteFile(s.Path(), data, 0644); err != nil {
			return fmt.Errorf("write imported history: %w", err)
		}
		s.lastWrite.Store(time.Now().UnixNano())
		log.Printf("history: imported %d threads from %s",
			len(records), filepath.Base(archivePath))
		return nil
	})
}

// readBundleEntry extracts the history entry's bytes from a zip bundle.
func readBundleEntry(archivePath string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != HistoryFilename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxBundleEntrySize))
		if err != nil {
			return nil, fmt.Errorf("read bundle entry: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: missing %s entry", ErrInvalidArchive, HistoryFilename)
}
