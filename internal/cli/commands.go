// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - One-shot command handlers for scripted use, mirroring the
// REPL's /export, /import, /search, /stats and /backups.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

// HandleExport writes the history to a zip bundle and prints its path.
func HandleExport(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	path, err := app.Engine.ExportHistory()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// HandleImport replaces the history from a zip bundle.
func HandleImport(args Args) error {
	if len(args.Raw) != 1 {
		return errors.New("usage: baboonchat import <path>")
	}
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Engine.ImportHistory(args.Raw[0]); err != nil {
		return err
	}
	s := app.Engine.Stats()
	fmt.Printf("imported %d threads, %d messages\n", s.Threads, s.Messages)
	return nil
}

// HandleSearch runs a full-text query against the history.
func HandleSearch(args Args) error {
	if len(args.Raw) == 0 {
		return errors.New("usage: baboonchat search <query>")
	}
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	return printSearchResults(app.Engine, strings.Join(args.Raw, " "))
}

// HandleStats prints history statistics.
func HandleStats(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	printStats(app.Engine)
	return nil
}

// HandleBackups lists available history backups.
func HandleBackups(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	return printBackups(app.Store)
}
