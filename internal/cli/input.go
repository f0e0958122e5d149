// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// inputHistoryFile keeps REPL input history between sessions. It lives in
// the data directory next to the conversation store.
const inputHistoryFile = "input_history"

// Input wraps liner with persistent history, giving the REPL line editing
// and arrow-key recall.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates a line reader whose history persists under dataDir.
func NewInput(dataDir string) *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &Input{
		line:        line,
		historyFile: filepath.Join(dataDir, inputHistoryFile),
	}
	in.loadHistory()
	return in
}

// ReadLine reads one line, recording non-empty input in history.
func (in *Input) ReadLine(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

func (in *Input) loadHistory() {
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
}

func (in *Input) saveHistory() {
	f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	in.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (in *Input) Close() {
	in.saveHistory()
	in.line.Close()
}
