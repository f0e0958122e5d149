// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// EditMessage replaces a previously sent user message with new content,
// branching the conversation: a new version and chain are created, the
// messages before the edited turn are carried over, the old tail is
// dropped, and a fresh reply is requested for the edited content.
//
// The target must be in the currently displayed list. Lineage is resolved
// so that repeated edits of the same logical turn share one lineage ID.
func (e *Engine) EditMessage(ctx context.Context, messageID, newContent string) error {
	if strings.TrimSpace(newContent) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()

	target, found := e.displayedByIDLocked(messageID)
	if !found || target.ThreadID == "" {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	threadID := target.ThreadID
	th := e.threads[threadID]
	if th == nil {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	if e.busy[threadID] {
		e.mu.Unlock()
		return ErrThreadBusy
	}

	lineageID := target.EditLineageID
	if lineageID == "" {
		lineageID = th.ResolveLineage(messageID)
	}

	// The new version's number is the pre-append count.
	versionNumber := th.VersionCount()
	edited := model.NewUserMessage(newContent, threadID).
		WithVersionNumber(versionNumber).
		WithVersionHistory().
		WithLineage(messageID, lineageID)

	th.AddVersion(edited, nil)
	th.MarkVersionsWithHistory()
	newChainID := th.CreateNewChain()

	// Carry over everything before the edited turn from the branch the
	// original message lived in.
	source := th.NewestChainExcept(newChainID)
	spliced := th.SpliceForEdit(source, edited, messageID, target.Content)

	e.displayed = spliced
	e.persistLocked()
	log.Printf("engine: edited message %s into version %d (chain %s)",
		messageID, versionNumber, newChainID)

	e.busy[threadID] = true
	chainContext := th.ActiveChainMessages()
	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		raw, err := e.backend.SendMessage(ctx, newContent, chainContext)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.busy[threadID] = false

		if err != nil {
			log.Printf("engine: edit reply failed: %v", err)
			e.applyErrorLocked(threadID, fmt.Sprintf("Error: %v", err))
			return
		}
		e.applyReplyLocked(threadID, raw, true)
	}()
	return nil
}

// displayedByIDLocked finds a message in the displayed list by ID.
func (e *Engine) displayedByIDLocked(messageID string) (model.Message, bool) {
	for _, m := range e.displayed {
		if m.ID == messageID {
			return m, true
		}
	}
	return model.Message{}, false
}
