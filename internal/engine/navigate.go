// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"log"
	"sort"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// VersionInfo summarizes a thread's position in its edit history.
type VersionInfo struct {
	Current int
	Total   int
}

// NavigateToPreviousVersion moves the thread one version back and replaces
// the displayed list with that version's chain. Returns false without side
// effects at the boundary or for an unknown thread.
func (e *Engine) NavigateToPreviousVersion(threadID string) bool {
	return e.navigate(threadID, func(th *model.Thread) bool {
		_, ok := th.MoveToPreviousVersion()
		return ok
	})
}

// NavigateToNextVersion is the forward counterpart.
func (e *Engine) NavigateToNextVersion(threadID string) bool {
	return e.navigate(threadID, func(th *model.Thread) bool {
		_, ok := th.MoveToNextVersion()
		return ok
	})
}

// NavigateToSpecificVersion jumps to an arbitrary version index.
func (e *Engine) NavigateToSpecificVersion(threadID string, index int) bool {
	return e.navigate(threadID, func(th *model.Thread) bool {
		_, ok := th.MoveToVersion(index)
		return ok
	})
}

// navigate applies a version move, then replaces the displayed list with a
// fresh copy of the resolved chain's messages and persists the new pointer.
func (e *Engine) navigate(threadID string, move func(*model.Thread) bool) bool {
	e.mu.Lock()

	th := e.threads[threadID]
	if th == nil {
		e.mu.Unlock()
		return false
	}
	if !move(th) {
		e.mu.Unlock()
		return false
	}

	e.activeThreadID = threadID
	e.displayed = th.ActiveChainMessages()
	e.persistLocked()
	log.Printf("engine: thread %s now at version %d", threadID, th.CurrentVersionIndex())

	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
	return true
}

// SwitchToChain activates a specific branch without changing the version
// index. Returns false for an unknown thread or chain.
func (e *Engine) SwitchToChain(threadID, chainID string) bool {
	e.mu.Lock()

	th := e.threads[threadID]
	if th == nil {
		e.mu.Unlock()
		return false
	}
	messages, ok := th.ActivateChain(chainID)
	if !ok {
		e.mu.Unlock()
		return false
	}

	e.activeThreadID = threadID
	e.displayed = messages
	e.persistLocked()

	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
	return true
}

// ChainSummary describes one branch of a version for listing.
type ChainSummary struct {
	ID          string
	FromVersion int
	Messages    int
	Active      bool
}

// ChainsForCurrentVersion lists the branches hanging off the thread's
// current version, newest first.
func (e *Engine) ChainsForCurrentVersion(threadID string) []ChainSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	th := e.threads[threadID]
	if th == nil {
		return nil
	}
	activeID, _ := th.ActiveChainID()

	var out []ChainSummary
	for _, c := range th.ChainsForVersion(th.CurrentVersionIndex()) {
		out = append(out, ChainSummary{
			ID:          c.ID(),
			FromVersion: c.FromVersionIndex(),
			Messages:    c.Len(),
			Active:      c.ID() == activeID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CurrentVersionInfo reports where the thread sits in its edit history.
func (e *Engine) CurrentVersionInfo(threadID string) (VersionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	th := e.threads[threadID]
	if th == nil || th.VersionCount() == 0 {
		return VersionInfo{}, false
	}
	return VersionInfo{
		Current: th.CurrentVersionIndex(),
		Total:   th.VersionCount(),
	}, true
}
