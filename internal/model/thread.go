// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread is one logical conversation: an append-only list of versions (the
// edit history), a set of chains (the branches), and pointers to the version
// and chain the user is currently looking at.
//
// Thread is not safe for concurrent use; the conversation engine serializes
// access to it.
type Thread struct {
	id            string
	versions      []Version
	currentIndex  int
	chains        map[string]*Chain
	activeChainID string
}

// NewThread creates an empty thread with the given ID. If id is empty a new
// one is generated.
func NewThread(id string) *Thread {
	if id == "" {
		id = uuid.NewString()
	}
	return &Thread{
		id:     id,
		chains: make(map[string]*Chain),
	}
}

// RestoreThread rebuilds a thread from persisted state. Chains are adopted
// as-is; the caller is responsible for passing chains whose messages already
// carry matching chain IDs.
func RestoreThread(id string, versions []Version, currentIndex int, chains []*Chain, activeChainID string) *Thread {
	t := &Thread{
		id:            id,
		versions:      make([]Version, 0, len(versions)),
		currentIndex:  currentIndex,
		chains:        make(map[string]*Chain, len(chains)),
		activeChainID: activeChainID,
	}
	for _, v := range versions {
		t.versions = append(t.versions, v.clone())
	}
	for _, c := range chains {
		t.chains[c.id] = c
	}
	return t
}

// =============================================================================
// BASIC ACCESSORS
// =============================================================================

// ID returns the thread identifier.
func (t *Thread) ID() string { return t.id }

// VersionCount returns the number of versions in the edit history.
func (t *Thread) VersionCount() int { return len(t.versions) }

// CurrentVersionIndex returns the index of the active version.
func (t *Thread) CurrentVersionIndex() int { return t.currentIndex }

// ChainCount returns the number of chains in the thread.
func (t *Thread) ChainCount() int { return len(t.chains) }

// ActiveChainID returns the ID of the chain currently displayed, or false
// when no chain is active.
func (t *Thread) ActiveChainID() (string, bool) {
	if t.activeChainID == "" {
		return "", false
	}
	return t.activeChainID, true
}

// Versions returns a snapshot of the version history.
func (t *Thread) Versions() []Version {
	out := make([]Version, 0, len(t.versions))
	for _, v := range t.versions {
		out = append(out, v.clone())
	}
	return out
}

// Chains returns a snapshot of every chain in the thread.
func (t *Thread) Chains() []*Chain {
	out := make([]*Chain, 0, len(t.chains))
	for _, c := range t.chains {
		out = append(out, RestoreChain(c.id, c.fromVersionIndex, c.createdAt, c.messages))
	}
	return out
}

// LastActivity returns the most recent version creation time, used to pick
// the thread the user last touched after a reload.
func (t *Thread) LastActivity() time.Time {
	var latest time.Time
	for _, v := range t.versions {
		if v.CreatedAt.After(latest) {
			latest = v.CreatedAt
		}
	}
	return latest
}

// =============================================================================
// VERSION OPERATIONS
// =============================================================================

// AddVersion appends a new version and makes it current. The very first
// version also creates the thread's initial chain and marks it active.
// Returns the new version's index.
func (t *Thread) AddVersion(userMessage Message, botResponse *Message) int {
	t.versions = append(t.versions, NewVersion(userMessage, botResponse))
	t.currentIndex = len(t.versions) - 1

	if len(t.versions) == 1 {
		t.CreateNewChain()
	}

	return t.currentIndex
}

// UpdateCurrentVersion replaces fields of the version at the current index.
// Nil arguments leave the corresponding field untouched. When a bot response
// is supplied and syncChain is true, the active chain is patched as well:
// with two or more messages present the first BOT message after the head is
// replaced, otherwise the response is appended. No-op when the thread is
// empty or the index is out of range.
func (t *Thread) UpdateCurrentVersion(userMessage, botResponse *Message, syncChain bool) {
	if len(t.versions) == 0 || t.currentIndex < 0 || t.currentIndex >= len(t.versions) {
		return
	}

	if userMessage != nil {
		t.versions[t.currentIndex].UserMessage = *userMessage
	}
	if botResponse == nil {
		return
	}

	resp := *botResponse
	t.versions[t.currentIndex].BotResponse = &resp

	if !syncChain {
		return
	}
	chain, ok := t.chains[t.activeChainID]
	if !ok {
		return
	}
	if chain.Len() >= 2 {
		for i := 1; i < chain.Len(); i++ {
			if chain.messages[i].Kind == KindBot {
				chain.replaceAt(i, resp)
				return
			}
		}
		return
	}
	chain.append(resp)
}

// CurrentVersion returns the active version, or false when the thread is
// empty or the index is invalid.
func (t *Thread) CurrentVersion() (Version, bool) {
	if len(t.versions) == 0 || t.currentIndex < 0 || t.currentIndex >= len(t.versions) {
		return Version{}, false
	}
	return t.versions[t.currentIndex].clone(), true
}

// HasNextVersion reports whether a later version exists.
func (t *Thread) HasNextVersion() bool {
	return t.currentIndex < len(t.versions)-1
}

// HasPreviousVersion reports whether an earlier version exists.
func (t *Thread) HasPreviousVersion() bool {
	return t.currentIndex > 0
}

// MoveToNextVersion advances to the next version and resolves its active
// chain. Returns false at the boundary, leaving state unchanged.
func (t *Thread) MoveToNextVersion() (Version, bool) {
	if !t.HasNextVersion() {
		return Version{}, false
	}
	return t.MoveToVersion(t.currentIndex + 1)
}

// MoveToPreviousVersion retreats to the previous version and resolves its
// active chain. Returns false at the boundary, leaving state unchanged.
func (t *Thread) MoveToPreviousVersion() (Version, bool) {
	if !t.HasPreviousVersion() {
		return Version{}, false
	}
	return t.MoveToVersion(t.currentIndex - 1)
}

// MoveToVersion jumps to an arbitrary version index. After the move the
// active chain is the most recently created chain branching from that
// version, or a freshly created one when none exists. Returns false without
// side effects when the index is out of range.
func (t *Thread) MoveToVersion(index int) (Version, bool) {
	if index < 0 || index >= len(t.versions) {
		return Version{}, false
	}
	t.currentIndex = index
	t.resolveActiveChain()
	return t.versions[t.currentIndex].clone(), true
}

// resolveActiveChain points activeChainID at the newest chain for the
// current version, creating one when the version has no descendants yet.
func (t *Thread) resolveActiveChain() {
	if newest := t.newestChainForVersion(t.currentIndex); newest != nil {
		t.activeChainID = newest.id
		return
	}
	t.CreateNewChain()
}

// newestChainForVersion returns the most recently created chain branching
// from the given version index, or nil.
func (t *Thread) newestChainForVersion(index int) *Chain {
	var newest *Chain
	for _, c := range t.chains {
		if c.fromVersionIndex != index {
			continue
		}
		if newest == nil || c.createdAt.After(newest.createdAt) {
			newest = c
		}
	}
	return newest
}

// MarkVersionsWithHistory flags every version's messages with the
// version-history marker once more than one version exists, so version
// controls can be shown retroactively for earlier turns.
func (t *Thread) MarkVersionsWithHistory() {
	if len(t.versions) <= 1 {
		return
	}
	for i := range t.versions {
		t.versions[i].UserMessage = t.versions[i].UserMessage.WithVersionHistory()
		if t.versions[i].BotResponse != nil {
			resp := t.versions[i].BotResponse.WithVersionHistory()
			t.versions[i].BotResponse = &resp
		}
	}
}

// =============================================================================
// CHAIN OPERATIONS
// =============================================================================

// CreateNewChain builds a chain branching from the current version, seeded
// with copies of the version's user message and bot response (when present)
// retagged with the new chain ID, registers it, and makes it active.
//
// When the thread has no current version the returned ID is freshly minted
// but backs no registered chain; callers must tolerate the empty chain.
func (t *Thread) CreateNewChain() string {
	chain := newChain(t.currentIndex)

	current, ok := t.CurrentVersion()
	if !ok {
		return chain.id
	}

	chain.append(current.UserMessage)
	if current.BotResponse != nil {
		chain.append(*current.BotResponse)
	}

	t.chains[chain.id] = chain
	t.activeChainID = chain.id
	return chain.id
}

// AddMessageToActiveChain appends the message (retagged with the chain's ID)
// to the active chain. Returns the stored copy and true, or false when no
// active chain is set or it does not exist.
func (t *Thread) AddMessageToActiveChain(m Message) (Message, bool) {
	if t.activeChainID == "" {
		return Message{}, false
	}
	chain, ok := t.chains[t.activeChainID]
	if !ok {
		return Message{}, false
	}
	return chain.append(m), true
}

// ActivateChain makes the given chain active and returns a snapshot of its
// messages. Returns false for an unknown chain ID.
func (t *Thread) ActivateChain(chainID string) ([]Message, bool) {
	chain, ok := t.chains[chainID]
	if !ok {
		return nil, false
	}
	t.activeChainID = chainID
	return chain.Messages(), true
}

// ChainsForVersion returns snapshots of every chain branching from the given
// version index.
func (t *Thread) ChainsForVersion(index int) []*Chain {
	var out []*Chain
	for _, c := range t.chains {
		if c.fromVersionIndex == index {
			out = append(out, RestoreChain(c.id, c.fromVersionIndex, c.createdAt, c.messages))
		}
	}
	return out
}

// ActiveChainMessages returns the active chain's messages in chronological
// order, or nil when no chain is active.
func (t *Thread) ActiveChainMessages() []Message {
	chain, ok := t.chains[t.activeChainID]
	if !ok {
		return nil
	}
	return chain.MessagesByTime()
}

// ActiveChainLen returns the number of messages in the active chain.
func (t *Thread) ActiveChainLen() int {
	chain, ok := t.chains[t.activeChainID]
	if !ok {
		return 0
	}
	return chain.Len()
}

// MessageCount returns the total number of messages across all chains.
func (t *Thread) MessageCount() int {
	total := 0
	for _, c := range t.chains {
		total += c.Len()
	}
	return total
}

// =============================================================================
// EDIT SUPPORT
// =============================================================================

// FindRelatedMessages scans every chain for messages belonging to the given
// lineage: matching by lineage ID, own ID, or original-message ID. Used to
// count how many edited variants exist for a logical turn.
func (t *Thread) FindRelatedMessages(lineageID string) []Message {
	var out []Message
	for _, c := range t.chains {
		for _, m := range c.messages {
			if m.EditLineageID == lineageID || m.ID == lineageID || m.OriginalMessageID == lineageID {
				out = append(out, m)
			}
		}
	}
	return out
}

// RelatedMessageCount reports how many edited variants of a logical turn
// exist across all chains.
func (t *Thread) RelatedMessageCount(lineageID string) int {
	return len(t.FindRelatedMessages(lineageID))
}

// ResolveLineage determines the lineage ID for an edit of the given message.
// A message already tagged keeps its lineage; otherwise every chain is
// scanned for a message referencing the ID (as its own or as its original)
// and that message's lineage key is adopted. Falls back to the edited
// message's own ID.
func (t *Thread) ResolveLineage(messageID string) string {
	for _, c := range t.chains {
		for _, m := range c.messages {
			if m.ID == messageID || m.OriginalMessageID == messageID {
				return m.LineageKey()
			}
		}
	}
	return messageID
}

// NewestChainExcept returns the most recently created chain other than the
// one named, or nil. Used by edit splicing to find the branch the edited
// message lived in.
func (t *Thread) NewestChainExcept(chainID string) *Chain {
	var newest *Chain
	for _, c := range t.chains {
		if c.id == chainID {
			continue
		}
		if newest == nil || c.createdAt.After(newest.createdAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil
	}
	return RestoreChain(newest.id, newest.fromVersionIndex, newest.createdAt, newest.messages)
}

// SpliceForEdit rebuilds the active chain for an edit: every message of the
// source chain strictly before the edited message's original position is
// copied in (keeping its lineage tags), then the edited message lands at
// that same position. The old tail is dropped; the caller regenerates it
// with a fresh AI call. Returns the messages now in the active chain.
//
// When the source chain is nil or the original position cannot be found the
// active chain holds only the edited message.
func (t *Thread) SpliceForEdit(source *Chain, edited Message, originalID, originalContent string) []Message {
	chain, ok := t.chains[t.activeChainID]
	if !ok {
		return nil
	}

	if source != nil {
		if pos := source.indexOf(originalID, KindUser, originalContent); pos >= 0 {
			chain.messages = chain.messages[:0]
			for _, m := range source.messages[:pos] {
				copied := m.WithLineage(orDefault(m.OriginalMessageID, m.ID), m.LineageKey())
				chain.append(copied)
			}
			chain.append(edited)
			return chain.Messages()
		}
	}

	chain.messages = chain.messages[:0]
	chain.append(edited)
	return chain.Messages()
}

// orDefault returns s, or fallback when s is empty.
func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
