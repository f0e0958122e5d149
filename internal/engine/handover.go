// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// HANDOVER TO A LIVE REPRESENTATIVE
// =============================================================================

// ConnectToRepresentative asks the backend for a live session and opens
// it, shipping the active chain as context. While connected, SendMessage
// forwards to the representative instead of the AI.
func (e *Engine) ConnectToRepresentative(ctx context.Context) error {
	e.mu.Lock()
	th := e.activeThreadLocked()
	if th == nil {
		e.mu.Unlock()
		return ErrNoActiveThread
	}
	threadID := th.ID()
	chainHistory := th.ActiveChainMessages()
	e.mu.Unlock()

	grant, err := e.backend.InitiateHandover(ctx, chainHistory)
	if err != nil {
		e.appendError(threadID, fmt.Sprintf("Error: could not reach support: %v", err))
		return err
	}

	session := e.opts.NewSession(e)
	if err := session.Connect(ctx, grant.SocketURL, grant.SessionToken); err != nil {
		e.appendError(threadID, fmt.Sprintf("Error: could not join support session: %v", err))
		return err
	}

	e.mu.Lock()
	e.session = session
	e.mu.Unlock()
	log.Printf("engine: handover initiated (status %s)", grant.Status)
	return nil
}

// DisconnectRepresentative closes the live session, if any.
func (e *Engine) DisconnectRepresentative() {
	e.mu.Lock()
	session := e.session
	e.session = nil
	e.repConnected = false
	e.mu.Unlock()

	if session != nil {
		session.Disconnect()
	}
}

// ConnectedToRepresentative reports whether messages currently route to a
// human.
func (e *Engine) ConnectedToRepresentative() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repConnected
}

// RepresentativeName returns the assigned representative's display name.
func (e *Engine) RepresentativeName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repName
}

// =============================================================================
// INBOUND MESSAGES
// =============================================================================

// AddRepresentativeMessage appends an inbound human reply to the active
// chain, displayed exactly like a bot message.
func (e *Engine) AddRepresentativeMessage(content string) {
	e.addInbound(model.KindBot, content)
}

// AddSystemMessage appends a connection-status entry to the active chain.
func (e *Engine) AddSystemMessage(content string) {
	e.addInbound(model.KindError, content)
}

func (e *Engine) addInbound(kind model.Kind, content string) {
	e.mu.Lock()

	th := e.activeThreadLocked()
	if th == nil {
		e.mu.Unlock()
		return
	}
	threadID := th.ID()

	msg := model.NewMessage(kind, content, threadID)
	stored, ok := th.AddMessageToActiveChain(msg)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.displayed = append(e.displayed, stored)
	e.persistLocked()

	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
}

// =============================================================================
// LIVE SESSION EVENTS (live.Handler)
// =============================================================================

// OnConnected marks the conversation as bridged to a human.
func (e *Engine) OnConnected() {
	e.mu.Lock()
	e.repConnected = true
	e.mu.Unlock()
	e.AddSystemMessage("Connected to live support.")
}

// OnDisconnected clears the bridge; subsequent messages go to the AI again.
func (e *Engine) OnDisconnected() {
	e.mu.Lock()
	wasConnected := e.repConnected
	e.repConnected = false
	e.session = nil
	e.mu.Unlock()

	if wasConnected {
		e.AddSystemMessage("Disconnected from live support.")
	}
}

// OnError surfaces a session failure as a visible chat entry.
func (e *Engine) OnError(err error) {
	e.mu.Lock()
	threadID := e.activeThreadID
	e.mu.Unlock()
	if threadID != "" {
		e.appendError(threadID, fmt.Sprintf("Error: live session: %v", err))
	}
}

// OnQueued reports the caller's position in the support queue.
func (e *Engine) OnQueued(position int) {
	e.AddSystemMessage(fmt.Sprintf("Waiting for a representative (position %d in queue).", position))
}

// OnRepresentativeMessage delivers a human reply.
func (e *Engine) OnRepresentativeMessage(content string) {
	e.AddRepresentativeMessage(content)
}

// OnChatAssigned records who picked up the conversation.
func (e *Engine) OnChatAssigned(repName string) {
	e.mu.Lock()
	e.repName = repName
	e.mu.Unlock()
	e.AddSystemMessage(fmt.Sprintf("%s joined the conversation.", repName))
}

// OnChatEnded closes the bridge from the representative's side.
func (e *Engine) OnChatEnded() {
	e.AddSystemMessage("The representative ended the chat.")
	e.DisconnectRepresentative()
}
