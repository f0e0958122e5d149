// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation data structures: messages,
// versions, chains, and the thread branching engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// KIND TYPE
// =============================================================================

// Kind identifies the sender of a message.
type Kind string

const (
	// KindUser is a message typed by the user.
	KindUser Kind = "USER"
	// KindBot is a reply from the AI backend or a human representative.
	KindBot Kind = "BOT"
	// KindError is a system or error entry shown inline in the chat.
	KindError Kind = "ERROR"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// DisplayName returns a human-readable name for the kind.
func (k Kind) DisplayName() string {
	switch k {
	case KindUser:
		return "You"
	case KindBot:
		return "Assistant"
	case KindError:
		return "System"
	default:
		return string(k)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one chat turn. Messages are value types and are never mutated
// in place: every change derives a copy via the With* helpers, so two chains
// can never share a mutable message.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Content. Content and image are independently optional; USER and BOT
	// messages must carry at least one of them.
	Content       string `json:"content,omitempty"`
	ContainsImage bool   `json:"contains_image,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	ImageData     string `json:"image_data,omitempty"`

	// Ownership
	ThreadID string `json:"thread_id,omitempty"`
	ChainID  string `json:"chain_id,omitempty"`

	// Version metadata
	VersionNumber     int    `json:"version_number"`
	HasVersionHistory bool   `json:"has_version_history,omitempty"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
	EditLineageID     string `json:"edit_lineage_id,omitempty"`
}

// NewMessage creates a message of the given kind with a generated ID.
func NewMessage(kind Kind, content, threadID string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content, threadID string) Message {
	return NewMessage(KindUser, content, threadID)
}

// NewBotMessage creates a new bot message.
func NewBotMessage(content, threadID string) Message {
	return NewMessage(KindBot, content, threadID)
}

// NewErrorMessage creates a new error/system message.
func NewErrorMessage(content, threadID string) Message {
	return NewMessage(KindError, content, threadID)
}

// =============================================================================
// DERIVATION HELPERS
// =============================================================================

// WithChain returns a copy of the message tagged with the given chain ID.
func (m Message) WithChain(chainID string) Message {
	m.ChainID = chainID
	return m
}

// WithVersionNumber returns a copy with the version number set.
func (m Message) WithVersionNumber(n int) Message {
	m.VersionNumber = n
	return m
}

// WithVersionHistory returns a copy with the version-history flag set.
func (m Message) WithVersionHistory() Message {
	m.HasVersionHistory = true
	return m
}

// WithLineage returns a copy linked to the message it replaces.
// originalID points at the predecessor; lineageID groups every edited
// variant of the same logical user turn.
func (m Message) WithLineage(originalID, lineageID string) Message {
	m.OriginalMessageID = originalID
	m.EditLineageID = lineageID
	return m
}

// WithImage returns a copy carrying an image payload. Exactly one of url and
// data is expected to be non-empty.
func (m Message) WithImage(url, data string) Message {
	m.ContainsImage = true
	m.ImageURL = url
	m.ImageData = data
	return m
}

// =============================================================================
// MESSAGE QUERIES
// =============================================================================

// HasPayload reports whether the message carries meaningful content. USER
// and BOT messages must have text or an image; ERROR entries are text-only.
func (m Message) HasPayload() bool {
	if m.Content != "" {
		return true
	}
	if m.Kind == KindError {
		return false
	}
	return m.ContainsImage && (m.ImageURL != "" || m.ImageData != "")
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// LineageKey returns the identifier that groups this message with its edited
// variants: the explicit lineage ID when set, otherwise its own ID.
func (m Message) LineageKey() string {
	if m.EditLineageID != "" {
		return m.EditLineageID
	}
	return m.ID
}
