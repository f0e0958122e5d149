// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CHAIN TYPE
// =============================================================================

// Chain is one linear branch of a conversation: the ordered messages created
// after a specific version of a user message. The backing slice is never
// handed out; callers get snapshots and mutate through Thread methods only.
type Chain struct {
	id               string
	fromVersionIndex int
	createdAt        time.Time
	messages         []Message
}

// newChain creates an empty chain branching from the given version index.
func newChain(fromVersionIndex int) *Chain {
	return &Chain{
		id:               uuid.NewString(),
		fromVersionIndex: fromVersionIndex,
		createdAt:        time.Now(),
	}
}

// RestoreChain rebuilds a chain from persisted state, preserving its ID and
// creation time. Used by the history store on load.
func RestoreChain(id string, fromVersionIndex int, createdAt time.Time, messages []Message) *Chain {
	c := &Chain{
		id:               id,
		fromVersionIndex: fromVersionIndex,
		createdAt:        createdAt,
		messages:         make([]Message, len(messages)),
	}
	copy(c.messages, messages)
	return c
}

// =============================================================================
// CHAIN ACCESSORS
// =============================================================================

// ID returns the chain identifier.
func (c *Chain) ID() string { return c.id }

// FromVersionIndex returns the version index this chain branched from.
func (c *Chain) FromVersionIndex() int { return c.fromVersionIndex }

// CreatedAt returns the chain creation time.
func (c *Chain) CreatedAt() time.Time { return c.createdAt }

// Len returns the number of messages in the chain.
func (c *Chain) Len() int { return len(c.messages) }

// Messages returns a snapshot of the chain's messages in append order.
func (c *Chain) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// MessagesByTime returns a snapshot of the chain's messages sorted by
// creation time ascending. Appends are already chronological; the re-sort
// defends against clock skew and copy operations.
func (c *Chain) MessagesByTime() []Message {
	out := c.Messages()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// =============================================================================
// CHAIN MUTATION (thread-internal)
// =============================================================================

// append adds a message retagged with this chain's ID.
func (c *Chain) append(m Message) Message {
	m = m.WithChain(c.id)
	c.messages = append(c.messages, m)
	return m
}

// replaceAt overwrites the message at index i, retagged with this chain's ID.
func (c *Chain) replaceAt(i int, m Message) {
	c.messages[i] = m.WithChain(c.id)
}

// indexOf returns the position of the first message matching by ID, or by
// kind+content equality as a fallback, or -1.
func (c *Chain) indexOf(id string, kind Kind, content string) int {
	for i, m := range c.messages {
		if m.ID == id || (m.Kind == kind && m.Content != "" && m.Content == content) {
			return i
		}
	}
	return -1
}
