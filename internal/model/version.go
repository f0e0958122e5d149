// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// VERSION TYPE
// =============================================================================

// Version is one slot in a thread's edit history: a user message paired with
// its (possibly pending) bot response. Versions are append-only; the bot
// response is the only field filled in after creation, once the asynchronous
// reply arrives.
type Version struct {
	UserMessage Message
	BotResponse *Message
	CreatedAt   time.Time
}

// NewVersion creates a version for the given user message. botResponse may
// be nil when the reply has not arrived yet.
func NewVersion(userMessage Message, botResponse *Message) Version {
	return Version{
		UserMessage: userMessage,
		BotResponse: botResponse,
		CreatedAt:   time.Now(),
	}
}

// RestoreVersion rebuilds a version from persisted state.
func RestoreVersion(userMessage Message, botResponse *Message, createdAt time.Time) Version {
	return Version{
		UserMessage: userMessage,
		BotResponse: botResponse,
		CreatedAt:   createdAt,
	}
}

// HasResponse reports whether the bot response slot is filled.
func (v Version) HasResponse() bool {
	return v.BotResponse != nil
}

// clone returns a deep copy so callers never alias the stored bot response.
func (v Version) clone() Version {
	out := v
	if v.BotResponse != nil {
		resp := *v.BotResponse
		out.BotResponse = &resp
	}
	return out
}
