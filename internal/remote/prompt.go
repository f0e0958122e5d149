// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote implements the HTTP client for the AI backend: prompt
// assembly from the active chain, the send-message call with retries and
// rate limiting, two-tier reply parsing, and handover initiation.
package remote

import (
	"sort"
	"strings"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// PROMPT BUILDER
// =============================================================================

// BuildPrompt formats the current user message together with the active
// chain's history into a single prompt string. History is fenced off from
// the new message so the backend can tell context from the actual question.
func BuildPrompt(userMessage string, history []model.Message) string {
	var b strings.Builder

	b.WriteString("=== CONVERSATION HISTORY START ===\n\n")
	for _, m := range history {
		// The current message is already appended to the chain by the time
		// the prompt is built; keep it out of the history section.
		if m.Content == userMessage {
			continue
		}
		b.WriteString(rolePrefix(m.Kind))
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("=== CONVERSATION HISTORY END ===\n\n")

	b.WriteString("=== CURRENT USER MESSAGE ===\n")
	b.WriteString(userMessage)

	return b.String()
}

func rolePrefix(kind model.Kind) string {
	switch kind {
	case model.KindUser:
		return "USER: "
	case model.KindBot:
		return "ASSISTANT: "
	default:
		return "SYSTEM: "
	}
}

// RelevantMessages filters a message list down to the given chain, ordered
// chronologically. An empty chain ID yields an empty slice.
func RelevantMessages(all []model.Message, chainID string) []model.Message {
	if chainID == "" {
		return nil
	}
	var out []model.Message
	for _, m := range all {
		if m.ChainID == chainID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
