// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"strings"
	"testing"
	"time"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

func TestBuildPromptWithHistory(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("Hello, how are you?", "t1"),
		model.NewBotMessage("I'm doing well, thank you for asking. How can I help you today?", "t1"),
	}

	prompt := BuildPrompt("Tell me about machine learning.", history)

	for _, want := range []string{
		"=== CONVERSATION HISTORY START ===",
		"USER: Hello, how are you?",
		"ASSISTANT: I'm doing well, thank you for asking. How can I help you today?",
		"=== CONVERSATION HISTORY END ===",
		"=== CURRENT USER MESSAGE ===",
		"Tell me about machine learning.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	if strings.Index(prompt, "HISTORY END") > strings.Index(prompt, "CURRENT USER MESSAGE") {
		t.Error("history section should precede the current message")
	}
}

func TestBuildPromptExcludesCurrentMessage(t *testing.T) {
	current := "What about wombats?"
	history := []model.Message{
		model.NewUserMessage("Tell me about capybaras.", "t1"),
		model.NewUserMessage(current, "t1"), // already appended to the chain
	}

	prompt := BuildPrompt(current, history)

	if strings.Count(prompt, current) != 1 {
		t.Errorf("current message should appear exactly once:\n%s", prompt)
	}
}

func TestBuildPromptEmptyHistory(t *testing.T) {
	prompt := BuildPrompt("First question", nil)

	if !strings.Contains(prompt, "=== CONVERSATION HISTORY START ===") {
		t.Error("history markers should be present even with no history")
	}
	if !strings.Contains(prompt, "First question") {
		t.Error("prompt should carry the current message")
	}
}

func TestRelevantMessages(t *testing.T) {
	base := time.Now()
	mk := func(content, chainID string, offset time.Duration) model.Message {
		m := model.NewUserMessage(content, "t1").WithChain(chainID)
		m.CreatedAt = base.Add(offset)
		return m
	}

	all := []model.Message{
		mk("Response in chain 1", "chain-1", 2*time.Second),
		mk("Message in chain 2", "chain-2", 0),
		mk("Message in chain 1", "chain-1", time.Second),
		mk("Response in chain 2", "chain-2", 3*time.Second),
	}

	chain1 := RelevantMessages(all, "chain-1")
	if len(chain1) != 2 {
		t.Fatalf("chain-1: got %d messages, want 2", len(chain1))
	}
	if chain1[0].Content != "Message in chain 1" || chain1[1].Content != "Response in chain 1" {
		t.Errorf("chain-1 not in chronological order: %q, %q", chain1[0].Content, chain1[1].Content)
	}

	chain2 := RelevantMessages(all, "chain-2")
	if len(chain2) != 2 {
		t.Fatalf("chain-2: got %d messages, want 2", len(chain2))
	}

	if got := RelevantMessages(all, ""); len(got) != 0 {
		t.Errorf("empty chain ID should yield no messages, got %d", len(got))
	}
}
