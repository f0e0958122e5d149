// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists the thread/version/chain graph to a local JSON
// store with backup rotation and zip import/export.
package history

import (
	"time"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// STORED RECORD TYPES
// =============================================================================

// StoredThread is the on-disk form of one thread. The store file holds a
// JSON array of these.
type StoredThread struct {
	ID                  string                 `json:"id"`
	Versions            []StoredVersion        `json:"versions"`
	CurrentVersionIndex int                    `json:"current_version_index"`
	Chains              map[string]StoredChain `json:"chains"`
	ActiveChainID       string                 `json:"active_chain_id,omitempty"`
}

// StoredVersion is the on-disk form of one version slot.
type StoredVersion struct {
	UserMessage StoredMessage  `json:"user_message"`
	BotResponse *StoredMessage `json:"bot_response,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// StoredChain is the on-disk form of one chain.
type StoredChain struct {
	ChainID          string          `json:"chain_id"`
	FromVersionIndex int             `json:"from_version_index"`
	Messages         []StoredMessage `json:"messages"`
	Timestamp        int64           `json:"timestamp"`
}

// StoredMessage is the on-disk form of one message. Timestamps are Unix
// nanoseconds so a load after save reproduces every field exactly.
type StoredMessage struct {
	ID                string `json:"id"`
	Content           string `json:"content,omitempty"`
	Kind              string `json:"kind"`
	Timestamp         int64  `json:"timestamp"`
	ThreadID          string `json:"thread_id,omitempty"`
	ChainID           string `json:"chain_id,omitempty"`
	EditLineageID     string `json:"edit_lineage_id,omitempty"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
	VersionNumber     int    `json:"version_number"`
	HasVersionHistory bool   `json:"has_version_history,omitempty"`
	ContainsImage     bool   `json:"contains_image,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	ImageData         string `json:"image_data,omitempty"`
}

// =============================================================================
// MODEL -> RECORD CONVERSION
// =============================================================================

// snapshotThreads converts the live thread map into stored records. Called
// on the engine's goroutine so the worker never reads mutable model state.
func snapshotThreads(threads map[string]*model.Thread) []StoredThread {
	out := make([]StoredThread, 0, len(threads))
	for _, t := range threads {
		out = append(out, snapshotThread(t))
	}
	return out
}

func snapshotThread(t *model.Thread) StoredThread {
	st := StoredThread{
		ID:                  t.ID(),
		Versions:            make([]StoredVersion, 0, t.VersionCount()),
		CurrentVersionIndex: t.CurrentVersionIndex(),
		Chains:              make(map[string]StoredChain),
	}
	if id, ok := t.ActiveChainID(); ok {
		st.ActiveChainID = id
	}

	for _, v := range t.Versions() {
		sv := StoredVersion{
			UserMessage: storedMessage(v.UserMessage),
			Timestamp:   v.CreatedAt.UnixNano(),
		}
		if v.BotResponse != nil {
			resp := storedMessage(*v.BotResponse)
			sv.BotResponse = &resp
		}
		st.Versions = append(st.Versions, sv)
	}

	for _, c := range t.Chains() {
		sc := StoredChain{
			ChainID:          c.ID(),
			FromVersionIndex: c.FromVersionIndex(),
			Messages:         make([]StoredMessage, 0, c.Len()),
			Timestamp:        c.CreatedAt().UnixNano(),
		}
		for _, m := range c.Messages() {
			sc.Messages = append(sc.Messages, storedMessage(m))
		}
		st.Chains[c.ID()] = sc
	}

	return st
}

func storedMessage(m model.Message) StoredMessage {
	return StoredMessage{
		ID:                m.ID,
		Content:           m.Content,
		Kind:              m.Kind.String(),
		Timestamp:         m.CreatedAt.UnixNano(),
		ThreadID:          m.ThreadID,
		ChainID:           m.ChainID,
		EditLineageID:     m.EditLineageID,
		OriginalMessageID: m.OriginalMessageID,
		VersionNumber:     m.VersionNumber,
		HasVersionHistory: m.HasVersionHistory,
		ContainsImage:     m.ContainsImage,
		ImageURL:          m.ImageURL,
		ImageData:         m.ImageData,
	}
}

// =============================================================================
// RECORD -> MODEL CONVERSION
// =============================================================================

// restoreThreads rebuilds the live thread map from stored records.
func restoreThreads(records []StoredThread) map[string]*model.Thread {
	threads := make(map[string]*model.Thread, len(records))
	for _, st := range records {
		threads[st.ID] = restoreThread(st)
	}
	return threads
}

func restoreThread(st StoredThread) *model.Thread {
	versions := make([]model.Version, 0, len(st.Versions))
	for _, sv := range st.Versions {
		var resp *model.Message
		if sv.BotResponse != nil {
			m := restoredMessage(*sv.BotResponse)
			resp = &m
		}
		versions = append(versions, model.RestoreVersion(
			restoredMessage(sv.UserMessage), resp, time.Unix(0, sv.Timestamp)))
	}

	chains := make([]*model.Chain, 0, len(st.Chains))
	for _, sc := range st.Chains {
		msgs := make([]model.Message, 0, len(sc.Messages))
		for _, sm := range sc.Messages {
			msgs = append(msgs, restoredMessage(sm))
		}
		chains = append(chains, model.RestoreChain(
			sc.ChainID, sc.FromVersionIndex, time.Unix(0, sc.Timestamp), msgs))
	}

	return model.RestoreThread(st.ID, versions, st.CurrentVersionIndex, chains, st.ActiveChainID)
}

func restoredMessage(sm StoredMessage) model.Message {
	return model.Message{
		ID:                sm.ID,
		Content:           sm.Content,
		Kind:              model.Kind(sm.Kind),
		CreatedAt:         time.Unix(0, sm.Timestamp),
		ThreadID:          sm.ThreadID,
		ChainID:           sm.ChainID,
		EditLineageID:     sm.EditLineageID,
		OriginalMessageID: sm.OriginalMessageID,
		VersionNumber:     sm.VersionNumber,
		HasVersionHistory: sm.HasVersionHistory,
		ContainsImage:     sm.ContainsImage,
		ImageURL:          sm.ImageURL,
		ImageData:         sm.ImageData,
	}
}
