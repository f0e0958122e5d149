// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baboonchat/baboonchat-tui/internal/history"
	"github.com/baboonchat/baboonchat-tui/internal/live"
	"github.com/baboonchat/baboonchat-tui/internal/model"
	"github.com/baboonchat/baboonchat-tui/internal/remote"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeBackend struct {
	mu          sync.Mutex
	reply       func(content string, chain []model.Message) (string, error)
	handover    remote.HandoverSession
	handoverErr error
	sendCalls   int
}

func (f *fakeBackend) SendMessage(_ context.Context, content string, chain []model.Message) (string, error) {
	f.mu.Lock()
	f.sendCalls++
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "ok", nil
	}
	return reply(content, chain)
}

func (f *fakeBackend) InitiateHandover(context.Context, []model.Message) (remote.HandoverSession, error) {
	return f.handover, f.handoverErr
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

type fakeSession struct {
	mu        sync.Mutex
	handler   live.Handler
	sent      []string
	connected bool
}

func (s *fakeSession) Connect(context.Context, string, string) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.handler.OnConnected()
	return nil
}

func (s *fakeSession) Send(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, content)
	return nil
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected {
		s.handler.OnDisconnected()
	}
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *fakeSession) {
	t.Helper()
	store, err := history.NewStore(t.TempDir())
	require.NoError(t, err)

	session := &fakeSession{}
	e := New(store, backend, Options{
		NewSession: func(h live.Handler) Session {
			session.handler = h
			return session
		},
	})
	t.Cleanup(func() {
		e.Wait()
		store.Close()
	})
	return e, session
}

// =============================================================================
// SEND
// =============================================================================

func TestFirstMessageCreatesThreadVersionAndChain(t *testing.T) {
	backend := &fakeBackend{reply: func(string, []model.Message) (string, error) {
		return `{"response":{"type":"text","text":"hello"}}`, nil
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()

	require.Len(t, e.threads, 1)
	th := e.threads[e.ActiveThreadID()]
	require.NotNil(t, th)
	assert.Equal(t, 1, th.VersionCount())
	assert.Equal(t, 1, th.ChainCount())

	version, ok := th.CurrentVersion()
	require.True(t, ok)
	assert.Equal(t, "hi", version.UserMessage.Content)
	require.NotNil(t, version.BotResponse)
	assert.Equal(t, "hello", version.BotResponse.Content)

	chain := th.ActiveChainMessages()
	require.Len(t, chain, 2)
	assert.Equal(t, model.KindUser, chain[0].Kind)
	assert.Equal(t, model.KindBot, chain[1].Kind)

	displayed := e.Displayed()
	require.Len(t, displayed, 2)
	chainID, _ := th.ActiveChainID()
	for _, m := range displayed {
		assert.Equal(t, chainID, m.ChainID)
	}
}

func TestFollowUpMessagesAppendToChain(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "first"))
	e.Wait()
	require.NoError(t, e.SendMessage(context.Background(), "second"))
	e.Wait()

	th := e.threads[e.ActiveThreadID()]
	assert.Equal(t, 1, th.VersionCount(), "follow-ups must not create versions")
	assert.Len(t, th.ActiveChainMessages(), 4)
	assert.Len(t, e.Displayed(), 4)
}

func TestSendFailureBecomesErrorEntry(t *testing.T) {
	backend := &fakeBackend{reply: func(string, []model.Message) (string, error) {
		return "", errors.New("backend down")
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()

	displayed := e.Displayed()
	require.Len(t, displayed, 2)
	assert.Equal(t, model.KindUser, displayed[0].Kind, "user message is never rolled back")
	assert.Equal(t, model.KindError, displayed[1].Kind)
	assert.Contains(t, displayed[1].Content, "backend down")
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	assert.ErrorIs(t, e.SendMessage(context.Background(), "   "), ErrEmptyMessage)
}

func TestBusyThreadRejectsOverlappingSend(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{reply: func(string, []model.Message) (string, error) {
		<-gate
		return "late", nil
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "first"))
	err := e.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrThreadBusy)
	assert.Len(t, e.Displayed(), 1, "rejected send must not insert anything")

	close(gate)
	e.Wait()
	require.NoError(t, e.SendMessage(context.Background(), "third"))
	e.Wait()
}

func TestSupportContactReplySurfacesOffer(t *testing.T) {
	backend := &fakeBackend{reply: func(string, []model.Message) (string, error) {
		return `{"response":{"type":"support_contact","text":"call us",` +
			`"support_info":{"phone":"+1 555 0100","email":"help@example.com"},` +
			`"show_representative_button":true}}`, nil
	}}

	var mu sync.Mutex
	var offered *remote.SupportContact
	store, err := history.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e := New(store, backend, Options{Listener: listenerFunc{
		onSupport: func(c remote.SupportContact) {
			mu.Lock()
			offered = &c
			mu.Unlock()
		},
	}})

	require.NoError(t, e.SendMessage(context.Background(), "I need help"))
	e.Wait()

	displayed := e.Displayed()
	require.Len(t, displayed, 2)
	assert.Equal(t, model.KindBot, displayed[1].Kind)
	assert.Equal(t, "call us", displayed[1].Content)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, offered)
	assert.Equal(t, "help@example.com", offered.Email)
	assert.True(t, offered.RepresentativeAvailable)
}

type listenerFunc struct {
	onDisplayed func(string, []model.Message)
	onSupport   func(remote.SupportContact)
}

func (l listenerFunc) DisplayedChanged(threadID string, messages []model.Message) {
	if l.onDisplayed != nil {
		l.onDisplayed(threadID, messages)
	}
}

func (l listenerFunc) SupportContactOffered(c remote.SupportContact) {
	if l.onSupport != nil {
		l.onSupport(c)
	}
}

// =============================================================================
// EDIT
// =============================================================================

func TestEditBranchesConversation(t *testing.T) {
	backend := &fakeBackend{reply: func(content string, _ []model.Message) (string, error) {
		return "reply to " + content, nil
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()
	userID := e.Displayed()[0].ID

	require.NoError(t, e.EditMessage(context.Background(), userID, "hi there"))
	e.Wait()

	th := e.threads[e.ActiveThreadID()]
	assert.Equal(t, 2, th.VersionCount())
	assert.Equal(t, 1, th.CurrentVersionIndex())

	// The new branch starts with the edited content.
	chain := th.ActiveChainMessages()
	require.NotEmpty(t, chain)
	assert.Equal(t, "hi there", chain[0].Content)
	assert.True(t, chain[0].HasVersionHistory)
	assert.Equal(t, 1, chain[0].VersionNumber)

	// The new chain branches from version 1; the original chain still
	// hangs off version 0, untouched.
	newChains := th.ChainsForVersion(1)
	require.Len(t, newChains, 1)
	originalChains := th.ChainsForVersion(0)
	require.Len(t, originalChains, 1)
	originalMsgs := originalChains[0].Messages()
	require.Len(t, originalMsgs, 2)
	assert.Equal(t, "hi", originalMsgs[0].Content)

	// The fresh reply is tagged with the new version.
	require.Len(t, chain, 2)
	assert.Equal(t, "reply to hi there", chain[1].Content)
	assert.Equal(t, 1, chain[1].VersionNumber)
	assert.True(t, chain[1].HasVersionHistory)

	// Both versions now advertise history.
	for _, v := range th.Versions() {
		assert.True(t, v.UserMessage.HasVersionHistory)
	}
}

func TestEditPreservesEarlierTurns(t *testing.T) {
	backend := &fakeBackend{reply: func(content string, _ []model.Message) (string, error) {
		return "re: " + content, nil
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "about capybaras"))
	e.Wait()
	require.NoError(t, e.SendMessage(context.Background(), "about wombats"))
	e.Wait()

	// Edit the second turn; the first turn must carry over.
	secondUserID := e.Displayed()[2].ID
	require.NoError(t, e.EditMessage(context.Background(), secondUserID, "about koalas"))
	e.Wait()

	displayed := e.Displayed()
	require.Len(t, displayed, 4)
	assert.Equal(t, "about capybaras", displayed[0].Content)
	assert.Equal(t, "re: about capybaras", displayed[1].Content)
	assert.Equal(t, "about koalas", displayed[2].Content)
	assert.Equal(t, "re: about koalas", displayed[3].Content)
}

func TestEditLineagePropagation(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "original"))
	e.Wait()
	originalID := e.Displayed()[0].ID

	require.NoError(t, e.EditMessage(context.Background(), originalID, "first edit"))
	e.Wait()

	th := e.threads[e.ActiveThreadID()]
	firstEdit := th.ActiveChainMessages()[0]
	assert.Equal(t, originalID, firstEdit.EditLineageID,
		"first edit adopts the original message's ID as lineage")
	assert.Equal(t, originalID, firstEdit.OriginalMessageID)

	// Editing the edit keeps the same lineage.
	require.NoError(t, e.EditMessage(context.Background(), firstEdit.ID, "second edit"))
	e.Wait()

	secondEdit := e.threads[e.ActiveThreadID()].ActiveChainMessages()[0]
	assert.Equal(t, originalID, secondEdit.EditLineageID)
	assert.Equal(t, firstEdit.ID, secondEdit.OriginalMessageID)
}

func TestEditUnknownMessage(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	err := e.EditMessage(context.Background(), "no-such-id", "content")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// =============================================================================
// NAVIGATION
// =============================================================================

func TestNavigationAcrossVersions(t *testing.T) {
	backend := &fakeBackend{reply: func(content string, _ []model.Message) (string, error) {
		return "re: " + content, nil
	}}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()
	userID := e.Displayed()[0].ID
	require.NoError(t, e.EditMessage(context.Background(), userID, "hi there"))
	e.Wait()

	threadID := e.ActiveThreadID()
	th := e.threads[threadID]
	require.Equal(t, 1, th.CurrentVersionIndex())

	// Back to version 0: displayed equals the original chain exactly.
	require.True(t, e.NavigateToPreviousVersion(threadID))
	assert.Equal(t, 0, th.CurrentVersionIndex())
	displayed := e.Displayed()
	require.Len(t, displayed, 2)
	assert.Equal(t, "hi", displayed[0].Content)
	assert.Equal(t, "re: hi", displayed[1].Content)

	// Bounded below.
	assert.False(t, e.NavigateToPreviousVersion(threadID))
	assert.Equal(t, 0, th.CurrentVersionIndex())

	// Forward again.
	require.True(t, e.NavigateToNextVersion(threadID))
	assert.Equal(t, 1, th.CurrentVersionIndex())
	assert.Equal(t, "hi there", e.Displayed()[0].Content)

	// Bounded above, and out-of-range jumps refused.
	assert.False(t, e.NavigateToNextVersion(threadID))
	assert.False(t, e.NavigateToSpecificVersion(threadID, 7))
	assert.True(t, e.NavigateToSpecificVersion(threadID, 0))

	// Unknown thread.
	assert.False(t, e.NavigateToPreviousVersion("nope"))
}

func TestSwitchToChain(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()
	threadID := e.ActiveThreadID()
	th := e.threads[threadID]
	originalChainID, _ := th.ActiveChainID()

	userID := e.Displayed()[0].ID
	require.NoError(t, e.EditMessage(context.Background(), userID, "hi!"))
	e.Wait()

	require.True(t, e.SwitchToChain(threadID, originalChainID))
	activeID, _ := th.ActiveChainID()
	assert.Equal(t, originalChainID, activeID)
	assert.Equal(t, "hi", e.Displayed()[0].Content)

	assert.False(t, e.SwitchToChain(threadID, "unknown-chain"))
	assert.False(t, e.SwitchToChain("unknown-thread", originalChainID))
}

// =============================================================================
// HANDOVER
// =============================================================================

func TestHandoverBridgesMessages(t *testing.T) {
	backend := &fakeBackend{
		handover: remote.HandoverSession{
			SessionToken: "tok",
			SocketURL:    "https://live.example.com/s",
			Status:       "queued",
		},
	}
	e, session := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "I want a human"))
	e.Wait()
	aiCalls := backend.calls()

	require.NoError(t, e.ConnectToRepresentative(context.Background()))
	require.True(t, e.ConnectedToRepresentative())

	// Routed to the representative, not the AI.
	require.NoError(t, e.SendMessage(context.Background(), "hello human"))
	e.Wait()
	assert.Equal(t, aiCalls, backend.calls())
	session.mu.Lock()
	require.Len(t, session.sent, 1)
	assert.Equal(t, "hello human", session.sent[0])
	session.mu.Unlock()

	// Inbound events land in the chain.
	session.handler.OnQueued(2)
	session.handler.OnChatAssigned("Dana")
	assert.Equal(t, "Dana", e.RepresentativeName())
	session.handler.OnRepresentativeMessage("hi, Dana here")

	displayed := e.Displayed()
	last := displayed[len(displayed)-1]
	assert.Equal(t, model.KindBot, last.Kind)
	assert.Equal(t, "hi, Dana here", last.Content)

	session.handler.OnChatEnded()
	assert.False(t, e.ConnectedToRepresentative())
}

func TestHandoverFailureBecomesErrorEntry(t *testing.T) {
	backend := &fakeBackend{handoverErr: errors.New("no agents")}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "help"))
	e.Wait()

	err := e.ConnectToRepresentative(context.Background())
	require.Error(t, err)
	assert.False(t, e.ConnectedToRepresentative())

	displayed := e.Displayed()
	last := displayed[len(displayed)-1]
	assert.Equal(t, model.KindError, last.Kind)
	assert.Contains(t, last.Content, "no agents")
}

func TestHandoverRequiresActiveThread(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	assert.ErrorIs(t, e.ConnectToRepresentative(context.Background()), ErrNoActiveThread)
}

// =============================================================================
// PERSISTENCE AND LIFECYCLE
// =============================================================================

func TestStateSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store, err := history.NewStore(dir)
	require.NoError(t, err)

	backend := &fakeBackend{reply: func(string, []model.Message) (string, error) {
		return "hello", nil
	}}
	e := New(store, backend, Options{})
	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()
	threadID := e.ActiveThreadID()
	store.Flush()
	store.Close()

	// A fresh engine over the same directory resumes the thread.
	store2, err := history.NewStore(dir)
	require.NoError(t, err)
	defer store2.Close()
	e2 := New(store2, backend, Options{})

	assert.Equal(t, threadID, e2.ActiveThreadID())
	displayed := e2.Displayed()
	require.Len(t, displayed, 2)
	assert.Equal(t, "hi", displayed[0].Content)
	assert.Equal(t, "hello", displayed[1].Content)
}

func TestClearHistoryResetsState(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()

	e.ClearHistory()
	assert.Empty(t, e.Displayed())
	assert.Empty(t, e.ActiveThreadID())
	assert.Empty(t, e.threads)

	// A new conversation starts cleanly afterwards.
	require.NoError(t, e.SendMessage(context.Background(), "fresh start"))
	e.Wait()
	assert.Len(t, e.Displayed(), 2)
}

func TestStartNewThread(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()
	firstThread := e.ActiveThreadID()

	e.StartNewThread()
	assert.Empty(t, e.ActiveThreadID())
	assert.Empty(t, e.Displayed())

	require.NoError(t, e.SendMessage(context.Background(), "hello again"))
	e.Wait()
	assert.NotEqual(t, firstThread, e.ActiveThreadID())
	assert.Len(t, e.threads, 2)
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()

	s := e.Stats()
	assert.Equal(t, 1, s.Threads)
	assert.Equal(t, 1, s.Versions)
	assert.Equal(t, 1, s.Chains)
	assert.Equal(t, 2, s.Messages)
}

func TestAutomaticBackupEveryNthMessage(t *testing.T) {
	store, err := history.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	backend := &fakeBackend{}
	e := New(store, backend, Options{BackupEveryMessages: 4})

	// Two turns = 4 chain messages = one automatic backup.
	require.NoError(t, e.SendMessage(context.Background(), "one"))
	e.Wait()
	require.NoError(t, e.SendMessage(context.Background(), "two"))
	e.Wait()
	store.Flush()

	backups, err := store.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name, "auto")
}

func TestDisplayedReturnsCopy(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{})
	require.NoError(t, e.SendMessage(context.Background(), "hi"))
	e.Wait()

	snapshot := e.Displayed()
	snapshot[0].Content = "tampered"
	assert.Equal(t, "hi", e.Displayed()[0].Content)
}

func TestVersionNumbersAreMonotonic(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(t, backend)

	require.NoError(t, e.SendMessage(context.Background(), "v0"))
	e.Wait()
	th := e.threads[e.ActiveThreadID()]

	for i := 1; i <= 3; i++ {
		target := e.Displayed()[0].ID
		require.NoError(t, e.EditMessage(context.Background(), target, fmt.Sprintf("v%d", i)))
		e.Wait()
		assert.Equal(t, i, th.CurrentVersionIndex())
		assert.Equal(t, i+1, th.VersionCount())
	}
}
