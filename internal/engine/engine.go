// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine orchestrates conversations: it bridges user intents to
// thread mutations, calls the AI backend, reconciles the displayed message
// list with thread/chain state, and issues fire-and-forget persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/baboonchat/baboonchat-tui/internal/history"
	"github.com/baboonchat/baboonchat-tui/internal/index"
	"github.com/baboonchat/baboonchat-tui/internal/live"
	"github.com/baboonchat/baboonchat-tui/internal/model"
	"github.com/baboonchat/baboonchat-tui/internal/remote"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrThreadBusy indicates a send or edit is already in flight for the
	// thread; overlapping calls would race to append to the same chain.
	ErrThreadBusy = errors.New("thread has an operation in flight")

	// ErrEmptyMessage indicates a blank message body.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMessageNotFound indicates the message is not in the displayed list.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNoActiveThread indicates an operation that needs a conversation
	// before one exists.
	ErrNoActiveThread = errors.New("no active thread")

	// ErrSearchDisabled indicates the search index is not configured.
	ErrSearchDisabled = errors.New("search index disabled")
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Backend is the AI and handover endpoint.
type Backend interface {
	SendMessage(ctx context.Context, userMessage string, history []model.Message) (string, error)
	InitiateHandover(ctx context.Context, history []model.Message) (remote.HandoverSession, error)
}

// Session is a live representative connection.
type Session interface {
	Connect(ctx context.Context, url, token string) error
	Send(content string) error
	Disconnect()
	Connected() bool
}

// Listener observes engine state changes. Callbacks run with the engine
// lock released but on whatever goroutine performed the mutation.
type Listener interface {
	// DisplayedChanged fires whenever the displayed message list is
	// replaced or appended to.
	DisplayedChanged(threadID string, messages []model.Message)

	// SupportContactOffered fires when a reply carries support contact
	// details, so the caller can surface the handover option.
	SupportContactOffered(contact remote.SupportContact)
}

// nopListener is used when no listener is configured.
type nopListener struct{}

func (nopListener) DisplayedChanged(string, []model.Message)    {}
func (nopListener) SupportContactOffered(remote.SupportContact) {}

// =============================================================================
// ENGINE
// =============================================================================

// Options configures optional engine collaborators.
type Options struct {
	// Index enables full-text history search when non-nil.
	Index *index.MessageIndex

	// Listener observes state changes; nil means no observer.
	Listener Listener

	// BackupEveryMessages triggers an automatic store backup each time a
	// thread's total message count hits a multiple of this. Zero disables.
	BackupEveryMessages int

	// NewSession builds live representative sessions; nil uses the real
	// streaming implementation.
	NewSession func(h live.Handler) Session
}

// Engine owns the in-memory thread map. All state is guarded by one mutex;
// AI replies are applied by continuations that re-acquire it, so chain
// mutations for a thread never interleave.
type Engine struct {
	store   *history.Store
	backend Backend
	opts    Options

	mu             sync.Mutex
	threads        map[string]*model.Thread
	activeThreadID string
	displayed      []model.Message
	busy           map[string]bool
	loading        bool

	session      Session
	repConnected bool
	repName      string

	wg sync.WaitGroup
}

// New creates an engine, loads persisted history, and resumes the most
// recently active thread.
func New(store *history.Store, backend Backend, opts Options) *Engine {
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.NewSession == nil {
		opts.NewSession = func(h live.Handler) Session { return live.NewSession(h) }
	}

	e := &Engine{
		store:   store,
		backend: backend,
		opts:    opts,
		busy:    make(map[string]bool),
	}
	e.threads = store.Load()
	e.resumeLatestLocked()
	return e
}

// resumeLatestLocked points the engine at the most recently touched thread.
func (e *Engine) resumeLatestLocked() {
	e.activeThreadID = ""
	e.displayed = nil
	var latest *model.Thread
	for _, th := range e.threads {
		if latest == nil || th.LastActivity().After(latest.LastActivity()) {
			latest = th
		}
	}
	if latest != nil {
		e.activeThreadID = latest.ID()
		e.displayed = latest.ActiveChainMessages()
	}
}

// Displayed returns a copy of the currently displayed message list.
func (e *Engine) Displayed() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Message, len(e.displayed))
	copy(out, e.displayed)
	return out
}

// ActiveThreadID returns the current conversation's thread ID, which is
// empty before the first message of a fresh session.
func (e *Engine) ActiveThreadID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeThreadID
}

// StartNewThread detaches from the current conversation; the next
// SendMessage starts a fresh thread.
func (e *Engine) StartNewThread() {
	e.mu.Lock()
	e.activeThreadID = ""
	e.displayed = nil
	threadID := ""
	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
}

// Wait blocks until every in-flight AI continuation has completed. Used by
// tests and shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage appends the user's message to the active conversation and
// dispatches the reply request. The network call runs on a background
// goroutine; the reply (or an ERROR entry) lands in the chain when it
// arrives. Returns ErrThreadBusy while a previous send or edit for the
// same thread is outstanding.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()

	th := e.activeThreadLocked()
	if th == nil {
		th = model.NewThread("")
		e.threads[th.ID()] = th
		e.activeThreadID = th.ID()
		log.Printf("engine: started thread %s", th.ID())
	}
	threadID := th.ID()

	if e.busy[threadID] {
		e.mu.Unlock()
		return ErrThreadBusy
	}

	user := model.NewUserMessage(content, threadID)
	stored := e.insertUserLocked(th, user)
	e.displayed = append(e.displayed, stored)
	e.persistLocked()

	if e.repConnected {
		// Bridged to a human: forward raw content, skip the AI. The reply
		// arrives through the session's inbound events.
		session := e.session
		snapshot := e.displayedSnapshotLocked()
		e.mu.Unlock()
		e.opts.Listener.DisplayedChanged(threadID, snapshot)
		if err := session.Send(content); err != nil {
			e.appendError(threadID, fmt.Sprintf("Error: %v", err))
		}
		return nil
	}

	e.busy[threadID] = true
	chainContext := th.ActiveChainMessages()
	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		raw, err := e.backend.SendMessage(ctx, content, chainContext)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.busy[threadID] = false

		if err != nil {
			log.Printf("engine: send failed: %v", err)
			e.applyErrorLocked(threadID, fmt.Sprintf("Error: %v", err))
			return
		}
		e.applyReplyLocked(threadID, raw, false)
	}()
	return nil
}

// insertUserLocked places a user message per the thread's shape: the first
// message creates the initial version (which seeds the chain); later
// messages append to the active chain, creating one when absent.
func (e *Engine) insertUserLocked(th *model.Thread, user model.Message) model.Message {
	if th.VersionCount() == 0 {
		th.AddVersion(user, nil)
		msgs := th.ActiveChainMessages()
		return msgs[len(msgs)-1]
	}

	if _, ok := th.ActiveChainID(); !ok {
		th.CreateNewChain()
	}
	stored, ok := th.AddMessageToActiveChain(user)
	if !ok {
		// CreateNewChain on an empty thread registers nothing; fall back
		// to the version path.
		th.AddVersion(user, nil)
		msgs := th.ActiveChainMessages()
		return msgs[len(msgs)-1]
	}
	return stored
}

// =============================================================================
// REPLY APPLICATION
// =============================================================================

// applyReplyLocked parses a raw backend reply and lands it in the thread,
// the displayed list, and the store. fromEdit tags the message with the
// current version index and the history marker.
func (e *Engine) applyReplyLocked(threadID, raw string, fromEdit bool) {
	th := e.threads[threadID]
	if th == nil {
		return
	}

	reply := remote.ParseBotReply(raw)
	bot := model.NewBotMessage(reply.Text, threadID)
	if reply.Kind == remote.ReplyImage {
		bot = bot.WithImage(reply.ImageURL, reply.ImageData)
	}
	if fromEdit {
		bot = bot.WithVersionNumber(th.CurrentVersionIndex()).WithVersionHistory()
	}

	stored := e.appendBotLocked(th, bot)
	if threadID == e.activeThreadID {
		e.displayed = append(e.displayed, stored)
	}
	e.persistLocked()
	e.maybeBackupLocked(th)

	snapshot := e.displayedSnapshotLocked()
	support := reply.Support
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
	if reply.Kind == remote.ReplySupportContact && support != nil {
		e.opts.Listener.SupportContactOffered(*support)
	}
	e.mu.Lock()
}

// applyErrorLocked lands a transport failure as a visible ERROR entry.
// The user's message is never rolled back.
func (e *Engine) applyErrorLocked(threadID, description string) {
	th := e.threads[threadID]
	if th == nil {
		return
	}

	errMsg := model.NewErrorMessage(description, threadID)
	stored := e.appendBotLocked(th, errMsg)
	if threadID == e.activeThreadID {
		e.displayed = append(e.displayed, stored)
	}
	e.persistLocked()

	snapshot := e.displayedSnapshotLocked()
	e.mu.Unlock()
	e.opts.Listener.DisplayedChanged(threadID, snapshot)
	e.mu.Lock()
}

// appendBotLocked appends a reply to the active chain and fills the current
// version's response slot if it is still empty.
func (e *Engine) appendBotLocked(th *model.Thread, bot model.Message) model.Message {
	stored, ok := th.AddMessageToActiveChain(bot)
	if !ok {
		th.UpdateCurrentVersion(nil, &bot, true)
		msgs := th.ActiveChainMessages()
		if len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		return bot
	}

	if current, hasCurrent := th.CurrentVersion(); hasCurrent && current.BotResponse == nil {
		th.UpdateCurrentVersion(nil, &stored, false)
	}
	return stored
}

// maybeBackupLocked snapshots the store every Nth message in the thread.
func (e *Engine) maybeBackupLocked(th *model.Thread) {
	n := e.opts.BackupEveryMessages
	if n > 0 && th.MessageCount()%n == 0 {
		e.store.Backup("auto")
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (e *Engine) activeThreadLocked() *model.Thread {
	if e.activeThreadID == "" {
		return nil
	}
	return e.threads[e.activeThreadID]
}

func (e *Engine) displayedSnapshotLocked() []model.Message {
	out := make([]model.Message, len(e.displayed))
	copy(out, e.displayed)
	return out
}

// persistLocked issues a fire-and-forget save. Suppressed while a reload
// is replacing in-memory state.
func (e *Engine) persistLocked() {
	if e.loading {
		return
	}
	e.store.Save(e.threads)
}

// appendError is applyErrorLocked for callers not holding the lock.
func (e *Engine) appendError(threadID, description string) {
	e.mu.Lock()
	e.applyErrorLocked(threadID, description)
	e.mu.Unlock()
}
