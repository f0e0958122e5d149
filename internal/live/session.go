// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package live maintains a session with a human support representative.
// Inbound traffic is a long-lived HTTP response carrying newline-delimited
// JSON events; outbound messages are posted to the same session URL.
package live

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// maxEventSize caps a single event line.
	maxEventSize = 64 * 1024

	// sendTimeout bounds an outbound message post.
	sendTimeout = 10 * time.Second
)

var (
	// ErrNotConnected indicates there is no active session.
	ErrNotConnected = errors.New("live session not connected")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("live session already connected")
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler receives session lifecycle and message events. Calls arrive on
// the session's reader goroutine, one at a time.
type Handler interface {
	OnConnected()
	OnDisconnected()
	OnError(err error)
	OnQueued(position int)
	OnRepresentativeMessage(content string)
	OnChatAssigned(repName string)
	OnChatEnded()
}

// event is the wire shape of one inbound line.
type event struct {
	Type     string `json:"type"`
	Position int    `json:"position,omitempty"`
	Content  string `json:"content,omitempty"`
	RepName  string `json:"rep_name,omitempty"`
}

// identify is the first frame the client posts after connecting.
type identify struct {
	Type         string   `json:"type"`
	SessionToken string   `json:"session_token"`
	UserInfo     userInfo `json:"user_info"`
}

type userInfo struct {
	Name   string `json:"name"`
	Device string `json:"device"`
}

// outbound is a user message posted to the session.
type outbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one live representative conversation. Create with NewSession,
// then Connect with the URL and token granted by the handover endpoint.
type Session struct {
	handler    Handler
	httpClient *http.Client

	mu        sync.Mutex
	url       string
	token     string
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// NewSession creates a session that reports to the given handler.
func NewSession(handler Handler) *Session {
	return &Session{
		handler:    handler,
		httpClient: &http.Client{}, // stream lifetime is context-controlled
	}
}

// Connect opens the event stream and starts dispatching to the handler.
// It returns once the stream is established; events arrive on a background
// goroutine until the stream ends or Disconnect is called.
func (s *Session) Connect(ctx context.Context, url, sessionToken string) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("event stream rejected: HTTP %d", resp.StatusCode)
	}

	s.url = url
	s.token = sessionToken
	s.cancel = cancel
	s.connected = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.sendIdentify(streamCtx); err != nil {
		log.Printf("live: identify failed: %v", err)
	}
	s.handler.OnConnected()

	go s.readLoop(streamCtx, resp.Body)
	return nil
}

// sendIdentify announces this client on the freshly opened session.
func (s *Session) sendIdentify(ctx context.Context) error {
	return s.post(ctx, identify{
		Type:         "mobile_client",
		SessionToken: s.token,
		UserInfo:     userInfo{Name: "Terminal User", Device: "baboonchat-tui"},
	})
}

// Send delivers a user message to the representative.
func (s *Session) Send(content string) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return s.post(ctx, outbound{Type: "message", Content: content})
}

// Disconnect tears down the stream. The handler's OnDisconnected fires
// from the reader goroutine as it winds down.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Connected reports whether the session has an active stream.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// =============================================================================
// STREAM READER
// =============================================================================

func (s *Session) readLoop(ctx context.Context, body io.ReadCloser) {
	defer func() {
		body.Close()
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.handler.OnDisconnected()
		close(s.done) // Disconnect returns only after full teardown
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(line)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("live: stream error: %v", err)
		s.handler.OnError(err)
	}
}

// dispatch routes one event line to the handler. Malformed lines are
// logged and skipped; a broken event must not kill the session.
func (s *Session) dispatch(line string) {
	var ev event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		log.Printf("live: bad event: %v", err)
		return
	}

	switch ev.Type {
	case "connected":
		// Stream-level acknowledgment; OnConnected already fired.
	case "queued":
		s.handler.OnQueued(ev.Position)
	case "representative_message":
		s.handler.OnRepresentativeMessage(ev.Content)
	case "chat_assigned":
		name := ev.RepName
		if name == "" {
			name = "Support Representative"
		}
		s.handler.OnChatAssigned(name)
	case "chat_ended":
		s.handler.OnChatEnded()
	default:
		log.Printf("live: unknown event type %q", ev.Type)
	}
}

// post sends a JSON frame to the session URL.
func (s *Session) post(ctx context.Context, payload any) error {
	s.mu.Lock()
	url, token := s.url, s.token
	s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build frame request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("frame rejected: HTTP %d", resp.StatusCode)
	}
	return nil
}
