// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects events for assertions.
type recordingHandler struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	errs         []error
	queuedAt     []int
	messages     []string
	assignedTo   string
	ended        bool
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = true
}

func (h *recordingHandler) OnDisconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = true
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnQueued(position int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queuedAt = append(h.queuedAt, position)
}

func (h *recordingHandler) OnRepresentativeMessage(content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, content)
}

func (h *recordingHandler) OnChatAssigned(repName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assignedTo = repName
}

func (h *recordingHandler) OnChatEnded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = true
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSessionEventDispatch(t *testing.T) {
	events := []string{
		`{"type":"connected"}`,
		`{"type":"queued","position":3}`,
		`{"type":"chat_assigned","rep_name":"Dana"}`,
		`{"type":"representative_message","content":"hello, how can I help?"}`,
		`not json at all`,
		`{"type":"chat_ended"}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		flusher := w.(http.Flusher)
		for _, ev := range events {
			w.Write([]byte(ev + "\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	handler := &recordingHandler{}
	session := NewSession(handler)
	if err := session.Connect(context.Background(), server.URL, "tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.disconnected
	})

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if !handler.connected {
		t.Error("OnConnected did not fire")
	}
	if len(handler.queuedAt) != 1 || handler.queuedAt[0] != 3 {
		t.Errorf("queuedAt = %v, want [3]", handler.queuedAt)
	}
	if handler.assignedTo != "Dana" {
		t.Errorf("assignedTo = %q", handler.assignedTo)
	}
	if len(handler.messages) != 1 || handler.messages[0] != "hello, how can I help?" {
		t.Errorf("messages = %v", handler.messages)
	}
	if !handler.ended {
		t.Error("OnChatEnded did not fire")
	}
	if len(handler.errs) != 0 {
		t.Errorf("unexpected errors: %v (bad lines are skipped, not errors)", handler.errs)
	}
}

func TestSessionAssignedNameDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			return
		}
		w.Write([]byte(`{"type":"chat_assigned"}` + "\n"))
	}))
	defer server.Close()

	handler := &recordingHandler{}
	session := NewSession(handler)
	if err := session.Connect(context.Background(), server.URL, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.assignedTo != ""
	})

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.assignedTo != "Support Representative" {
		t.Errorf("assignedTo = %q", handler.assignedTo)
	}
}

func TestSessionSend(t *testing.T) {
	frames := make(chan map[string]any, 8)
	stream := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.(http.Flusher).Flush()
			<-stream // hold the stream open
			return
		}
		var frame map[string]any
		json.NewDecoder(r.Body).Decode(&frame)
		frames <- frame
	}))
	defer server.Close()
	defer close(stream)

	session := NewSession(&recordingHandler{})
	if err := session.Connect(context.Background(), server.URL, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Disconnect()

	// The identify frame arrives first.
	identifyFrame := <-frames
	if identifyFrame["type"] != "mobile_client" {
		t.Errorf("first frame type = %v, want mobile_client", identifyFrame["type"])
	}

	if err := session.Send("is my order on the way?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame := <-frames
	if frame["type"] != "message" || frame["content"] != "is my order on the way?" {
		t.Errorf("frame = %v", frame)
	}
}

func TestSendWithoutConnect(t *testing.T) {
	session := NewSession(&recordingHandler{})
	if err := session.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestDoubleConnect(t *testing.T) {
	stream := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.(http.Flusher).Flush()
			<-stream
		}
	}))
	defer server.Close()
	defer close(stream)

	session := NewSession(&recordingHandler{})
	if err := session.Connect(context.Background(), server.URL, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Disconnect()

	if err := session.Connect(context.Background(), server.URL, "tok"); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func TestDisconnectFiresHandler(t *testing.T) {
	stream := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.(http.Flusher).Flush()
			<-stream
		}
	}))
	defer server.Close()
	defer close(stream)

	handler := &recordingHandler{}
	session := NewSession(handler)
	if err := session.Connect(context.Background(), server.URL, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	session.Disconnect()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if !handler.disconnected {
		t.Error("OnDisconnected did not fire")
	}
	if session.Connected() {
		t.Error("session still reports connected")
	}
}
