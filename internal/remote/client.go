// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultTimeout bounds a single backend request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is how many attempts a transient failure gets.
	DefaultMaxRetries = 3

	// maxResponseSize caps how much of a reply body we will read.
	maxResponseSize = 10 * 1024 * 1024 // 10MB

	// defaultRatePerSecond throttles outbound requests.
	defaultRatePerSecond = 2
)

var (
	// ErrNotConfigured indicates the backend base URL is not set.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrRetriesExhausted indicates the request kept failing transiently.
	ErrRetriesExhausted = errors.New("max retries exceeded")
)

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Response *struct {
		Text string `json:"text"`
	} `json:"response"`
	SessionID string `json:"session_id"`
}

// ChatTurn is one history entry in a handover request.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type handoverRequest struct {
	ChatHistory []ChatTurn `json:"chatHistory"`
}

// HandoverSession is the backend's grant for a live representative session.
type HandoverSession struct {
	SessionToken string `json:"sessionToken"`
	SocketURL    string `json:"socketUrl"`
	Status       string `json:"status"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the AI backend over HTTP. Transient failures are retried
// with exponential backoff and all requests pass through a rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a backend client for the given base URL. An empty URL
// is allowed; requests then fail with ErrNotConfigured.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRatePerSecond),
		userAgent:  "baboonchat/1.0",
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets how many attempts a request gets.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit sets the outbound requests-per-second budget.
func (c *Client) WithRateLimit(perSecond float64) *Client {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// IsConfigured reports whether a base URL is set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SendMessage builds a prompt from the user message and chain history,
// posts it to the backend, and returns the raw reply text. The caller runs
// the reply through ParseBotReply; the wire envelope only carries it.
func (c *Client) SendMessage(ctx context.Context, userMessage string, history []model.Message) (string, error) {
	prompt := BuildPrompt(userMessage, history)

	body, err := c.post(ctx, "/send-message", messageRequest{Message: prompt})
	if err != nil {
		return "", err
	}

	var reply messageResponse
	if err := json.Unmarshal(body, &reply); err != nil || reply.Response == nil {
		// Older backends answer with the bare reply text.
		return string(body), nil
	}
	return reply.Response.Text, nil
}

// InitiateHandover asks the backend for a live representative session,
// shipping the conversation so the representative has context.
func (c *Client) InitiateHandover(ctx context.Context, history []model.Message) (HandoverSession, error) {
	turns := make([]ChatTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, ChatTurn{Role: roleFor(m.Kind), Content: m.Content})
	}

	body, err := c.post(ctx, "/api/initiate_handover", handoverRequest{ChatHistory: turns})
	if err != nil {
		return HandoverSession{}, err
	}

	var session HandoverSession
	if err := json.Unmarshal(body, &session); err != nil {
		return HandoverSession{}, fmt.Errorf("parse handover response: %w", err)
	}
	return session, nil
}

func roleFor(kind model.Kind) string {
	switch kind {
	case model.KindUser:
		return "user"
	case model.KindBot:
		return "assistant"
	default:
		return "system"
	}
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// post sends a JSON body and returns the reply bytes, retrying transient
// failures with exponential backoff (1s, 2s, 4s).
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		log.Printf("remote: POST %s", path)
		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("remote: POST %s failed: %v", path, err)
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		log.Printf("remote: POST %s -> %d (%v)", path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("read response: %w", readErr)
			}
			return body, nil

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
			continue

		default:
			return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
