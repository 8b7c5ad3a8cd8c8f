// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package peer implements the client side of the Circuitry studio protocol:
// a dual-transport remote-call channel over HTTP and a persistent WebSocket,
// with request correlation, call timeouts, and automatic reconnection.
//
// The studio owns all workflow and diagram state; this package treats every
// call result as an opaque payload.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultCallTimeout bounds a persistent-channel call waiting for its
	// matching response frame.
	defaultCallTimeout = 30 * time.Second

	// defaultBackoffBase is the first reconnection delay; it doubles per
	// attempt.
	defaultBackoffBase = time.Second

	// defaultMaxReconnects caps consecutive reconnection attempts. Once
	// exhausted, reconnection stops until ConnectPersistent is invoked
	// explicitly.
	defaultMaxReconnects = 5

	// realtimePath is appended to the endpoint (with the scheme swapped to
	// ws/wss) to reach the persistent channel.
	realtimePath = "/realtime"
)

// Endpoint locates the studio server. Immutable per channel instance.
type Endpoint struct {
	// BaseURL is the studio's HTTP base URL without a trailing slash.
	BaseURL string

	// AccessKey is the opaque bearer credential. It is attached as a
	// header on every request and never embedded in a payload body.
	AccessKey string
}

// PromptObserver is invoked for every inbound prompt frame. Observers are
// called in registration order from the channel's read loop.
type PromptObserver func(Prompt)

// Channel performs named remote calls against the studio, selecting between
// the persistent WebSocket (when connected) and one-shot HTTP requests.
// It is the sole owner of the socket handle and the pending-call map.
type Channel struct {
	endpoint Endpoint
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger

	callTimeout   time.Duration
	backoffBase   time.Duration
	maxReconnects int

	mu             sync.Mutex
	state          ConnectionState
	conn           *websocket.Conn
	pending        map[string]*pendingCall
	observers      []PromptObserver
	reconnectArmed bool
	attempts       int
	reconnectTimer *time.Timer

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// Option customizes a Channel.
type Option func(*Channel)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.http = client }
}

// WithCallTimeout overrides the persistent-channel call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Channel) { c.callTimeout = d }
}

// WithBackoff overrides the reconnection backoff base and attempt cap.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		c.backoffBase = base
		c.maxReconnects = maxAttempts
	}
}

// NewChannel creates a channel for the given endpoint. The base URL is
// normalized to drop any trailing slash.
func NewChannel(endpoint Endpoint, logger *slog.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint.BaseURL = strings.TrimRight(endpoint.BaseURL, "/")

	c := &Channel{
		endpoint: endpoint,
		// Both transports share one call deadline: a slow call behaves the
		// same whether it went over the socket or over HTTP.
		http:          &http.Client{Timeout: defaultCallTimeout},
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:        logger,
		callTimeout:   defaultCallTimeout,
		backoffBase:   defaultBackoffBase,
		maxReconnects: defaultMaxReconnects,
		pending:       make(map[string]*pendingCall),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoint returns the resolved endpoint this channel talks to.
func (c *Channel) Endpoint() Endpoint {
	return c.endpoint
}

// State returns the persistent channel's current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Probe issues a lightweight liveness check against the studio.
// It never returns an error: any failure reports false.
func (c *Channel) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/ping", nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// PeerStatus reports the studio's version and connectivity details.
type PeerStatus struct {
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime"`
	Connected     bool    `json:"connected"`
}

// Status fetches the studio's version and uptime.
func (c *Channel) Status(ctx context.Context) (*PeerStatus, error) {
	var status PeerStatus
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ConnectOutcome is the studio's answer to a connection-permission request.
type ConnectOutcome struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message"`
}

// RequestConnection asks the studio user to approve this bridge session.
// The studio may prompt its user and can approve or deny.
func (c *Channel) RequestConnection(ctx context.Context, source string) (*ConnectOutcome, error) {
	body := map[string]any{
		"source":    source,
		"timestamp": time.Now().UnixMilli(),
	}
	var outcome ConnectOutcome
	if err := c.doJSON(ctx, http.MethodPost, "/mcp/connect", body, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// PermissionStatus reports whether the studio has approved a bridge
// connection, which may persist across bridge restarts.
func (c *Channel) PermissionStatus(ctx context.Context) (bool, error) {
	var result struct {
		Approved bool `json:"approved"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/mcp/status", nil, &result); err != nil {
		return false, err
	}
	return result.Approved, nil
}

// apiEnvelope wraps every generic-relay response.
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Call performs a named remote call. The transport is selected once per
// call: the persistent channel when connected, a one-shot HTTP request
// otherwise. Both paths share the same result/error contract.
func (c *Channel) Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	if c.State() == StateConnected {
		return c.callSocket(ctx, method, args)
	}
	return c.callHTTP(ctx, method, args)
}

// callHTTP performs a one-shot generic-relay call.
func (c *Channel) callHTTP(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	body := map[string]any{"method": method}
	if args != nil {
		body["args"] = args
	}

	var envelope apiEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/circuitry/api", body, &envelope); err != nil {
		metricCalls.WithLabelValues(transportHTTP, outcomeError).Inc()
		return nil, err
	}

	if !envelope.Success {
		metricCalls.WithLabelValues(transportHTTP, outcomeError).Inc()
		return nil, &RemoteError{Message: envelope.Error}
	}

	metricCalls.WithLabelValues(transportHTTP, outcomeOK).Inc()
	return envelope.Result, nil
}

// ChatHandle identifies a delegated agent conversation.
type ChatHandle struct {
	ChatID string `json:"chatId"`
	Status string `json:"status"`
}

// SendChat forwards a message to the studio's agent and returns a handle
// for polling.
func (c *Channel) SendChat(ctx context.Context, message string, chatContext map[string]any, mode string) (*ChatHandle, error) {
	body := map[string]any{"message": message}
	if chatContext != nil {
		body["context"] = chatContext
	}
	if mode != "" {
		body["mode"] = mode
	}

	var handle ChatHandle
	if err := c.doJSON(ctx, http.MethodPost, "/agent/chat", body, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Agent chat poll statuses.
const (
	ChatStatusPending   = "pending"
	ChatStatusCompleted = "completed"
	ChatStatusError     = "error"
)

// ChatPoll is the tri-state result of polling a delegated conversation.
type ChatPoll struct {
	Status       string   `json:"status"`
	Response     string   `json:"response,omitempty"`
	CreatedNodes []string `json:"createdNodes,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// PollChat fetches the current state of a delegated conversation.
func (c *Channel) PollChat(ctx context.Context, chatID string) (*ChatPoll, error) {
	var poll ChatPoll
	if err := c.doJSON(ctx, http.MethodGet, "/agent/poll/"+chatID, nil, &poll); err != nil {
		return nil, err
	}
	return &poll, nil
}

// Position is a canvas coordinate for node placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CreateCodeNode creates a code node backed by a file on disk and returns
// the studio-issued node ID. Name and position are optional.
func (c *Channel) CreateCodeNode(ctx context.Context, filePath, name string, position *Position) (string, error) {
	body := map[string]any{"filePath": filePath}
	if name != "" {
		body["name"] = name
	}
	if position != nil {
		body["position"] = position
	}

	var result struct {
		NodeID string `json:"nodeId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/files/create-code-node", body, &result); err != nil {
		return "", err
	}
	return result.NodeID, nil
}

// BatchCreateResult reports a batch node-creation outcome. Individual file
// failures land in Errors without failing the whole batch.
type BatchCreateResult struct {
	NodeIDs []string `json:"nodeIds"`
	Errors  []string `json:"errors,omitempty"`
}

// CreateCodeNodesBatch creates one code node per file path, arranged with
// the given layout.
func (c *Channel) CreateCodeNodesBatch(ctx context.Context, filePaths []string, layout string) (*BatchCreateResult, error) {
	body := map[string]any{"filePaths": filePaths}
	if layout != "" {
		body["layout"] = layout
	}

	var result BatchCreateResult
	if err := c.doJSON(ctx, http.MethodPost, "/files/create-code-nodes-batch", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FileContent is the studio's view of a node-backed file.
type FileContent struct {
	Content      string `json:"content"`
	Checksum     string `json:"checksum"`
	LastModified string `json:"lastModified"`
}

// ReadFile reads a node-backed file through the studio.
func (c *Channel) ReadFile(ctx context.Context, filePath string) (*FileContent, error) {
	var content FileContent
	if err := c.doJSON(ctx, http.MethodPost, "/files/read", map[string]any{"filePath": filePath}, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// WriteFile writes content back to a node-backed file through the studio.
func (c *Channel) WriteFile(ctx context.Context, filePath, content string) (bool, error) {
	body := map[string]any{"filePath": filePath, "content": content}
	var ok bool
	if err := c.doJSON(ctx, http.MethodPost, "/files/write-back", body, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// PendingPrompt is a studio prompt awaiting a response, as listed over HTTP.
type PendingPrompt struct {
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Options []string `json:"options,omitempty"`
}

// ListPrompts lists prompts the studio is waiting on.
func (c *Channel) ListPrompts(ctx context.Context) ([]PendingPrompt, error) {
	var prompts []PendingPrompt
	if err := c.doJSON(ctx, http.MethodGet, "/circuitry/prompts", nil, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// RespondPrompt acknowledges a prompt with the given response.
func (c *Channel) RespondPrompt(ctx context.Context, id, response string) error {
	body := map[string]any{"response": response}
	return c.doJSON(ctx, http.MethodPost, "/circuitry/prompts/"+id+"/respond", body, nil)
}

// authorize attaches the bearer credential. The key rides on the header
// only; request bodies never repeat it.
func (c *Channel) authorize(req *http.Request) {
	if c.endpoint.AccessKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.AccessKey)
	}
}

// doJSON issues a JSON request and decodes a JSON response into out.
// Non-2xx statuses become a RemoteError embedding the status and body.
func (c *Channel) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("peer: marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("peer: build request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("peer: read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("peer: decode response from %s: %w", path, err)
	}
	return nil
}
