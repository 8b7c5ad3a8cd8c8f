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

// Package dispatch maps tool operations onto studio calls.
//
// Every call runs the same ordered pipeline: configuration check, liveness
// probe, permission enforcement, routing, and result normalization. Each
// step's failure short-circuits the rest. No operation is retried here;
// the channel's reconnection logic is the only retry mechanism and it
// applies to the persistent transport, not to failed calls.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/circuitry-mcp/internal/config"
	"github.com/tombee/circuitry-mcp/internal/peer"
)

// Channel is the slice of the studio channel the dispatcher consumes.
// *peer.Channel implements it.
type Channel interface {
	Endpoint() peer.Endpoint
	Probe(ctx context.Context) bool
	Status(ctx context.Context) (*peer.PeerStatus, error)
	RequestConnection(ctx context.Context, source string) (*peer.ConnectOutcome, error)
	PermissionStatus(ctx context.Context) (bool, error)
	Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	SendChat(ctx context.Context, message string, chatContext map[string]any, mode string) (*peer.ChatHandle, error)
	PollChat(ctx context.Context, chatID string) (*peer.ChatPoll, error)
	CreateCodeNode(ctx context.Context, filePath, name string, position *peer.Position) (string, error)
	CreateCodeNodesBatch(ctx context.Context, filePaths []string, layout string) (*peer.BatchCreateResult, error)
	ReadFile(ctx context.Context, filePath string) (*peer.FileContent, error)
	WriteFile(ctx context.Context, filePath, content string) (bool, error)
	ListPrompts(ctx context.Context) ([]peer.PendingPrompt, error)
	RespondPrompt(ctx context.Context, id, response string) error
	ConnectPersistent(ctx context.Context) error
	OnPrompt(observer peer.PromptObserver)
	Disconnect() error
}

// Result is the uniform response envelope returned to the tool frontend.
// Failures carry a message; successes carry a rendered payload. Never both.
type Result struct {
	Text    string
	IsError bool
}

// Session holds all per-process bridge state: the resolved configuration,
// the lazily built channel, and the permission gate. It is constructed
// once per process and passed explicitly; there is no ambient global
// state, so tests can run independent sessions side by side.
type Session struct {
	cfg     *config.Provider
	logger  *slog.Logger
	version string
	source  string

	// newChannel builds the channel on first use; replaceable in tests.
	newChannel func(peer.Endpoint, *slog.Logger) Channel

	mu             sync.Mutex
	channel        Channel
	gate           Gate
	persistentOpen bool
}

// NewSession creates a session around the given config provider.
func NewSession(cfg *config.Provider, logger *slog.Logger, version string) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		version: version,
		source:  "circuitry-mcp",
		newChannel: func(endpoint peer.Endpoint, logger *slog.Logger) Channel {
			return peer.NewChannel(endpoint, logger)
		},
	}
}

// Channel returns the session's channel, constructing it on first use.
// The endpoint is resolved once, at construction.
func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		endpoint := peer.Endpoint{
			BaseURL:   s.cfg.EndpointURL(),
			AccessKey: s.cfg.AccessKey(),
		}
		s.channel = s.newChannel(endpoint, s.logger)
	}
	return s.channel
}

// Close tears down the persistent channel if one was built. Pending
// persistent-channel calls fail with a channel-closed error.
func (s *Session) Close() error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return nil
	}
	return channel.Disconnect()
}

// Dispatch runs one operation through the precondition pipeline and
// routes it to the studio. All failures are reported in the envelope;
// none are fatal to the process.
func (s *Session) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	// Step 1: configuration. Fail before any network I/O.
	if !s.cfg.Configured() {
		return errorResult("Circuitry access key is not configured. Run `circuitry-mcp setup` or set " + config.EnvAccessKey + ".")
	}

	channel := s.Channel()

	// Step 2: liveness.
	if !channel.Probe(ctx) {
		return errorResult(fmt.Sprintf("Circuitry studio is unreachable at %s. Make sure the studio is running.", channel.Endpoint().BaseURL))
	}

	// Step 3: status bypasses the permission gate entirely.
	if name == OpStatus {
		return s.handleStatus(ctx, channel)
	}

	// Step 4: connect runs the permission request flow and is itself
	// exempt from the gate.
	if name == OpConnect {
		return s.handleConnect(ctx, channel)
	}

	// Step 5: everything else requires approval. When the local flag is
	// down, re-check the studio once: approval granted in an earlier
	// session survives there even though this process starts cold.
	if !s.gate.Approved() {
		if approved, err := channel.PermissionStatus(ctx); err == nil && approved {
			s.gate.SetApproved(true)
		}
	}
	if !s.gate.Approved() {
		return errorResult("Not connected to the Circuitry studio. Call the connect tool first and approve the request in the studio.")
	}
	s.openPersistent(ctx, channel)

	// Step 6: routing.
	payload, err := s.route(ctx, channel, name, args)

	// Step 7: normalization.
	if err != nil {
		s.logger.Debug("operation failed", "operation", name, "error", err)
		return errorResult(err.Error())
	}
	return successResult(payload)
}

// handleStatus reports liveness, approval, and studio version. It never
// mutates the permission gate: any number of status calls with no
// intervening connect leaves the session state untouched.
func (s *Session) handleStatus(ctx context.Context, channel Channel) Result {
	approved := s.gate.Approved()
	if !approved {
		if remote, err := channel.PermissionStatus(ctx); err == nil {
			approved = remote
		}
	}

	report := map[string]any{
		"reachable":     true,
		"approved":      approved,
		"bridgeVersion": s.version,
		"endpoint":      channel.Endpoint().BaseURL,
	}
	if status, err := channel.Status(ctx); err == nil {
		report["studioVersion"] = status.Version
		report["uptimeSeconds"] = status.UptimeSeconds
	}

	return successResult(report)
}

// handleConnect runs the permission request flow. Already-approved
// sessions short-circuit without another studio round trip.
func (s *Session) handleConnect(ctx context.Context, channel Channel) Result {
	if s.gate.Approved() {
		return successResult(map[string]any{
			"approved": true,
			"message":  "Already connected to the Circuitry studio this session.",
		})
	}

	outcome, err := channel.RequestConnection(ctx, s.source)
	if err != nil {
		return errorResult(err.Error())
	}

	// Adopt whatever the studio reports.
	s.gate.SetApproved(outcome.Approved)
	if outcome.Approved {
		s.openPersistent(ctx, channel)
	}

	if !outcome.Approved {
		message := outcome.Message
		if message == "" {
			message = "the studio user denied the request"
		}
		return errorResult("Connection request denied: " + message)
	}

	return successResult(map[string]any{
		"approved": true,
		"message":  outcome.Message,
	})
}

// openPersistent arms the persistent channel once per session, the first
// time an operation runs with the gate up. The channel handles its own
// reconnection from here; a failed dial is not fatal because every call
// falls back to one-shot HTTP while the socket is down.
func (s *Session) openPersistent(ctx context.Context, channel Channel) {
	s.mu.Lock()
	if s.persistentOpen {
		s.mu.Unlock()
		return
	}
	s.persistentOpen = true
	s.mu.Unlock()

	channel.OnPrompt(func(prompt peer.Prompt) {
		s.logger.Info("studio prompt pending",
			"prompt_id", prompt.ID,
			"message", prompt.Message,
		)
	})

	if err := channel.ConnectPersistent(ctx); err != nil {
		s.logger.Warn("persistent channel unavailable, staying on HTTP", "error", err)
	}
}

// route maps an operation name to its call strategy: agent delegation,
// file-backed creation, typed file/prompt calls, or the generic relay.
func (s *Session) route(ctx context.Context, channel Channel, name string, args map[string]any) (any, error) {
	switch name {
	case OpAgentChat:
		message, err := stringArg(args, "message", true)
		if err != nil {
			return nil, err
		}
		chatCtx, _ := args["context"].(map[string]any)
		mode, _ := args["mode"].(string)
		return channel.SendChat(ctx, message, chatCtx, mode)

	case OpAgentCreateFlowchart:
		description, err := stringArg(args, "description", true)
		if err != nil {
			return nil, err
		}
		style, _ := args["style"].(string)

		message := "Create a flowchart: " + description
		chatCtx := map[string]any{"intent": "flowchart"}
		if style != "" {
			message = fmt.Sprintf("Create a %s flowchart: %s", style, description)
			chatCtx["style"] = style
		}
		return channel.SendChat(ctx, message, chatCtx, "")

	case OpAgentPoll:
		chatID, err := stringArg(args, "chatId", true)
		if err != nil {
			return nil, err
		}
		return channel.PollChat(ctx, chatID)

	case OpCodeCreate:
		// A file path selects file-backed creation and makes any inline
		// content argument irrelevant.
		if filePath, _ := args["filePath"].(string); filePath != "" {
			nodeName, _ := args["name"].(string)
			nodeID, err := channel.CreateCodeNode(ctx, filePath, nodeName, positionArg(args))
			if err != nil {
				return nil, err
			}
			return map[string]any{"nodeId": nodeID}, nil
		}
		return channel.Call(ctx, OpCodeCreate, pickArgs(args, "name", "content", "position"))

	case OpCodeCreateBatch:
		filePaths, err := stringSliceArg(args, "filePaths")
		if err != nil {
			return nil, err
		}
		layout, _ := args["layout"].(string)
		return channel.CreateCodeNodesBatch(ctx, filePaths, layout)

	case OpFilesRead:
		filePath, err := stringArg(args, "filePath", true)
		if err != nil {
			return nil, err
		}
		return channel.ReadFile(ctx, filePath)

	case OpFilesWrite:
		filePath, err := stringArg(args, "filePath", true)
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content", true)
		if err != nil {
			return nil, err
		}
		written, err := channel.WriteFile(ctx, filePath, content)
		if err != nil {
			return nil, err
		}
		return map[string]any{"written": written}, nil

	case OpPromptsList:
		return channel.ListPrompts(ctx)

	case OpPromptsRespond:
		promptID, err := stringArg(args, "promptId", true)
		if err != nil {
			return nil, err
		}
		response, err := stringArg(args, "response", true)
		if err != nil {
			return nil, err
		}
		return nil, channel.RespondPrompt(ctx, promptID, response)

	default:
		// The studio owns argument shape and semantics for everything
		// else; the payload passes through untouched.
		return channel.Call(ctx, name, args)
	}
}

// stringArg extracts a string argument, enforcing presence when required.
func stringArg(args map[string]any, key string, required bool) (string, error) {
	value, _ := args[key].(string)
	if required && value == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return value, nil
}

// stringSliceArg extracts a non-empty []string argument. JSON decoding
// delivers arrays as []any.
func stringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("argument %q must be a non-empty array of strings", key)
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		value, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must contain only strings", key)
		}
		values = append(values, value)
	}
	return values, nil
}

// positionArg extracts an optional {x, y} position argument.
func positionArg(args map[string]any) *peer.Position {
	raw, ok := args["position"].(map[string]any)
	if !ok {
		return nil
	}
	position := &peer.Position{}
	if x, ok := raw["x"].(float64); ok {
		position.X = x
	}
	if y, ok := raw["y"].(float64); ok {
		position.Y = y
	}
	return position
}

// pickArgs copies only the listed keys that are actually present, so
// absent optional arguments stay absent on the wire.
func pickArgs(args map[string]any, keys ...string) map[string]any {
	picked := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := args[key]; ok {
			picked[key] = value
		}
	}
	return picked
}

// errorResult renders a failure envelope. The prefix keeps failures
// visually distinct from success text; IsError flags them out of band.
func errorResult(message string) Result {
	return Result{Text: "Error: " + message, IsError: true}
}

// successResult renders a success envelope. Empty payloads render as an
// explicit indicator so callers never see ambiguous empty output.
func successResult(payload any) Result {
	text := renderPayload(payload)
	if text == "" {
		text = "(no return value)"
	}
	return Result{Text: text}
}

// renderPayload pretty-prints a payload for the text envelope.
func renderPayload(payload any) string {
	switch value := payload.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.RawMessage:
		if len(value) == 0 || string(value) == "null" {
			return ""
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, value, "", "  "); err != nil {
			return string(value)
		}
		return buf.String()
	default:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		if string(data) == "null" {
			return ""
		}
		return string(data)
	}
}
