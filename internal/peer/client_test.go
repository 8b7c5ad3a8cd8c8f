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

package peer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChannel(t *testing.T, handler http.Handler, opts ...Option) *Channel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ch := NewChannel(Endpoint{BaseURL: srv.URL, AccessKey: "ck-test"}, testLogger(), opts...)
	t.Cleanup(func() { ch.Disconnect() })
	return ch
}

func TestNewChannel_StripsTrailingSlash(t *testing.T) {
	ch := NewChannel(Endpoint{BaseURL: "http://127.0.0.1:8765/"}, testLogger())
	assert.Equal(t, "http://127.0.0.1:8765", ch.Endpoint().BaseURL)
}

func TestNewChannel_TransportDeadlinesAligned(t *testing.T) {
	// A slow call must behave the same whichever transport was selected.
	ch := NewChannel(Endpoint{BaseURL: "http://127.0.0.1:8765"}, testLogger())
	assert.Equal(t, ch.callTimeout, ch.http.Timeout)
}

func TestProbe(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	assert.True(t, ch.Probe(context.Background()))
}

func TestProbe_NeverErrors(t *testing.T) {
	// Unreachable endpoint: Probe must swallow the failure.
	ch := NewChannel(Endpoint{BaseURL: "http://127.0.0.1:1"}, testLogger())
	assert.False(t, ch.Probe(context.Background()))

	// Non-success status also reports false.
	ch = newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.False(t, ch.Probe(context.Background()))
}

func TestStatus(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "Bearer ck-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(PeerStatus{Version: "2.4.1", UptimeSeconds: 12.5, Connected: true})
	}))

	status, err := ch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.4.1", status.Version)
	assert.True(t, status.Connected)
}

func TestRequestConnection(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mcp/connect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "circuitry-mcp", body["source"])
		assert.NotNil(t, body["timestamp"])
		// The credential never rides in the body.
		assert.NotContains(t, body, "accessKey")

		json.NewEncoder(w).Encode(ConnectOutcome{Approved: true, Message: "approved by user"})
	}))

	outcome, err := ch.RequestConnection(context.Background(), "circuitry-mcp")
	require.NoError(t, err)
	assert.True(t, outcome.Approved)
	assert.Equal(t, "approved by user", outcome.Message)
}

func TestPermissionStatus(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mcp/status", r.URL.Path)
		w.Write([]byte(`{"approved":true}`))
	}))

	approved, err := ch.PermissionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestCall_HTTPFallback(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/circuitry/api", r.URL.Path)

		var body struct {
			Method string         `json:"method"`
			Args   map[string]any `json:"args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nodes.get", body.Method)
		assert.Equal(t, "n1", body.Args["nodeId"])

		w.Write([]byte(`{"success":true,"result":{"id":"n1","type":"code"}}`))
	}))

	// Disconnected channel: the one-shot path is selected.
	require.Equal(t, StateDisconnected, ch.State())

	result, err := ch.Call(context.Background(), "nodes.get", map[string]any{"nodeId": "n1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n1","type":"code"}`, string(result))
}

func TestCall_HTTPFailureEnvelope(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"node not found"}`))
	}))

	_, err := ch.Call(context.Background(), "nodes.get", map[string]any{"nodeId": "missing"})
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "node not found", remoteErr.Message)
	assert.Zero(t, remoteErr.StatusCode)
}

func TestCall_HTTPStatusError(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))

	_, err := ch.Call(context.Background(), "nodes.get", nil)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
	assert.Contains(t, remoteErr.Message, "bad key")
}

func TestSendChatAndPoll(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agent/chat":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "build a login flow", body["message"])
			json.NewEncoder(w).Encode(ChatHandle{ChatID: "chat-7", Status: ChatStatusPending})
		case "/agent/poll/chat-7":
			json.NewEncoder(w).Encode(ChatPoll{
				Status:       ChatStatusCompleted,
				Response:     "done",
				CreatedNodes: []string{"n1", "n2"},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	handle, err := ch.SendChat(context.Background(), "build a login flow", map[string]any{"intent": "chat"}, "")
	require.NoError(t, err)
	assert.Equal(t, "chat-7", handle.ChatID)
	assert.Equal(t, ChatStatusPending, handle.Status)

	poll, err := ch.PollChat(context.Background(), handle.ChatID)
	require.NoError(t, err)
	assert.Equal(t, ChatStatusCompleted, poll.Status)
	assert.Equal(t, []string{"n1", "n2"}, poll.CreatedNodes)
}

func TestCreateCodeNode(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/create-code-node", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/a/b.ts", body["filePath"])
		// Optional fields are omitted, not sent as empty values.
		assert.NotContains(t, body, "name")
		assert.NotContains(t, body, "position")

		w.Write([]byte(`{"nodeId":"node-42"}`))
	}))

	nodeID, err := ch.CreateCodeNode(context.Background(), "/a/b.ts", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "node-42", nodeID)
}

func TestCreateCodeNodesBatch(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/create-code-nodes-batch", r.URL.Path)
		json.NewEncoder(w).Encode(BatchCreateResult{
			NodeIDs: []string{"n1"},
			Errors:  []string{"b.ts: unreadable"},
		})
	}))

	result, err := ch.CreateCodeNodesBatch(context.Background(), []string{"a.ts", "b.ts"}, "grid")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, result.NodeIDs)
	assert.Len(t, result.Errors, 1)
}

func TestReadAndWriteFile(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/read":
			json.NewEncoder(w).Encode(FileContent{Content: "let x = 1", Checksum: "abc123"})
		case "/files/write-back":
			w.Write([]byte("true"))
		default:
			http.NotFound(w, r)
		}
	}))

	content, err := ch.ReadFile(context.Background(), "/a/b.ts")
	require.NoError(t, err)
	assert.Equal(t, "let x = 1", content.Content)

	ok, err := ch.WriteFile(context.Background(), "/a/b.ts", "let x = 2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrompts(t *testing.T) {
	ch := newTestChannel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/circuitry/prompts":
			json.NewEncoder(w).Encode([]PendingPrompt{{ID: "p1", Message: "overwrite node?"}})
		case "/circuitry/prompts/p1/respond":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "yes", body["response"])
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))

	prompts, err := ch.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "p1", prompts[0].ID)

	require.NoError(t, ch.RespondPrompt(context.Background(), "p1", "yes"))
}
