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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FrameKind identifies the type of a persistent-channel frame.
type FrameKind string

const (
	// KindAPIRequest carries an outbound correlated call.
	KindAPIRequest FrameKind = "api_request"

	// KindAPIResponse carries the result of a correlated call.
	KindAPIResponse FrameKind = "api_response"

	// KindPrompt is an unsolicited prompt pushed by the studio.
	KindPrompt FrameKind = "prompt"

	// KindPromptResponse acknowledges a prompt.
	KindPromptResponse FrameKind = "prompt_response"

	// KindStatus is a studio-side status broadcast.
	KindStatus FrameKind = "status"

	// KindPing is a liveness probe from the studio; answered with a pong.
	KindPing FrameKind = "ping"

	// KindPong answers a ping.
	KindPong FrameKind = "pong"
)

// Frame is the single wire format for all persistent-channel traffic,
// in both directions.
type Frame struct {
	Kind      FrameKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewFrame builds a frame of the given kind, stamping the current time.
// A nil payload is valid (ping/pong carry none).
func NewFrame(kind FrameKind, payload any) (Frame, error) {
	f := Frame{Kind: kind, Timestamp: time.Now().UnixMilli()}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("peer: marshal %s payload: %w", kind, err)
		}
		f.Payload = data
	}

	return f, nil
}

// apiRequestPayload is the payload of an api_request frame.
type apiRequestPayload struct {
	Method    string         `json:"method"`
	Args      map[string]any `json:"args,omitempty"`
	RequestID string         `json:"requestId"`
}

// apiResponsePayload is the payload of an api_response frame.
type apiResponsePayload struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Prompt is an unsolicited question pushed by the studio over the
// persistent channel, typically asking the user to confirm an action.
type Prompt struct {
	ID      string          `json:"id"`
	Message string          `json:"message"`
	Options []string        `json:"options,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// NewRequestID generates a correlation ID for a persistent-channel call.
// IDs embed a millisecond timestamp and a random suffix and are unique
// within the channel's lifetime.
func NewRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}
