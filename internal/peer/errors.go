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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelClosed is returned to calls pending on the persistent
	// channel when the connection drops or Disconnect is invoked.
	ErrChannelClosed = errors.New("peer: channel closed")

	// ErrNotConnected is returned when a socket send is attempted while
	// the persistent channel is down.
	ErrNotConnected = errors.New("peer: persistent channel not connected")
)

// ConnectionState describes the persistent channel's lifecycle state.
type ConnectionState int32

const (
	// StateDisconnected means no socket is open and none is being dialed.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the socket is open and usable for calls.
	StateConnected
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RemoteError reports a failure envelope or non-success HTTP status
// returned by the studio. The studio's message is surfaced verbatim.
type RemoteError struct {
	// StatusCode is the HTTP status, or 0 for a failure envelope
	// delivered over a successful transport exchange.
	StatusCode int

	// Message is the studio-provided error text or response body.
	Message string
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("peer: remote error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("peer: remote error: %s", e.Message)
}

// TimeoutError reports a persistent-channel call whose matching response
// frame never arrived.
type TimeoutError struct {
	Method    string
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("peer: call %q timed out after %s (request %s)", e.Method, e.After, e.RequestID)
}
