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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// callOutcome is the terminal result of one persistent-channel call.
type callOutcome struct {
	result json.RawMessage
	err    error
}

// pendingCall tracks one in-flight correlated call. Owned exclusively by
// the channel; delivered at most once via the buffered done channel.
type pendingCall struct {
	method string
	done   chan callOutcome
}

// ConnectPersistent opens the persistent channel. It is idempotent: a
// no-op while connected or while a dial is already in flight. Invoking it
// explicitly re-arms automatic reconnection after a Disconnect or after
// the attempt cap was exhausted.
func (c *Channel) ConnectPersistent(ctx context.Context) error {
	c.mu.Lock()
	c.reconnectArmed = true
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	return c.connect(ctx)
}

// connect dials the realtime endpoint if the channel is disconnected.
func (c *Channel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := http.Header{}
	if c.endpoint.AccessKey != "" {
		// The credential rides at the protocol level, never in frames.
		header.Set("Authorization", "Bearer "+c.endpoint.AccessKey)
	}

	url := c.socketURL()
	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return fmt.Errorf("peer: dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("persistent channel connected", "url", url)
	go c.readLoop(conn)
	return nil
}

// Disconnect is the designed shutdown path: it permanently suppresses
// reconnection (until ConnectPersistent is invoked again), closes the
// socket, and fails all pending calls with ErrChannelClosed.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.reconnectArmed = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	abandoned := c.takePendingLocked()
	c.mu.Unlock()

	c.failPending(abandoned, ErrChannelClosed)

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		conn.Close()
		c.logger.Info("persistent channel disconnected")
	}
	return nil
}

// OnPrompt registers an observer for inbound prompt frames. Observers are
// append-only and invoked in registration order.
func (c *Channel) OnPrompt(observer PromptObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// callSocket performs one correlated call over the persistent channel.
func (c *Channel) callSocket(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	id := NewRequestID()
	pc := &pendingCall{method: method, done: make(chan callOutcome, 1)}

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		metricCalls.WithLabelValues(transportWebSocket, outcomeError).Inc()
		return nil, ErrNotConnected
	}
	c.pending[id] = pc
	c.mu.Unlock()

	frame, err := NewFrame(KindAPIRequest, apiRequestPayload{
		Method:    method,
		Args:      args,
		RequestID: id,
	})
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	if err := c.writeFrame(conn, frame); err != nil {
		c.removePending(id)
		metricCalls.WithLabelValues(transportWebSocket, outcomeError).Inc()
		return nil, fmt.Errorf("peer: send %s: %w", method, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case out := <-pc.done:
		if out.err != nil {
			metricCalls.WithLabelValues(transportWebSocket, outcomeError).Inc()
			return nil, out.err
		}
		metricCalls.WithLabelValues(transportWebSocket, outcomeOK).Inc()
		return out.result, nil
	case <-timer.C:
		c.removePending(id)
		metricCalls.WithLabelValues(transportWebSocket, outcomeTimeout).Inc()
		return nil, &TimeoutError{Method: method, RequestID: id, After: c.callTimeout}
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// readLoop owns inbound traffic for one socket until it closes.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames never reach callers.
			c.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
			continue
		}

		c.handleFrame(conn, frame)
	}
}

// handleFrame dispatches one inbound frame by kind.
func (c *Channel) handleFrame(conn *websocket.Conn, frame Frame) {
	metricFrames.WithLabelValues(string(frame.Kind)).Inc()

	switch frame.Kind {
	case KindAPIResponse:
		var payload apiResponsePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn("dropping malformed api_response payload", "error", err)
			return
		}
		c.resolvePending(payload)

	case KindPrompt:
		var prompt Prompt
		if err := json.Unmarshal(frame.Payload, &prompt); err != nil {
			c.logger.Warn("dropping malformed prompt payload", "error", err)
			return
		}
		c.mu.Lock()
		observers := make([]PromptObserver, len(c.observers))
		copy(observers, c.observers)
		c.mu.Unlock()
		for _, observer := range observers {
			observer(prompt)
		}

	case KindPing:
		pong, err := NewFrame(KindPong, nil)
		if err != nil {
			return
		}
		if err := c.writeFrame(conn, pong); err != nil {
			c.logger.Debug("pong failed", "error", err)
		}

	default:
		c.logger.Debug("ignoring frame", "kind", string(frame.Kind))
	}
}

// resolvePending completes the call matching an api_response frame.
// A response with no pending entry arrived after its call timed out.
func (c *Channel) resolvePending(payload apiResponsePayload) {
	c.mu.Lock()
	pc, ok := c.pending[payload.RequestID]
	if ok {
		delete(c.pending, payload.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("no pending call for response", "request_id", payload.RequestID)
		return
	}

	if payload.Success {
		pc.done <- callOutcome{result: payload.Result}
	} else {
		pc.done <- callOutcome{err: &RemoteError{Message: payload.Error}}
	}
}

// handleClose transitions to Disconnected after a socket failure, fails
// pending calls, and schedules a reconnect attempt.
func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A Disconnect or replacement dial already handled this socket.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	abandoned := c.takePendingLocked()
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("persistent channel closed", "error", err)
	} else {
		c.logger.Info("persistent channel closed")
	}

	c.failPending(abandoned, ErrChannelClosed)
	conn.Close()
	c.scheduleReconnect()
}

// scheduleReconnect arms the next reconnection attempt with exponential
// backoff: base doubled per attempt, capped at maxReconnects attempts.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reconnectArmed || c.state != StateDisconnected {
		return
	}
	if c.attempts >= c.maxReconnects {
		c.logger.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}

	c.attempts++
	delay := backoffDelay(c.backoffBase, c.attempts)
	c.logger.Info("scheduling reconnect", "attempt", c.attempts, "delay", delay.String())

	c.reconnectTimer = time.AfterFunc(delay, func() {
		metricReconnects.Inc()

		c.mu.Lock()
		armed := c.reconnectArmed
		c.mu.Unlock()
		if !armed {
			return
		}

		if err := c.connect(context.Background()); err != nil {
			c.logger.Debug("reconnect attempt failed", "error", err)
		}
	})
}

// backoffDelay returns the delay before reconnection attempt n (1-indexed):
// base doubled per prior attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// takePendingLocked empties the pending-call map. Caller holds c.mu.
func (c *Channel) takePendingLocked() []*pendingCall {
	abandoned := make([]*pendingCall, 0, len(c.pending))
	for _, pc := range c.pending {
		abandoned = append(abandoned, pc)
	}
	c.pending = make(map[string]*pendingCall)
	return abandoned
}

// failPending rejects calls that will never receive a response frame.
func (c *Channel) failPending(calls []*pendingCall, err error) {
	for _, pc := range calls {
		pc.done <- callOutcome{err: err}
	}
}

// removePending drops one pending call after a timeout or send failure.
func (c *Channel) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// writeFrame serializes one outbound frame with a write deadline.
func (c *Channel) writeFrame(conn *websocket.Conn, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// socketURL derives the realtime endpoint: the HTTP scheme swapped for the
// WebSocket scheme with a fixed path appended.
func (c *Channel) socketURL() string {
	url := c.endpoint.BaseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + realtimePath
}
