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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID_Unique(t *testing.T) {
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := NewRequestID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate request ID %s after %d generations", id, i)
		seen[id] = struct{}{}
	}
}

func TestNewRequestID_Shape(t *testing.T) {
	id := NewRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))

	// Timestamp and random suffix are both present.
	parts := strings.SplitN(id, "_", 3)
	require.Len(t, parts, 3)
	assert.NotEmpty(t, parts[1])
	assert.NotEmpty(t, parts[2])
}

func TestNewFrame(t *testing.T) {
	frame, err := NewFrame(KindAPIRequest, apiRequestPayload{
		Method:    "nodes.get",
		Args:      map[string]any{"nodeId": "n1"},
		RequestID: "req_1",
	})
	require.NoError(t, err)

	assert.Equal(t, KindAPIRequest, frame.Kind)
	assert.NotZero(t, frame.Timestamp)

	var payload apiRequestPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "nodes.get", payload.Method)
	assert.Equal(t, "req_1", payload.RequestID)
}

func TestNewFrame_NilPayload(t *testing.T) {
	frame, err := NewFrame(KindPong, nil)
	require.NoError(t, err)
	assert.Nil(t, frame.Payload)
}
