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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitry_remote_calls_total",
		Help: "Remote calls to the studio by transport and outcome.",
	}, []string{"transport", "outcome"})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitry_reconnect_attempts_total",
		Help: "Persistent-channel reconnection attempts.",
	})

	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitry_inbound_frames_total",
		Help: "Inbound persistent-channel frames by kind.",
	}, []string{"kind"})
)

const (
	transportHTTP      = "http"
	transportWebSocket = "websocket"

	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)
