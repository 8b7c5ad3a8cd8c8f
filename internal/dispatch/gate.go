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

package dispatch

import "sync"

// Gate tracks whether the studio user has approved this bridge session.
// One approval covers the whole session; the flag is never persisted and
// resets on every process start. Only the dispatcher mutates it.
type Gate struct {
	mu       sync.Mutex
	approved bool
}

// Approved reports the current session approval.
func (g *Gate) Approved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approved
}

// SetApproved records the studio's approval decision.
func (g *Gate) SetApproved(approved bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approved = approved
}
