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

package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/circuitry-mcp/internal/config"
)

func isolate(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv(config.EnvEndpoint, "")
	t.Setenv(config.EnvAccessKey, "")
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestStatus_Unconfigured(t *testing.T) {
	isolate(t)

	out := execute(t)
	assert.Contains(t, out, "Configured: no")
	assert.Contains(t, out, "circuitry-mcp setup")
}

func TestStatus_Unreachable(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvEndpoint, "http://127.0.0.1:1")
	t.Setenv(config.EnvAccessKey, "ck-test")

	out := execute(t)
	assert.Contains(t, out, "Configured: yes")
	assert.Contains(t, out, "Reachable:  no")
}

func TestStatus_Reachable(t *testing.T) {
	isolate(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusOK)
		case "/mcp/status":
			json.NewEncoder(w).Encode(map[string]any{"approved": true})
		case "/status":
			json.NewEncoder(w).Encode(map[string]any{"version": "2.4.0", "uptime": 90.0, "connected": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Setenv(config.EnvEndpoint, srv.URL)
	t.Setenv(config.EnvAccessKey, "ck-test")

	out := execute(t)
	assert.Contains(t, out, "Reachable:  yes")
	assert.Contains(t, out, "Approved:   yes")
	assert.Contains(t, out, "2.4.0")
}

func TestStatus_JSON(t *testing.T) {
	isolate(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusOK)
		case "/mcp/status":
			json.NewEncoder(w).Encode(map[string]any{"approved": false})
		case "/status":
			json.NewEncoder(w).Encode(map[string]any{"version": "2.4.0", "uptime": 5.0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Setenv(config.EnvEndpoint, srv.URL)
	t.Setenv(config.EnvAccessKey, "ck-test")

	out := execute(t, "--json")

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), "output: %s", out)
	assert.Equal(t, srv.URL, report.Endpoint)
	assert.True(t, report.Configured)
	assert.True(t, report.Reachable)
	assert.False(t, report.Approved)
	assert.Equal(t, "2.4.0", report.StudioVersion)
}
