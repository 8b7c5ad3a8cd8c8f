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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func writeConfig(t *testing.T, f *File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, f))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvAccessKey, "")
}

func TestLoad_MissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, f.Endpoint)
	assert.Empty(t, f.AccessKey)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: [broken"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := writeConfig(t, &File{Endpoint: "http://127.0.0.1:9000", AccessKey: "ck-test"})

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", f.Endpoint)
	assert.Equal(t, "ck-test", f.AccessKey)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestProvider_EndpointPrecedence(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	path := writeConfig(t, &File{Endpoint: "http://file-host:1234/"})
	p := &Provider{Path: path}

	// File value wins over the default, trailing slash stripped.
	assert.Equal(t, "http://file-host:1234", p.EndpointURL())

	// Env override wins over the file.
	t.Setenv(EnvEndpoint, "http://env-host:4321/")
	assert.Equal(t, "http://env-host:4321", p.EndpointURL())
}

func TestProvider_EndpointDefault(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	p := &Provider{Path: filepath.Join(t.TempDir(), "absent.yaml")}

	assert.Equal(t, DefaultEndpoint, p.EndpointURL())
}

func TestProvider_AccessKeyPrecedence(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	path := writeConfig(t, &File{AccessKey: "from-file"})
	p := &Provider{Path: path}

	assert.Equal(t, "from-file", p.AccessKey())

	require.NoError(t, StoreAccessKey("from-keychain"))
	assert.Equal(t, "from-keychain", p.AccessKey())

	t.Setenv(EnvAccessKey, "from-env")
	assert.Equal(t, "from-env", p.AccessKey())
}

func TestProvider_Configured(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	p := &Provider{Path: filepath.Join(t.TempDir(), "absent.yaml")}

	assert.False(t, p.Configured())

	t.Setenv(EnvAccessKey, "ck-anything")
	assert.True(t, p.Configured())
}
