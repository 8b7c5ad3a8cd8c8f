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

// Package config resolves the Circuitry studio endpoint and access key.
//
// Resolution precedence for each value, highest first:
//
//  1. Environment variable (CIRCUITRY_ENDPOINT, CIRCUITRY_ACCESS_KEY)
//  2. System keychain (access key only)
//  3. Persisted config file (~/.config/circuitry-mcp/config.yaml)
//  4. Built-in default (endpoint only)
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is the Circuitry studio server's default local address.
	DefaultEndpoint = "http://127.0.0.1:8765"

	// EnvEndpoint overrides the persisted endpoint URL.
	EnvEndpoint = "CIRCUITRY_ENDPOINT"

	// EnvAccessKey overrides the persisted access key.
	EnvAccessKey = "CIRCUITRY_ACCESS_KEY"

	// KeyringService is the keychain service name for stored credentials.
	KeyringService = "circuitry-mcp"

	// KeyringAccessKey is the keychain entry name for the access key.
	KeyringAccessKey = "access-key"
)

// File is the on-disk configuration written by `circuitry-mcp setup`.
type File struct {
	// Endpoint is the base URL of the Circuitry studio server.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the bearer credential. Empty when the key lives in the
	// system keychain instead of the file.
	AccessKey string `yaml:"access_key,omitempty"`
}

// Load reads and parses the config file at the given path.
// A missing file is not an error: it returns an empty File.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &f, nil
}

// Save writes the config file with owner-only permissions.
func Save(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// StoreAccessKey places the access key in the system keychain.
func StoreAccessKey(key string) error {
	return keyring.Set(KeyringService, KeyringAccessKey, key)
}

// Provider resolves the endpoint URL and access key with the documented
// precedence. The zero value uses the default config file path.
type Provider struct {
	// Path overrides the config file location. Empty means ConfigPath().
	Path string
}

// NewProvider returns a Provider using the default config file path.
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) load() *File {
	path := p.Path
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return &File{}
		}
	}
	f, err := Load(path)
	if err != nil {
		return &File{}
	}
	return f
}

// EndpointURL returns the resolved base URL with any trailing slash removed.
func (p *Provider) EndpointURL() string {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		endpoint = p.load().Endpoint
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.TrimRight(endpoint, "/")
}

// AccessKey returns the resolved access key, or "" when unconfigured.
// The key is opaque: it is only ever forwarded as a bearer credential.
func (p *Provider) AccessKey() string {
	if key := os.Getenv(EnvAccessKey); key != "" {
		return key
	}

	// Keychain miss, locked, or unavailable all fall through to the file.
	if key, err := keyring.Get(KeyringService, KeyringAccessKey); err == nil && key != "" {
		return key
	}

	return p.load().AccessKey
}

// Configured reports whether an access key is available from any source.
func (p *Provider) Configured() bool {
	return p.AccessKey() != ""
}
