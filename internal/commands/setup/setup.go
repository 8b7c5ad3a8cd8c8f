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

// Package setup implements the interactive first-run wizard. It collects
// the studio endpoint and access key, stores the key in the system
// keychain when available, and verifies the endpoint with a liveness probe.
package setup

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/circuitry-mcp/internal/config"
	"github.com/tombee/circuitry-mcp/internal/log"
	"github.com/tombee/circuitry-mcp/internal/peer"
)

const probeTimeout = 5 * time.Second

// NewCommand creates the setup command.
func NewCommand() *cobra.Command {
	var (
		endpoint  string
		accessKey string
		noVerify  bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure the studio endpoint and access key",
		Long: `Configure the connection to the Circuitry studio server.

Prompts for the endpoint URL and access key, stores the key in the system
keychain (falling back to the config file when no keychain is available),
and verifies the endpoint is reachable.

Both values can also be supplied non-interactively via flags or the
CIRCUITRY_ENDPOINT and CIRCUITRY_ACCESS_KEY environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, endpoint, accessKey, noVerify)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Studio endpoint URL")
	cmd.Flags().StringVar(&accessKey, "access-key", "", "Studio access key")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the endpoint liveness check")

	return cmd
}

func runSetup(cmd *cobra.Command, endpoint, accessKey string, noVerify bool) error {
	if endpoint == "" {
		prompt := &survey.Input{
			Message: "Studio endpoint URL:",
			Default: config.DefaultEndpoint,
		}
		if err := survey.AskOne(prompt, &endpoint, survey.WithValidator(validateEndpoint)); err != nil {
			return err
		}
	} else if err := validateEndpoint(endpoint); err != nil {
		return err
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")

	if accessKey == "" {
		prompt := &survey.Password{
			Message: "Access key (from the studio's MCP settings):",
		}
		if err := survey.AskOne(prompt, &accessKey, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	accessKey = strings.TrimSpace(accessKey)

	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	file := &config.File{Endpoint: endpoint}
	if err := config.StoreAccessKey(accessKey); err != nil {
		// No usable keychain on this system. Keep the key in the config
		// file, which Save writes with owner-only permissions.
		cmd.Printf("Keychain unavailable (%v), storing access key in %s\n", err, path)
		file.AccessKey = accessKey
	} else {
		cmd.Println("Access key stored in system keychain.")
	}

	if err := config.Save(path, file); err != nil {
		return err
	}
	cmd.Printf("Configuration written to %s\n", path)

	if noVerify {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	channel := peer.NewChannel(peer.Endpoint{BaseURL: endpoint, AccessKey: accessKey}, log.New(log.FromEnv()))
	if !channel.Probe(ctx) {
		cmd.Printf("Warning: studio not reachable at %s. Start the studio and run \"circuitry-mcp status\" to re-check.\n", endpoint)
		return nil
	}

	cmd.Printf("Studio reachable at %s. Setup complete.\n", endpoint)
	return nil
}

func validateEndpoint(ans any) error {
	raw, ok := ans.(string)
	if !ok {
		return fmt.Errorf("endpoint must be a string")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("endpoint is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a host")
	}
	return nil
}
