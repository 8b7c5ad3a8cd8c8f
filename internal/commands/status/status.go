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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/circuitry-mcp/internal/config"
	"github.com/tombee/circuitry-mcp/internal/log"
	"github.com/tombee/circuitry-mcp/internal/peer"
)

const probeTimeout = 5 * time.Second

// Report is the status command's output shape.
type Report struct {
	Endpoint      string `json:"endpoint"`
	Configured    bool   `json:"configured"`
	Reachable     bool   `json:"reachable"`
	Approved      bool   `json:"approved"`
	StudioVersion string `json:"studio_version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
}

// NewCommand creates the status command.
func NewCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check connectivity to the studio",
		Long:  `Probe the configured studio endpoint and report reachability, permission state, and studio version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg := config.NewProvider()

	report := Report{
		Endpoint:   cfg.EndpointURL(),
		Configured: cfg.Configured(),
	}

	if report.Configured {
		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		channel := peer.NewChannel(peer.Endpoint{
			BaseURL:   cfg.EndpointURL(),
			AccessKey: cfg.AccessKey(),
		}, log.New(log.FromEnv()))

		report.Reachable = channel.Probe(ctx)
		if report.Reachable {
			if approved, err := channel.PermissionStatus(ctx); err == nil {
				report.Approved = approved
			}
			if st, err := channel.Status(ctx); err == nil {
				report.StudioVersion = st.Version
				report.UptimeSeconds = int64(st.UptimeSeconds)
			}
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Endpoint:   %s\n", report.Endpoint)
	if !report.Configured {
		cmd.Println("Configured: no (run \"circuitry-mcp setup\")")
		return nil
	}
	cmd.Println("Configured: yes")
	if !report.Reachable {
		cmd.Println("Reachable:  no (is the studio running?)")
		return nil
	}
	cmd.Println("Reachable:  yes")
	cmd.Printf("Approved:   %s\n", yesNo(report.Approved))
	if report.StudioVersion != "" {
		cmd.Printf("Studio:     %s (up %s)\n", report.StudioVersion, (time.Duration(report.UptimeSeconds) * time.Second).String())
	}

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
