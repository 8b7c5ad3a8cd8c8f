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

package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/circuitry-mcp/internal/config"
	"github.com/tombee/circuitry-mcp/internal/dispatch"
	"github.com/tombee/circuitry-mcp/internal/log"
	"github.com/tombee/circuitry-mcp/internal/mcpserver"
)

// NewCommand creates the serve command.
func NewCommand(version string) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Circuitry MCP server",
		Long: `Start the Circuitry MCP (Model Context Protocol) server.

The server runs in stdio mode and is meant to be launched by an AI coding
assistant via its MCP configuration. All logging goes to stderr because
stdout carries the MCP protocol stream.

Configuration example for Claude Code (~/.config/claude/config.json):
  {
    "mcpServers": {
      "circuitry": {
        "command": "circuitry-mcp",
        "args": ["serve"]
      }
    }
  }

Run "circuitry-mcp setup" first to store the studio endpoint and access key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(version, logLevel)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Logging verbosity (debug, info, warn, error)")

	return cmd
}

func runServe(version, logLevel string) error {
	logCfg := log.FromEnv()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := log.New(logCfg)

	session := dispatch.NewSession(config.NewProvider(), logger, version)
	defer session.Close()

	srv := mcpserver.New(session, logger, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived shutdown signal, shutting down...")
		session.Close()
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
