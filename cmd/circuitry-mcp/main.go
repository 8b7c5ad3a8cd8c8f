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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/circuitry-mcp/internal/commands/serve"
	"github.com/tombee/circuitry-mcp/internal/commands/setup"
	"github.com/tombee/circuitry-mcp/internal/commands/status"
	versioncmd "github.com/tombee/circuitry-mcp/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "circuitry-mcp",
		Short: "MCP bridge to the Circuitry studio",
		Long: `circuitry-mcp bridges AI coding assistants to a running Circuitry
studio via the Model Context Protocol.

It exposes the studio's flowchart, agent, and file operations as MCP tools,
relaying calls over HTTP or a persistent WebSocket channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serve.NewCommand(version))
	rootCmd.AddCommand(setup.NewCommand())
	rootCmd.AddCommand(status.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand(versioncmd.Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
