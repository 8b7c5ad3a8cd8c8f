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

// Package mcpserver exposes the Circuitry tool catalog as an MCP server.
//
// The frontend is a thin adapter: it forwards each tool call's name and
// arguments to the dispatcher and serializes the envelope back. Dispatch
// failures come back as tool errors, never as protocol faults.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/circuitry-mcp/internal/dispatch"
)

// Dispatcher runs one operation and reports the uniform envelope.
// *dispatch.Session implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) dispatch.Result
}

// Server wraps the MCP server and bridges tool calls to the studio.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher Dispatcher
	logger     *slog.Logger
	version    string
}

// New creates an MCP server registering every catalog tool against the
// given dispatcher.
func New(dispatcher Dispatcher, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcpServer:  server.NewMCPServer("circuitry", version),
		dispatcher: dispatcher,
		logger:     logger,
		version:    version,
	}

	for _, def := range dispatch.Catalog() {
		s.mcpServer.AddTool(toolFromDefinition(def), s.handlerFor(def.Name))
	}

	return s
}

// handlerFor builds the single dispatch handler bound to one operation.
func (s *Server) handlerFor(operation string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		s.logger.Debug("tool call", "operation", operation)

		result := s.dispatcher.Dispatch(ctx, operation, args)
		if result.IsError {
			return mcp.NewToolResultError(result.Text), nil
		}
		return mcp.NewToolResultText(result.Text), nil
	}
}

// toolFromDefinition converts a catalog entry into an MCP tool with an
// input schema built from its declared parameters.
func toolFromDefinition(def dispatch.ToolDefinition) mcp.Tool {
	properties := make(map[string]any, len(def.Params))
	var required []string

	for _, param := range def.Params {
		prop := map[string]any{
			"type":        string(param.Type),
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	description := def.Description
	if def.Returns != "" {
		description = fmt.Sprintf("%s Returns: %s", def.Description, def.Returns)
	}

	return mcp.Tool{
		Name:        def.MCPName(),
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// Run serves MCP over stdio until the client closes stdin or the context
// is cancelled. Cancellation is the shutdown-signal path and returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting circuitry MCP server", slog.String("version", s.version))
	return s.listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
