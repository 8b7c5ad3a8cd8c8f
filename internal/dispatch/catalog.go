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

import "strings"

// Operation names handled specially by the dispatcher. Everything else in
// the catalog is relayed verbatim to the studio's generic API.
const (
	OpStatus               = "status"
	OpConnect              = "connect"
	OpAgentChat            = "agent.chat"
	OpAgentCreateFlowchart = "agent.createFlowchart"
	OpAgentPoll            = "agent.poll"
	OpCodeCreate           = "code.create"
	OpCodeCreateBatch      = "code.createBatch"
	OpFilesRead            = "files.read"
	OpFilesWrite           = "files.write"
	OpPromptsList          = "prompts.list"
	OpPromptsRespond       = "prompts.respond"
)

// ParamType is the primitive type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Param describes one tool parameter in declaration order.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	Enum        []string
}

// ToolDefinition is a static description of one operation: its dotted
// name, parameters, and return shape. Definitions drive input schemas and
// listings only; dispatch routes by literal name match.
type ToolDefinition struct {
	Name        string
	Description string
	Params      []Param
	Returns     string
}

// Namespace returns the dot-prefix of the operation name ("agent" for
// "agent.chat"), or the name itself when it has no prefix.
func (d ToolDefinition) Namespace() string {
	if i := strings.IndexByte(d.Name, '.'); i >= 0 {
		return d.Name[:i]
	}
	return d.Name
}

// MCPName returns the operation name in MCP tool-name form, with dots
// replaced by underscores.
func (d ToolDefinition) MCPName() string {
	return strings.ReplaceAll(d.Name, ".", "_")
}

// Catalog returns the static tool catalog. The studio is the source of
// truth for argument shapes in the generic-relay subset; their schemas
// here are deliberately loose.
func Catalog() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        OpStatus,
			Description: "Check the Circuitry studio connection: liveness, approval state, and studio version.",
			Returns:     "Status report with studio version and approval state.",
		},
		{
			Name:        OpConnect,
			Description: "Request permission to control the Circuitry studio. The studio user must approve the request before other tools work.",
			Returns:     "Approval outcome reported by the studio.",
		},
		{
			Name:        OpAgentChat,
			Description: "Send a message to the studio's build agent. Returns a chatId to poll with agent_poll.",
			Params: []Param{
				{Name: "message", Type: TypeString, Required: true, Description: "The instruction or question for the agent"},
				{Name: "context", Type: TypeObject, Description: "Optional context forwarded verbatim to the agent"},
				{Name: "mode", Type: TypeString, Description: "Agent mode", Enum: []string{"chat", "build"}},
			},
			Returns: "chatId and initial status (pending, completed, error).",
		},
		{
			Name:        OpAgentCreateFlowchart,
			Description: "Ask the studio's agent to create a flowchart from a natural-language description.",
			Params: []Param{
				{Name: "description", Type: TypeString, Required: true, Description: "What the flowchart should depict"},
				{Name: "style", Type: TypeString, Description: "Optional flowchart style, e.g. 'simple' or 'detailed'"},
			},
			Returns: "chatId and initial status; poll with agent_poll.",
		},
		{
			Name:        OpAgentPoll,
			Description: "Poll a delegated agent conversation for its result.",
			Params: []Param{
				{Name: "chatId", Type: TypeString, Required: true, Description: "Handle returned by agent_chat or agent_createFlowchart"},
			},
			Returns: "status (pending, completed, error), agent response, and created node ids.",
		},
		{
			Name:        OpCodeCreate,
			Description: "Create a code node. With filePath the node is backed by the file on disk; otherwise inline content is sent.",
			Params: []Param{
				{Name: "name", Type: TypeString, Description: "Node display name"},
				{Name: "content", Type: TypeString, Description: "Inline source code (ignored when filePath is set)"},
				{Name: "filePath", Type: TypeString, Description: "Absolute path of the backing file"},
				{Name: "position", Type: TypeObject, Description: "Canvas position {x, y}"},
			},
			Returns: "The studio-issued node id.",
		},
		{
			Name:        OpCodeCreateBatch,
			Description: "Create one code node per file, arranged with the given layout.",
			Params: []Param{
				{Name: "filePaths", Type: TypeArray, Required: true, Description: "Absolute paths of the backing files"},
				{Name: "layout", Type: TypeString, Description: "Arrangement of the created nodes", Enum: []string{"grid", "row", "column"}},
			},
			Returns: "Created node ids plus per-file errors.",
		},
		{
			Name:        OpFilesRead,
			Description: "Read a node-backed file through the studio.",
			Params: []Param{
				{Name: "filePath", Type: TypeString, Required: true, Description: "Absolute path of the file"},
			},
			Returns: "File content, checksum, and last-modified time.",
		},
		{
			Name:        OpFilesWrite,
			Description: "Write content back to a node-backed file through the studio.",
			Params: []Param{
				{Name: "filePath", Type: TypeString, Required: true, Description: "Absolute path of the file"},
				{Name: "content", Type: TypeString, Required: true, Description: "New file content"},
			},
			Returns: "Whether the write was applied.",
		},
		{
			Name:        OpPromptsList,
			Description: "List prompts the studio is waiting on.",
			Returns:     "Pending prompts with ids, messages, and options.",
		},
		{
			Name:        OpPromptsRespond,
			Description: "Answer a pending studio prompt.",
			Params: []Param{
				{Name: "promptId", Type: TypeString, Required: true, Description: "Prompt id from prompts_list"},
				{Name: "response", Type: TypeString, Required: true, Description: "The chosen answer"},
			},
			Returns: "Nothing on success.",
		},
		{
			Name:        "nodes.get",
			Description: "Get a node's full definition.",
			Params: []Param{
				{Name: "nodeId", Type: TypeString, Required: true, Description: "Node id"},
			},
			Returns: "The node definition as reported by the studio.",
		},
		{
			Name:        "nodes.list",
			Description: "List nodes on the current or a named sheet.",
			Params: []Param{
				{Name: "sheetId", Type: TypeString, Description: "Sheet id; defaults to the active sheet"},
			},
			Returns: "Node summaries.",
		},
		{
			Name:        "nodes.create",
			Description: "Create a node of the given type.",
			Params: []Param{
				{Name: "type", Type: TypeString, Required: true, Description: "Node type name"},
				{Name: "name", Type: TypeString, Description: "Node display name"},
				{Name: "position", Type: TypeObject, Description: "Canvas position {x, y}"},
				{Name: "properties", Type: TypeObject, Description: "Type-specific properties"},
			},
			Returns: "The created node id.",
		},
		{
			Name:        "nodes.update",
			Description: "Update a node's properties.",
			Params: []Param{
				{Name: "nodeId", Type: TypeString, Required: true, Description: "Node id"},
				{Name: "properties", Type: TypeObject, Required: true, Description: "Properties to merge"},
			},
			Returns: "The updated node definition.",
		},
		{
			Name:        "nodes.delete",
			Description: "Delete a node.",
			Params: []Param{
				{Name: "nodeId", Type: TypeString, Required: true, Description: "Node id"},
			},
			Returns: "Nothing on success.",
		},
		{
			Name:        "nodes.connect",
			Description: "Connect an output port of one node to an input port of another.",
			Params: []Param{
				{Name: "fromNodeId", Type: TypeString, Required: true, Description: "Source node id"},
				{Name: "fromPort", Type: TypeString, Description: "Source port name"},
				{Name: "toNodeId", Type: TypeString, Required: true, Description: "Target node id"},
				{Name: "toPort", Type: TypeString, Description: "Target port name"},
			},
			Returns: "The created connection id.",
		},
		{
			Name:        "workflow.run",
			Description: "Run the workflow on the active sheet.",
			Params: []Param{
				{Name: "sheetId", Type: TypeString, Description: "Sheet id; defaults to the active sheet"},
			},
			Returns: "Run handle and initial state.",
		},
		{
			Name:        "workflow.stop",
			Description: "Stop the running workflow.",
			Returns:     "Nothing on success.",
		},
		{
			Name:        "workflow.state",
			Description: "Get the current workflow execution state.",
			Returns:     "Execution state as reported by the studio.",
		},
		{
			Name:        "sheets.list",
			Description: "List sheets in the open project.",
			Returns:     "Sheet summaries.",
		},
		{
			Name:        "sheets.create",
			Description: "Create a new sheet.",
			Params: []Param{
				{Name: "name", Type: TypeString, Required: true, Description: "Sheet name"},
			},
			Returns: "The created sheet id.",
		},
		{
			Name:        "sheets.switch",
			Description: "Switch the active sheet.",
			Params: []Param{
				{Name: "sheetId", Type: TypeString, Required: true, Description: "Sheet id"},
			},
			Returns: "Nothing on success.",
		},
	}
}
