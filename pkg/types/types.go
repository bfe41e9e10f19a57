// Package types holds the conversation structures shared by the model
// providers, the chat orchestrator, the tool executor and the MCP server.
package types

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one transcript entry sent to the model.
type Message struct {
	Role    string
	Content string
	Name    string

	// ToolCalls are set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model. Name is not
// validated and Arguments, a JSON object in text form, may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool to the model and to MCP clients.
type ToolDefinition struct {
	Name        string
	Title       string
	Description string

	// Parameters is the JSON Schema of the tool input.
	Parameters map[string]any
}

// ModelCapabilities describes the limits of a model.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
