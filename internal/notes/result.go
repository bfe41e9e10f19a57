package notes

// Result codes shared by the notes service, the tool executor and the MCP
// server.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnsupportedTool = "unsupported_tool"
	CodeToolFailed      = "tool_failed"
)

// Result is the uniform outcome of a notes operation or tool execution.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK returns a successful Result carrying data.
func OK(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Fail returns a failed Result.
func Fail(code, msg string) Result {
	return Result{Success: false, Error: msg, Code: code}
}
