package chat

import (
	"encoding/json"
	"maps"

	"github.com/MrWong99/notesmcp/internal/tools"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// ParseToolCalls turns the tool calls of a model response into planned
// actions, in the order the model emitted them. Unknown tool names are kept;
// the executor rejects them.
func ParseToolCalls(calls []types.ToolCall) []tools.PlannedAction {
	out := make([]tools.PlannedAction, 0, len(calls))
	for _, c := range calls {
		out = append(out, tools.PlannedAction{
			ID:   c.ID,
			Tool: c.Name,
			Args: DecodeArgs(c.Arguments),
		})
	}
	return out
}

// DecodeArgs normalises a tool-call argument payload into a map. It accepts
// JSON text as string, []byte or json.RawMessage, or an already decoded map.
// Anything else, malformed JSON, or JSON that is not an object yields an
// empty, non-nil map.
func DecodeArgs(raw any) map[string]any {
	var data []byte
	switch v := raw.(type) {
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return maps.Clone(v)
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		return map[string]any{}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
