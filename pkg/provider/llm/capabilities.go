package llm

import (
	"strings"

	"github.com/MrWong99/notesmcp/pkg/types"
)

type capabilityRule struct {
	prefix  string
	window  int
	output  int
	vision  bool
	noTools bool
}

// capabilityRules are matched in order; the first prefix match wins.
var capabilityRules = []capabilityRule{
	{prefix: "gpt-4o", window: 128_000, output: 16_384, vision: true},
	{prefix: "gpt-4.1", window: 1_047_576, output: 32_768, vision: true},
	{prefix: "gpt-4-turbo", window: 128_000, output: 4_096, vision: true},
	{prefix: "gpt-4", window: 8_192, output: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, output: 4_096},
	{prefix: "o1-mini", window: 128_000, output: 65_536, noTools: true},
	{prefix: "o1", window: 200_000, output: 100_000},
	{prefix: "o3", window: 200_000, output: 100_000},
	{prefix: "claude", window: 200_000, output: 8_192, vision: true},
	{prefix: "gemini", window: 1_048_576, output: 8_192, vision: true},
	{prefix: "deepseek", window: 64_000, output: 8_192},
	{prefix: "llama", window: 32_768, output: 4_096},
	{prefix: "qwen", window: 32_768, output: 4_096},
}

// BaseModel strips routing prefixes such as "openrouter/openai/" from a
// model name.
func BaseModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

// KnownCapabilities returns the capabilities of well-known model families.
// Unknown models get a 128k window, 4k output and tool calling.
func KnownCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
	name := strings.ToLower(BaseModel(model))
	for _, r := range capabilityRules {
		if strings.HasPrefix(name, r.prefix) {
			caps.ContextWindow = r.window
			caps.MaxOutputTokens = r.output
			caps.SupportsVision = r.vision
			caps.SupportsToolCalling = !r.noTools
			break
		}
	}
	return caps
}
