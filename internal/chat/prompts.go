package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/notesmcp/internal/tools"
)

// SystemPrompt opens every transcript.
const SystemPrompt = "Você é um assistente de notas. Use ferramentas para criar e buscar notas. " +
	"Responda em português, de forma curta e clara. Quando buscar notas, apresente um resumo e itens relevantes."

// degradedText is returned when every pass requested tools and no pass
// produced any text.
const degradedText = "Não foi possível concluir a resposta dentro do limite de etapas. Tente reformular o pedido."

// synthesisPrompt builds the user message that feeds tool results back to
// the model.
func synthesisPrompt(prompt string, executed []tools.ExecutedAction) string {
	lines := make([]string, 0, len(executed))
	for _, ex := range executed {
		lines = append(lines, fmt.Sprintf("Ferramenta=%s: args=%s resultado=%s",
			ex.Tool,
			encodeJSON(ex.Args),
			truncateRunes(encodeJSON(ex.Result), ResultPreviewChars),
		))
	}
	return "O usuário pediu: " + prompt + "\n\n" +
		"Resultados das ferramentas executadas:\n" + strings.Join(lines, "\n") + "\n\n" +
		"Produza uma resposta final concisa em português para o usuário, incorporando os dados relevantes."
}

// placeholder is the assistant message recorded for a planning response.
func placeholder(text string, planned []tools.PlannedAction) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	names := make([]string, 0, len(planned))
	for _, p := range planned {
		names = append(names, p.Tool)
	}
	return "(ferramentas solicitadas: " + strings.Join(names, ", ") + ")"
}

// encodeJSON renders v without HTML escaping. Values that cannot be encoded
// render as their Go representation.
func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
