package llm

import (
	"encoding/json"
	"strings"
)

// ParseJSONResponse parses a JSON object out of an LLM response, stripping
// surrounding markdown code fences if the model added them.
func ParseJSONResponse(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = strings.TrimSpace(parts[1])
			text = strings.TrimSpace(strings.TrimPrefix(text, "json"))
		}
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, err
	}
	return result, nil
}
