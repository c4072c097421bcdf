package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON decodes a model response into out, tolerating markdown code
// fences and prose around the JSON object.
func ParseJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty model response")
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return nil
}
