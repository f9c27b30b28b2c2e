package translator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseDecision extracts a Decision from model output. Markdown code fences
// are stripped first; models wrap JSON in them no matter how firmly the
// prompt says not to.
func ParseDecision(text string) (*Decision, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, fmt.Errorf("parse decision: %w (reply: %.200s)", err, text)
	}

	switch d.Type {
	case "order", "navigate", "disambiguate", "chat":
	case "":
		return nil, fmt.Errorf("decision has no type (reply: %.200s)", text)
	default:
		return nil, fmt.Errorf("unknown decision type %q", d.Type)
	}
	return &d, nil
}
