package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON strips markdown code fences that models often wrap
// around structured replies, returning the inner payload.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}

	content = strings.TrimSpace(content)

	// Some models prepend prose before the object. Cut to the first
	// brace so the decoder has a fighting chance.
	if !strings.HasPrefix(content, "{") {
		if idx := strings.Index(content, "{"); idx >= 0 {
			content = content[idx:]
		}
	}
	return content
}

// decodeReply unmarshals a model reply into T. Fenced output is
// unwrapped first, and malformed JSON gets one repair attempt before
// the reply is declared unusable.
func decodeReply[T any](content string) (T, error) {
	var v T
	raw := extractJSON(content)
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return v, fmt.Errorf("repair reply: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return v, fmt.Errorf("unmarshal repaired reply: %w", err)
	}
	return v, nil
}

// sanitizePromptInput neutralizes user-supplied text before it is
// embedded in a prompt body.
func sanitizePromptInput(s string) string {
	s = strings.ReplaceAll(s, "```", "")
	s = strings.ReplaceAll(s, "\r", " ")
	return truncate(strings.TrimSpace(s), 2000)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
