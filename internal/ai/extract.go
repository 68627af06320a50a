package ai

import (
	"encoding/json"
	"sort"
	"strings"
)

// answerFields are tried in order at the top level of a backend response.
var answerFields = []string{"result", "response", "answer", "reply", "message", "text", "content", "data"}

// minScanLength is the shortest string the fallback scan accepts.
const minScanLength = 5

// ExtractAnswer pulls the answer text out of a backend response body. It
// tries answerFields first, then walks the document depth-first (object
// keys in sorted order) for the first string of at least minScanLength
// characters.
func ExtractAnswer(body []byte) (string, bool) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}

	if obj, ok := doc.(map[string]any); ok {
		for _, field := range answerFields {
			if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
	}

	return scan(doc)
}

func scan(v any) (string, bool) {
	switch node := v.(type) {
	case string:
		s := strings.TrimSpace(node)
		if len([]rune(s)) >= minScanLength {
			return s, true
		}
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := scan(node[k]); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range node {
			if s, ok := scan(item); ok {
				return s, true
			}
		}
	}
	return "", false
}
