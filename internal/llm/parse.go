package llm

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
)

// ExtractJSON pulls a JSON object out of model output: markdown code fences
// are stripped and everything outside the outermost braces is discarded.
// Models routinely wrap structured answers in prose or ```json fences.
func ExtractJSON(raw string) string {
	text := strings.TrimSpace(raw)

	if i := strings.Index(strings.ToLower(text), "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		if len(parts) >= 3 {
			text = parts[1]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// ParseJSON decodes a JSON object of type T from model output.
func ParseJSON[T any](raw string) (T, error) {
	var out T
	err := json.Unmarshal([]byte(ExtractJSON(raw)), &out)
	return out, err
}

// stringField matches a top-level "key": "value" pair, tolerating escaped
// characters inside the value.
var stringField = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// PartialJSON recovers whatever fields it can from malformed model output.
// It first tries a whole-object decode of the extracted JSON; failing that it
// scrapes individual string fields by pattern. Returns false when nothing at
// all was recovered.
func PartialJSON[T any](raw string) (T, bool) {
	var out T
	text := ExtractJSON(raw)

	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, !isZero(out)
	}

	fields := map[string]string{}
	for _, m := range stringField.FindAllStringSubmatch(text, -1) {
		var value string
		// Round-trip through the decoder to resolve escapes.
		if err := json.Unmarshal([]byte(`"`+m[2]+`"`), &value); err != nil {
			continue
		}
		fields[m[1]] = value
	}
	if len(fields) == 0 {
		return out, false
	}

	repacked, err := json.Marshal(fields)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(repacked, &out); err != nil {
		return out, false
	}
	return out, !isZero(out)
}

func isZero[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}
