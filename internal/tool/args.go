package tool

import (
	"encoding/json"
	"strconv"
)

// Param is one property of a tool's JSON Schema. Enum, when set, limits the
// values the model may send.
type Param struct {
	Type        string
	Description string
	Enum        []string
}

// Schema returns the JSON Schema object used as ToolDefinition.Parameters.
func Schema(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// StringArg returns args[key] as a string. Non-string values are rendered
// as JSON; a missing or null key is "".
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// IntArg reads a numeric argument, accepting JSON numbers and numeric
// strings. def is returned when the key is absent or unparsable.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
