package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic JSON tree used by the path accessors.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid config path %q", path)
		}
	}
	return parts, nil
}

// GetByPath returns the value at a dotted JSON path such as
// "security.allowedDomains" or "security.allowedDomains.0".
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var cur any = tree
	for i, key := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("unknown config path %q", strings.Join(parts[:i+1], "."))
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %q out of range at %s", key, strings.Join(parts[:i], "."))
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%s is a scalar", strings.Join(parts[:i], "."))
		}
	}
	return cur, nil
}

// SetByPath assigns value at a dotted path. String values are interpreted
// (see parseValue). The path must name a config field; map sections such as
// providers accept new keys.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if !knownPath(reflect.TypeOf(Config{}), parts) {
		return fmt.Errorf("unknown config path %q", path)
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	parent := tree
	for i, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			m := make(map[string]any)
			parent[key] = m
			parent = m
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		parent = m
	}
	parent[parts[len(parts)-1]] = parseValue(value)

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	next := &Config{}
	if err := json.Unmarshal(data, next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = *next
	return nil
}

// knownPath walks t by JSON field names. Map keys are free-form.
func knownPath(t reflect.Type, parts []string) bool {
	if len(parts) == 0 {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer:
		return knownPath(t.Elem(), parts)
	case reflect.Map:
		return knownPath(t.Elem(), parts[1:])
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == parts[0] {
				return knownPath(f.Type, parts[1:])
			}
		}
	}
	return false
}

// parseValue interprets command-line strings: JSON arrays and objects,
// booleans and numbers become typed values, anything else stays a string.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a deep copy of cfg with credentials masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return cfg
	}

	for name, p := range out.Providers {
		p.APIKey = maskSecret(p.APIKey)
		out.Providers[name] = p
	}
	out.Channels.Telegram.Token = maskSecret(out.Channels.Telegram.Token)
	out.Channels.Discord.Token = maskSecret(out.Channels.Discord.Token)
	return out
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths flattens cfg into dotted paths mapped to leaf values. Lists are
// leaves.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(paths map[string]any) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, node map[string]any, out map[string]any) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			flatten(path, m, out)
			continue
		}
		out[path] = v
	}
}
