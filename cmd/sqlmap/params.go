package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseParams turns name=value pairs into a parameter map. Values parse as
// null, bool, int, float or, failing those, string. Quote a value ('...')
// to keep it a string. A comma-separated value is a list, which the query
// expands into IN (...).
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		name, raw, ok := strings.Cut(kv, "=")
		name = strings.TrimLeft(strings.TrimSpace(name), "@:")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", kv)
		}
		out[name] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	if l := len(raw); l >= 2 && raw[0] == '\'' && raw[l-1] == '\'' {
		return raw[1 : l-1]
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		list := make([]any, len(parts))
		for i, p := range parts {
			list[i] = parseValue(strings.TrimSpace(p))
		}
		return list
	}
	if strings.EqualFold(raw, "null") {
		return nil
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
