package sqlstore

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// RedactDetails masks secret-looking keys before activity details are persisted.
func RedactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return map[string]any{}
	}
	return redactMap(details)
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if isSensitiveKey(key) {
			target[key] = redactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveKeyFragments = []string{
	"password",
	"secret",
	"access_token",
	"refresh_token",
	"id_token",
	"authorization",
	"api_key",
	"code_verifier",
	"credential",
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if key == "code" || key == "token" {
		return true
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
