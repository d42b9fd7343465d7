package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const DefaultEnvPrefix = "CONNECTORS_"

// DefaultEnvProviders are the providers read from <NAME>_CLIENT_ID style variables.
var DefaultEnvProviders = []string{"google", "microsoft", "slack", "atlassian", "notion", "salesforce"}

var serviceEnvKeys = map[string]string{
	"SERVICE_NAME":             "service_name",
	"REFRESH_BUFFER":           "refresh_buffer",
	"REFRESH_TIMEOUT":          "refresh_timeout",
	"STATE_TTL":                "state_ttl",
	"ACTIVITY_BUFFER":          "activity_buffer",
	"ACTIVITY_ENQUEUE_TIMEOUT": "activity_enqueue_timeout",
}

var providerEnvKeys = map[string]string{
	"CLIENT_ID":     "client_id",
	"CLIENT_SECRET": "client_secret",
	"REDIRECT_URI":  "redirect_uri",
	"SCOPES":        "scopes",
	"TENANT_ID":     "tenant_id",
}

// EnvLoader reads settings from the process environment and optional .env
// files. Files never override variables already set in the environment.
//
// Service settings use Prefix (CONNECTORS_REFRESH_BUFFER=2m). Provider
// credentials use the provider name: GOOGLE_CLIENT_ID, MICROSOFT_TENANT_ID,
// SLACK_SCOPES="channels:read,users:read".
type EnvLoader struct {
	Files     []string
	Prefix    string
	Providers []string
	Lookup    func(string) (string, bool)
}

func NewEnvLoader(files ...string) *EnvLoader {
	return &EnvLoader{
		Files:     files,
		Prefix:    DefaultEnvPrefix,
		Providers: append([]string(nil), DefaultEnvProviders...),
		Lookup:    os.LookupEnv,
	}
}

func (l *EnvLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil {
		return map[string]any{}, nil
	}
	fileValues, err := l.readFiles()
	if err != nil {
		return nil, err
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		if value, ok := fileValues[key]; ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		return "", false
	}

	out := map[string]any{}
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	for suffix, key := range serviceEnvKeys {
		if value, ok := get(prefix + suffix); ok {
			out[key] = value
		}
	}

	providers := map[string]any{}
	for _, name := range l.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		entry := map[string]any{}
		for suffix, key := range providerEnvKeys {
			value, ok := get(envName + "_" + suffix)
			if !ok {
				continue
			}
			if key == "scopes" {
				entry[key] = ParseScopes(value)
				continue
			}
			entry[key] = value
		}
		if len(entry) > 0 {
			providers[name] = entry
		}
	}
	if len(providers) > 0 {
		out["providers"] = providers
	}
	if err := coerceValues(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *EnvLoader) readFiles() (map[string]string, error) {
	values := map[string]string{}
	for _, path := range l.Files {
		if strings.TrimSpace(path) == "" {
			continue
		}
		read, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		for key, value := range read {
			if _, seen := values[key]; !seen {
				values[key] = value
			}
		}
	}
	return values, nil
}

// ParseScopes accepts a JSON array or a comma or whitespace separated list.
func ParseScopes(value string) []any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return toAnySlice(list)
		}
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return toAnySlice(fields)
}

func toAnySlice(values []string) []any {
	out := make([]any, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
