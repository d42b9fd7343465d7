package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// FileLoader reads a YAML document. JSON is valid YAML so .json files work too.
type FileLoader struct {
	Path string
	// Optional makes a missing file load as empty instead of failing.
	Optional bool
}

func NewFileLoader(path string, optional bool) *FileLoader {
	return &FileLoader{Path: path, Optional: optional}
}

func (l *FileLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil || l.Path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if l.Optional && errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", l.Path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML document into the raw config map.
func ParseYAML(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	normalized, _ := asMap(normalizeYAML(out))
	if normalized == nil {
		normalized = map[string]any{}
	}
	if err := coerceValues(normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// normalizeYAML converts nested map[any]any values so cfgx sees string keys only.
func normalizeYAML(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = normalizeYAML(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = normalizeYAML(v)
		}
		return out
	default:
		return value
	}
}
