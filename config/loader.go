// Package config provides raw configuration sources for core.NewService.
// Each loader returns the nested map shape cfgx decodes into core.Config:
//
//	service_name: connectors
//	refresh_buffer: 5m
//	providers:
//	  google:
//	    client_id: ...
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

var (
	durationKeys = []string{"refresh_buffer", "refresh_timeout", "state_ttl", "activity_enqueue_timeout"}
	intKeys      = []string{"activity_buffer"}
)

// Chain merges loaders in order. Later loaders win key by key, nested maps
// are merged rather than replaced.
type Chain []core.RawConfigLoader

func (c Chain) LoadRaw(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, loader := range c {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeInto(out, raw)
	}
	return out, nil
}

func mergeInto(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := asMap(value)
		if !srcIsMap {
			dst[key] = value
			continue
		}
		dstMap, dstIsMap := asMap(dst[key])
		if !dstIsMap {
			dstMap = map[string]any{}
		}
		mergeInto(dstMap, srcMap)
		dst[key] = dstMap
	}
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			if s, ok := k.(string); ok {
				out[s] = v
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// coerceValues parses textual durations and counts so the decoded config
// does not depend on string conversion hooks.
func coerceValues(raw map[string]any) error {
	for _, key := range durationKeys {
		text, ok := raw[key].(string)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		raw[key] = parsed
	}
	for _, key := range intKeys {
		text, ok := raw[key].(string)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		raw[key] = parsed
	}
	return nil
}

var (
	_ core.RawConfigLoader = Chain(nil)
	_ core.RawConfigLoader = (*FileLoader)(nil)
	_ core.RawConfigLoader = (*EnvLoader)(nil)
)
