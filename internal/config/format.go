package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format names the encoding of a config or job file, picked by extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// ToJSON converts YAML and TOML documents to JSON so both go through the same
// strict decoder. JSON input is returned unchanged.
func ToJSON(path string, data []byte) ([]byte, Format, error) {
	f := FormatOf(path)
	var v any
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, f, fmt.Errorf("yaml unmarshal: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, f, fmt.Errorf("toml unmarshal: %w", err)
		}
	default:
		return data, f, nil
	}

	j, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, f, fmt.Errorf("%s->json marshal: %w", f, err)
	}
	return j, f, nil
}

// normalize makes every map key a string so the value can be JSON-marshaled.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON ignores whitespace and key order. Invalid JSON is hashed raw.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashBytes(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return hashBytes(raw)
	}
	return hashBytes(b)
}
