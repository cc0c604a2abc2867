package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// LoadFile reads a raw configuration tree from a YAML or JSON file.
// Files ending in .json are parsed as JSON, anything else as YAML.
// A top-level "vault" key is unwrapped when present.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	tree := map[string]any{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &tree)
	} else {
		err = yaml.Unmarshal(data, &tree)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if nested, ok := asMap(tree["vault"]); ok {
		tree = nested
	}
	return Copy(tree), nil
}
