package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/docflow/pkg/api"
)

// definitionFile is the on-disk YAML layout:
//
//	definitions:
//	  - id: ingest-default
//	    name: Default ingest
//	    kind: pipeline
//	    nodes:
//	      - step_type: dedup
//	      - step_type: rule-filter
//	        config: {min_tokens: 3}
//	      - step_type: embed
type definitionFile struct {
	Definitions []yamlDefinition `yaml:"definitions"`
}

type yamlDefinition struct {
	ID             string               `yaml:"id"`
	Name           string               `yaml:"name"`
	Kind           api.DefinitionKind   `yaml:"kind"`
	IsActive       *bool                `yaml:"is_active"`
	MaxConcurrency int                  `yaml:"max_concurrency"`
	Nodes          []api.NodeDefinition `yaml:"nodes"`
}

// ParseDefinitions decodes YAML definition data. Definitions are
// normalized and default to active.
func ParseDefinitions(data []byte) ([]api.Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}

	out := make([]api.Definition, 0, len(f.Definitions))
	for i, yd := range f.Definitions {
		if yd.ID == "" {
			return nil, fmt.Errorf("definition %d: missing id", i)
		}
		def := api.Definition{
			ID:             yd.ID,
			Name:           yd.Name,
			Kind:           yd.Kind,
			IsActive:       yd.IsActive == nil || *yd.IsActive,
			MaxConcurrency: yd.MaxConcurrency,
			Nodes:          yd.Nodes,
		}
		if def.Name == "" {
			def.Name = def.ID
		}
		def.Normalize()
		out = append(out, def)
	}
	return out, nil
}

// LoadDefinitionsFile reads one YAML definitions file.
func LoadDefinitionsFile(path string) ([]api.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// LoadDefinitions reads a file, or every *.yaml / *.yml file in a directory
// in name order.
func LoadDefinitions(path string) ([]api.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return LoadDefinitionsFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)

	var out []api.Definition
	for _, f := range files {
		defs, err := LoadDefinitionsFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, defs...)
	}
	return out, nil
}

// SeedDefinitions saves defs into store, replacing existing entries with the
// same id.
func SeedDefinitions(ctx context.Context, store DefinitionStore, defs []api.Definition) error {
	for _, d := range defs {
		if err := store.SaveDefinition(ctx, d); err != nil {
			return fmt.Errorf("save definition %s: %w", d.ID, err)
		}
	}
	return nil
}
