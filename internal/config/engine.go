package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/adaptivestudy/internal/blueprint"
	"github.com/example/adaptivestudy/internal/engine"
)

// EngineFile is the YAML policy file: the blueprint plus the tunables of
// each component. Omitted sections keep their defaults.
//
//	blueprint:
//	  targets: {fractions: 0.6, decimals: 0.4}
//	stop_rule:
//	  min_items: 5
//	retention:
//	  target_retention: 0.8
type EngineFile struct {
	Blueprint       blueprint.Config `yaml:"blueprint"`
	engine.Policies `yaml:",inline"`
}

// ParseEngineFile decodes and validates an engine policy file
func ParseEngineFile(data []byte) (EngineFile, error) {
	ef := EngineFile{Policies: engine.DefaultPolicies()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ef); err != nil {
		return EngineFile{}, fmt.Errorf("failed to parse engine config: %w", err)
	}
	ef.Blueprint = ef.Blueprint.WithDefaults()
	if err := ef.Blueprint.Validate(); err != nil {
		return EngineFile{}, err
	}
	return ef, nil
}

// LoadEngineFile reads and parses path
func LoadEngineFile(path string) (EngineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineFile{}, fmt.Errorf("failed to read engine config: %w", err)
	}
	return ParseEngineFile(data)
}
