package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

// presetsFile is the YAML layout:
//
//	presets:
//	  OFFER:
//	    - number: 1
//	      role: hiring_manager
//	      sla: 48h
type presetsFile struct {
	Presets map[string][]models.StepDefinition `yaml:"presets"`
}

// LoadPresets reads default approval chains per letter type. An empty path
// yields no presets.
func LoadPresets(path string) (map[models.LetterType][]models.StepDefinition, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes and validates presets YAML.
func ParsePresets(data []byte) (map[models.LetterType][]models.StepDefinition, error) {
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	out := make(map[models.LetterType][]models.StepDefinition, len(f.Presets))
	for name, steps := range f.Presets {
		lt, ok := models.ParseLetterType(name)
		if !ok {
			return nil, fmt.Errorf("presets: unknown letter type %q", name)
		}
		if err := workflow.Validate(steps); err != nil {
			return nil, fmt.Errorf("presets %s: %w", lt, err)
		}
		out[lt] = steps
	}
	return out, nil
}
