package models

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadProcessYAML reads a process definition from a YAML seed file.
// Missing step ids are generated and sequence numbers are rewritten from
// array order, so seed files only need type and prompt per step.
func LoadProcessYAML(path string) (*ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read process file: %w", err)
	}

	var proc ProcessDefinition
	if err := yaml.Unmarshal(data, &proc); err != nil {
		return nil, fmt.Errorf("parse process file: %w", err)
	}

	if proc.Title == "" {
		return nil, fmt.Errorf("process %s: title is required", path)
	}
	if proc.ID == "" {
		proc.ID = uuid.NewString()
	}

	for i := range proc.Steps {
		step := &proc.Steps[i]
		if !step.Type.Valid() {
			return nil, fmt.Errorf("process %s: step %d: unknown type %q", path, i+1, step.Type)
		}
		if step.Prompt == "" {
			return nil, fmt.Errorf("process %s: step %d: prompt is required", path, i+1)
		}
		if step.Type == StepChoice && len(step.Options) == 0 {
			return nil, fmt.Errorf("process %s: step %d: choice step needs options", path, i+1)
		}
		if step.StepID == "" {
			step.StepID = uuid.NewString()
		}
	}
	Resequence(proc.Steps)

	return &proc, nil
}
