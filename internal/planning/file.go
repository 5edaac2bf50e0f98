package planning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk YAML form of a plan:
//
//	id: research-1
//	title: Weekly digest
//	user_request: Summarise this week's Go releases
//	params:
//	  audience: engineers
//	steps:
//	  - "[websearch] find Go release notes from this week"
//	  - "[writer] summarise the findings"
type PlanFile struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	UserRequest string            `yaml:"user_request"`
	Params      map[string]string `yaml:"params"`
	Steps       []string          `yaml:"steps"`
}

// ParsePlan decodes a YAML plan into a ready-to-run execution context.
func ParsePlan(data []byte) (*ExecutionContext, error) {
	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	plan := NewPlan(pf.ID, pf.Title)
	for k, v := range pf.Params {
		plan.ExecutionParams[k] = v
	}
	for _, s := range pf.Steps {
		if strings.TrimSpace(s) == "" {
			continue
		}
		plan.AddStep(s)
	}

	userRequest := pf.UserRequest
	if userRequest == "" {
		userRequest = pf.Title
	}
	return NewExecutionContext(plan, userRequest), nil
}

// LoadPlanFile reads and parses a YAML plan file.
func LoadPlanFile(path string) (*ExecutionContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParsePlan(data)
}
