package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"skillsim/internal/models"
)

// extractJSON pulls the first JSON object out of a model response.
// Models routinely wrap output in markdown fences or add commentary
// around the object; everything outside the outermost braces is
// discarded.
func extractJSON(text string) (string, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object found in model response")
	}
	return clean[start : end+1], nil
}

func decodePlan(text string) (*models.SimulationPlan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var plan models.SimulationPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse simulation JSON: %v\nOutput was: %s", err, raw)
	}
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func decodeTask(text string) (*models.Task, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var task models.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("failed to parse task JSON: %v\nOutput was: %s", err, raw)
	}
	if err := validateTask(&task); err != nil {
		return nil, err
	}
	return &task, nil
}

func validatePlan(p *models.SimulationPlan) error {
	if len(p.Skills) == 0 {
		return fmt.Errorf("model response is missing the skills list")
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("model response is missing the task list")
	}
	for i := range p.Tasks {
		if err := validateTask(&p.Tasks[i]); err != nil {
			return fmt.Errorf("task %d: %w", i+1, err)
		}
	}
	return nil
}

func validateTask(t *models.Task) error {
	if t.Description == "" {
		return fmt.Errorf("task is missing a description")
	}
	if t.Question == "" {
		return fmt.Errorf("task is missing a question")
	}
	if !models.KnownTaskType(t.Type) {
		return fmt.Errorf("unknown task type %q", t.Type)
	}
	if len(t.Skills) == 0 {
		return fmt.Errorf("task lists no skills")
	}
	if t.Type == models.TaskMultipleChoice && len(t.Options) == 0 {
		return fmt.Errorf("multiple-choice task has no options")
	}
	return nil
}
