package models

import "time"

// TaskType declares how a task expects to be answered.
type TaskType string

const (
	TaskMultipleChoice TaskType = "multipleChoice"
	TaskFreeText       TaskType = "freeText"
	TaskMath           TaskType = "math"
	TaskCoding         TaskType = "coding"
	TaskRolePlay       TaskType = "rolePlay"
)

// KnownTaskType reports whether t is one of the declared answer modalities.
func KnownTaskType(t TaskType) bool {
	switch t {
	case TaskMultipleChoice, TaskFreeText, TaskMath, TaskCoding, TaskRolePlay:
		return true
	}
	return false
}

// Task is a single unit of work presented to the user. Immutable once
// generated; new tasks enter the sequence only via deep-dive insertion.
type Task struct {
	Description string   `yaml:"description" json:"description"`
	Question    string   `yaml:"question" json:"question"`
	Type        TaskType `yaml:"task_type" json:"taskType"`
	Options     []string `yaml:"options,omitempty" json:"options,omitempty"`     // multipleChoice only
	Skills      []string `yaml:"skills" json:"skills"`
	Character   string   `yaml:"character,omitempty" json:"character,omitempty"` // rolePlay only
}

// HistoryItem records one completed task. Append-only.
type HistoryItem struct {
	Task      Task      `yaml:"task"`
	Answer    string    `yaml:"answer"`
	Feedback  string    `yaml:"feedback,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`
}

// InventoryItem is an artifact produced by completing a task whose
// description mentions a deliverable. Append-only.
type InventoryItem struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	SourceTask  int    `yaml:"source_task"` // index into Session.Tasks
}

// Session aggregates all state of one simulation run.
type Session struct {
	Scenario    string          `yaml:"scenario"`
	Duration    string          `yaml:"duration"`
	Tasks       []Task          `yaml:"tasks"`
	CurrentTask int             `yaml:"current_task"`
	History     []HistoryItem   `yaml:"history"`
	Inventory   []InventoryItem `yaml:"inventory"`
	Skills      map[string]int  `yaml:"skills"` // skill name -> times exercised
	Analysis    string          `yaml:"analysis,omitempty"`
}

// SimulationPlan is the backend's answer to a full scenario generation:
// the skills the scenario will exercise and the task sequence.
type SimulationPlan struct {
	Skills []string `json:"skills"`
	Tasks  []Task   `json:"tasks"`
}

// DeepDiveRequest asks the backend for exactly one follow-up task
// derived from an inventory item. Answer is empty when no history entry
// matches the sourcing task.
type DeepDiveRequest struct {
	Scenario        string
	Item            InventoryItem
	TaskDescription string
	Answer          string
}
