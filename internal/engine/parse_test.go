package engine

import (
	"strings"
	"testing"

	"skillsim/internal/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		fails bool
	}{
		{
			name:  "bare object",
			input: `{"skills": ["Budgeting"]}`,
			want:  `{"skills": ["Budgeting"]}`,
		},
		{
			name:  "fenced object",
			input: "```json\n{\"skills\": [\"Budgeting\"]}\n```",
			want:  `{"skills": ["Budgeting"]}`,
		},
		{
			name:  "commentary around object",
			input: "Here is your simulation:\n{\"skills\": []}\nGood luck!",
			want:  `{"skills": []}`,
		},
		{
			name:  "no object",
			input: "I cannot help with that.",
			fails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if tt.fails {
				if err == nil {
					t.Fatalf("expected an error, got %q", got)
				}
				if !strings.Contains(err.Error(), "no JSON object found") {
					t.Errorf("unexpected diagnostic: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodePlan(t *testing.T) {
	text := "```json\n" + `{
		"skills": ["Budgeting", "Marketing"],
		"tasks": [
			{
				"description": "Plan your grand opening",
				"question": "What is your budget?",
				"taskType": "math",
				"skills": ["Budgeting"]
			}
		]
	}` + "\n```"

	plan, err := decodePlan(text)
	if err != nil {
		t.Fatalf("decodePlan: %v", err)
	}
	if len(plan.Skills) != 2 || len(plan.Tasks) != 1 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Tasks[0].Type != models.TaskMath {
		t.Errorf("task type = %q", plan.Tasks[0].Type)
	}
}

func TestDecodePlanRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no skills", `{"skills": [], "tasks": [{"description": "d", "question": "q", "taskType": "math", "skills": ["s"]}]}`},
		{"no tasks", `{"skills": ["s"], "tasks": []}`},
		{"task missing question", `{"skills": ["s"], "tasks": [{"description": "d", "taskType": "math", "skills": ["s"]}]}`},
		{"task with unknown type", `{"skills": ["s"], "tasks": [{"description": "d", "question": "q", "taskType": "essay", "skills": ["s"]}]}`},
		{"task listing no skills", `{"skills": ["s"], "tasks": [{"description": "d", "question": "q", "taskType": "math", "skills": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodePlan(tt.text); err == nil {
				t.Error("expected a shape error")
			}
		})
	}
}

func TestDecodeTask(t *testing.T) {
	text := `{
		"description": "Stress-test the opening budget",
		"question": "Which line item would you cut first?",
		"taskType": "freeText",
		"skills": ["Budgeting"]
	}`

	task, err := decodeTask(text)
	if err != nil {
		t.Fatalf("decodeTask: %v", err)
	}
	if task.Type != models.TaskFreeText || len(task.Skills) != 1 {
		t.Errorf("task = %+v", task)
	}
}

func TestDecodeTaskRejectsChoiceWithoutOptions(t *testing.T) {
	text := `{
		"description": "Pick a slogan",
		"question": "Which slogan fits best?",
		"taskType": "multipleChoice",
		"skills": ["Marketing"]
	}`
	if _, err := decodeTask(text); err == nil {
		t.Fatal("expected a shape error for a choice task without options")
	}
}

func TestHistoryTranscript(t *testing.T) {
	history := []models.HistoryItem{
		{
			Task:   models.Task{Question: "What is your budget?"},
			Answer: "2000",
		},
		{
			Task:     models.Task{Question: "What do you say?"},
			Answer:   "I negotiate bulk pricing.",
			Feedback: "felt rushed",
		},
	}

	got := historyTranscript(history)
	wantOrder := []string{"What is your budget?", "2000", "What do you say?", "I negotiate bulk pricing.", "felt rushed"}
	last := -1
	for _, s := range wantOrder {
		i := strings.Index(got, s)
		if i == -1 {
			t.Fatalf("transcript missing %q:\n%s", s, got)
		}
		if i < last {
			t.Fatalf("transcript out of order at %q:\n%s", s, got)
		}
		last = i
	}

	if historyTranscript(nil) == "" {
		t.Error("empty history should still produce a placeholder")
	}
}
