package engine

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"skillsim/internal/models"
)

//go:embed prompts/generate_simulation.txt
var generateSimulationPrompt string

//go:embed prompts/deep_dive.txt
var deepDivePrompt string

//go:embed prompts/analyze_performance.txt
var analyzePerformancePrompt string

//go:embed prompts/mentor_preamble.txt
var mentorPreamblePrompt string

type Engine struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewEngine(ctx context.Context, apiKey, modelName string) (*Engine, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &Engine{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

func (e *Engine) Close() {
	e.client.Close()
}

// GenerateSimulation asks the backend for a full simulation plan: the
// skill list and the task sequence for the scenario.
func (e *Engine) GenerateSimulation(ctx context.Context, scenario, duration string) (*models.SimulationPlan, error) {
	tmpl, err := template.New("generate_simulation").Parse(generateSimulationPrompt)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := struct {
		Scenario string
		Duration string
	}{Scenario: scenario, Duration: duration}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}

	text, err := e.generate(ctx, buf.String())
	if err != nil {
		return nil, err
	}
	return decodePlan(text)
}

// GenerateDeepDive asks the backend for exactly one follow-up task
// derived from an inventory item.
func (e *Engine) GenerateDeepDive(ctx context.Context, req models.DeepDiveRequest) (*models.Task, error) {
	tmpl, err := template.New("deep_dive").Parse(deepDivePrompt)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return nil, err
	}

	text, err := e.generate(ctx, buf.String())
	if err != nil {
		return nil, err
	}
	return decodeTask(text)
}

// AnalyzePerformance asks the backend for a free-form review of every
// answer given so far. The result is returned verbatim.
func (e *Engine) AnalyzePerformance(ctx context.Context, scenario string, history []models.HistoryItem) (string, error) {
	tmpl, err := template.New("analyze_performance").Parse(analyzePerformancePrompt)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	data := struct {
		Scenario string
		History  string
	}{Scenario: scenario, History: historyTranscript(history)}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	text, err := e.generate(ctx, buf.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return b.String(), nil
}

// historyTranscript flattens the history into the chronological
// question/answer/feedback block the analysis and mentor prompts share.
func historyTranscript(history []models.HistoryItem) string {
	if len(history) == 0 {
		return "(no tasks completed yet)"
	}

	var b strings.Builder
	for i, item := range history {
		fmt.Fprintf(&b, "Task %d: %s\n", i+1, item.Task.Question)
		fmt.Fprintf(&b, "Answer: %s\n", item.Answer)
		if item.Feedback != "" {
			fmt.Fprintf(&b, "User's own notes: %s\n", item.Feedback)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
