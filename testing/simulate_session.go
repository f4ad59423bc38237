// Command simulate_session plays a full simulation without a human: a
// second Gemini model invents a scenario and answers every task. Useful
// for exercising generation, completion, and analysis end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"skillsim/internal/config"
	"skillsim/internal/engine"
	"skillsim/internal/models"
	"skillsim/internal/session"
)

type discardStore struct{}

func (discardStore) Save(*models.Session) error { return nil }
func (discardStore) Clear() error               { return nil }

func main() {
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	eng, err := engine.NewEngine(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()

	// The player LLM invents the scenario and answers the tasks.
	playerClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create player client: %v", err)
	}
	defer playerClient.Close()
	playerModel := playerClient.GenerativeModel(cfg.Model)

	fmt.Println("--- Step 1: Requesting a scenario from the player LLM ---")
	scenario := ask(ctx, playerModel,
		"Invent a short, concrete professional scenario someone might want to practice "+
			"(e.g. 'Launch a bakery', 'Run a hospital night shift'). Return ONLY the scenario string.",
		"Launch a bakery")
	fmt.Printf("Player chose: %s\n\n", scenario)

	fmt.Println("--- Step 2: Generating the simulation ---")
	machine := session.NewMachine(discardStore{})
	epoch, err := machine.Start(scenario, "6 months")
	if err != nil {
		log.Fatalf("Start: %v", err)
	}
	plan, err := eng.GenerateSimulation(ctx, scenario, "6 months")
	machine.ApplyGeneration(epoch, plan, err)
	if machine.View() != session.ViewSimulation {
		log.Fatalf("Generation failed: %s", machine.ErrMessage())
	}
	fmt.Printf("Skills: %v\n", plan.Skills)
	fmt.Printf("Tasks: %d\n\n", len(plan.Tasks))

	for turn := 1; ; turn++ {
		task, ok := machine.CurrentTask()
		if !ok {
			break
		}
		fmt.Printf("--- Task %d: %s ---\n", turn, task.Question)

		answer := answerTask(ctx, playerModel, scenario, task)
		fmt.Printf("Player answer: %s\n", answer)

		done, err := machine.ConfirmAnswer(answer, "")
		if err != nil {
			log.Fatalf("ConfirmAnswer: %v", err)
		}
		s := machine.Session()
		if !done {
			fmt.Printf("Skills so far: %v, inventory: %d items\n\n", s.Skills, len(s.Inventory))
			continue
		}

		last := machine.LastRun()
		fmt.Println("\n--- Simulation complete ---")
		fmt.Printf("Final skills: %v\n", last.Skills)
		fmt.Printf("Artifacts produced: %d\n", len(last.Inventory))

		fmt.Println("\n--- Step 3: Performance analysis ---")
		analysis, err := eng.AnalyzePerformance(ctx, scenario, last.History)
		if err != nil {
			fmt.Printf("Analysis failed: %v\n", err)
			break
		}
		fmt.Println(analysis)
		break
	}
}

func answerTask(ctx context.Context, model *genai.GenerativeModel, scenario string, task models.Task) string {
	prompt := fmt.Sprintf(`You are playing a training simulation about: %s

%s

Question: %s
`, scenario, task.Description, task.Question)

	if task.Type == models.TaskMultipleChoice {
		prompt += fmt.Sprintf("Options: %v\nPick one option and return ONLY its text.\n", task.Options)
	} else {
		prompt += "Answer in one or two sentences. Return ONLY the answer.\n"
	}

	return ask(ctx, model, prompt, "I would ask my mentor for advice.")
}

func ask(ctx context.Context, model *genai.GenerativeModel, prompt, fallback string) string {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return fallback
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return fallback
	}
	return strings.TrimSpace(fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]))
}
