package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"skillsim/internal/models"
)

type fakeStore struct {
	saves   []models.Session
	clears  int
	saveErr error
}

func (f *fakeStore) Save(s *models.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, *s)
	return nil
}

func (f *fakeStore) Clear() error {
	f.clears++
	return nil
}

func bakeryPlan() *models.SimulationPlan {
	return &models.SimulationPlan{
		Skills: []string{"Budgeting", "Marketing"},
		Tasks: []models.Task{
			{
				Description: "Plan your grand opening",
				Question:    "What is your budget?",
				Type:        models.TaskMath,
				Skills:      []string{"Budgeting"},
			},
		},
	}
}

func twoTaskPlan() *models.SimulationPlan {
	return &models.SimulationPlan{
		Skills: []string{"Budgeting", "Marketing"},
		Tasks: []models.Task{
			{
				Description: "Plan your grand opening",
				Question:    "What is your budget?",
				Type:        models.TaskMath,
				Skills:      []string{"Budgeting"},
			},
			{
				Description: "Talk to a supplier",
				Question:    "What do you say?",
				Type:        models.TaskRolePlay,
				Skills:      []string{"Marketing"},
				Character:   "A flour wholesaler",
			},
		},
	}
}

func startSimulation(t *testing.T, m *Machine, plan *models.SimulationPlan) {
	t.Helper()
	epoch, err := m.Start("Launch a bakery", "1 year")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.ApplyGeneration(epoch, plan, nil)
	if m.View() != ViewSimulation {
		t.Fatalf("expected simulation view, got %v (%s)", m.View(), m.ErrMessage())
	}
}

func TestStartRequiresScenario(t *testing.T) {
	m := NewMachine(&fakeStore{})

	if _, err := m.Start("   ", "1 year"); !errors.Is(err, ErrEmptyScenario) {
		t.Fatalf("expected ErrEmptyScenario, got %v", err)
	}
	if m.View() != ViewError {
		t.Errorf("expected error view, got %v", m.View())
	}

	m.AcknowledgeError()
	if m.View() != ViewSetup {
		t.Errorf("expected setup view after acknowledge, got %v", m.View())
	}
	if _, err := m.Start("Launch a bakery", "1 year"); err != nil {
		t.Errorf("guard not released after validation failure: %v", err)
	}
}

func TestGenerationPopulatesFreshSession(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)
	startSimulation(t, m, bakeryPlan())

	s := m.Session()
	if s.Scenario != "Launch a bakery" || s.Duration != "1 year" {
		t.Errorf("scenario/duration not carried over: %q %q", s.Scenario, s.Duration)
	}
	if s.CurrentTask != 0 {
		t.Errorf("expected position 0, got %d", s.CurrentTask)
	}
	if len(s.History) != 0 || len(s.Inventory) != 0 || s.Analysis != "" {
		t.Errorf("history/inventory/analysis not reset: %+v", s)
	}
	if len(s.Skills) != 2 || s.Skills["Budgeting"] != 0 || s.Skills["Marketing"] != 0 {
		t.Errorf("expected zeroed tally per declared skill, got %v", s.Skills)
	}
	if len(store.saves) != 1 {
		t.Errorf("expected 1 snapshot write, got %d", len(store.saves))
	}
}

func TestGenerationFailureIsFatalToTransition(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)

	epoch, err := m.Start("Launch a bakery", "1 year")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.ApplyGeneration(epoch, nil, fmt.Errorf("no JSON object found in model response"))

	if m.View() != ViewError {
		t.Fatalf("expected error view, got %v", m.View())
	}
	if m.ErrMessage() == "" {
		t.Error("expected a diagnostic message")
	}
	if len(m.Session().Tasks) != 0 {
		t.Error("session must not be created on generation failure")
	}
	if len(store.saves) != 0 {
		t.Error("nothing should be persisted on generation failure")
	}
}

func TestGenerationGuardRejectsOverlap(t *testing.T) {
	m := NewMachine(&fakeStore{})
	if _, err := m.Start("Launch a bakery", "1 year"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start("Another scenario", "1 week"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping generation, got %v", err)
	}
}

func TestConfirmAnswerRequiresAnswer(t *testing.T) {
	m := NewMachine(&fakeStore{})
	startSimulation(t, m, twoTaskPlan())

	if _, err := m.ConfirmAnswer("  ", ""); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if len(m.Session().History) != 0 {
		t.Error("no history should be recorded for a rejected answer")
	}
}

func TestConfirmAnswerAdvances(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)
	startSimulation(t, m, twoTaskPlan())

	when := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return when }

	done, err := m.ConfirmAnswer("2000", "felt unsure about rent")
	if err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}
	if done {
		t.Fatal("first of two tasks must not complete the run")
	}

	s := m.Session()
	if s.CurrentTask != 1 {
		t.Errorf("expected position 1, got %d", s.CurrentTask)
	}
	if len(s.Tasks) != 2 {
		t.Errorf("task list length changed: %d", len(s.Tasks))
	}
	if len(s.History) != 1 {
		t.Fatalf("expected 1 history item, got %d", len(s.History))
	}
	h := s.History[0]
	if h.Answer != "2000" || h.Feedback != "felt unsure about rent" || !h.Timestamp.Equal(when) {
		t.Errorf("history item not recorded faithfully: %+v", h)
	}
	if s.Skills["Budgeting"] != 1 || s.Skills["Marketing"] != 0 {
		t.Errorf("expected only the listed skill incremented, got %v", s.Skills)
	}
	// "Plan your grand opening" mentions a plan.
	if len(s.Inventory) != 1 {
		t.Fatalf("expected 1 inventory item, got %d", len(s.Inventory))
	}
	if s.Inventory[0].SourceTask != 0 {
		t.Errorf("inventory item references task %d, want 0", s.Inventory[0].SourceTask)
	}
	// Generation + completion snapshots.
	if len(store.saves) != 2 {
		t.Errorf("expected 2 snapshot writes, got %d", len(store.saves))
	}
}

func TestConfirmAnswerFinalTaskEndsRun(t *testing.T) {
	m := NewMachine(&fakeStore{})
	startSimulation(t, m, bakeryPlan())

	done, err := m.ConfirmAnswer("2000", "")
	if err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}
	if !done {
		t.Fatal("final task must complete the run")
	}
	if m.View() != ViewSetup {
		t.Errorf("expected setup view after final task, got %v", m.View())
	}
	if len(m.Session().Tasks) != 0 {
		t.Error("active session must be discarded after completion")
	}

	last := m.LastRun()
	if last == nil {
		t.Fatal("expected the finished run to be available for the summary")
	}
	if last.Skills["Budgeting"] != 1 || last.Skills["Marketing"] != 0 {
		t.Errorf("finished run tallies wrong: %v", last.Skills)
	}
	if len(last.History) != 1 || last.History[0].Answer != "2000" {
		t.Errorf("finished run history wrong: %+v", last.History)
	}
	if len(last.Inventory) != 1 {
		t.Errorf("expected the plan artifact in the finished run, got %d items", len(last.Inventory))
	}
}

func TestArtifactKeywordMatching(t *testing.T) {
	tests := []struct {
		description string
		want        bool
	}{
		{"Write the quarterly REPORT for the board", true},
		{"Plan your grand opening", true},
		{"Review the onboarding Document", true},
		{"Ship the first product batch", true},
		{"Talk to a supplier about prices", false},
	}
	for _, tt := range tests {
		if _, got := artifactKeyword(tt.description); got != tt.want {
			t.Errorf("artifactKeyword(%q) = %v, want %v", tt.description, got, tt.want)
		}
	}
}

func TestDeepDiveInsertsAfterCurrent(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)
	startSimulation(t, m, twoTaskPlan())

	if _, err := m.ConfirmAnswer("2000", ""); err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}
	item := m.Session().Inventory[0]

	req, epoch, err := m.StartDeepDive(item)
	if err != nil {
		t.Fatalf("StartDeepDive: %v", err)
	}
	if req.Scenario != "Launch a bakery" {
		t.Errorf("request scenario = %q", req.Scenario)
	}
	if req.TaskDescription != "Plan your grand opening" {
		t.Errorf("request task description = %q", req.TaskDescription)
	}
	if req.Answer != "2000" {
		t.Errorf("request answer = %q, want the recorded answer", req.Answer)
	}

	if _, _, err := m.StartDeepDive(item); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping deep dive, got %v", err)
	}

	extra := models.Task{
		Description: "Stress-test the opening budget",
		Question:    "Which line item would you cut first?",
		Type:        models.TaskFreeText,
		Skills:      []string{"Budgeting"},
	}
	if err := m.ApplyDeepDive(epoch, &extra, nil); err != nil {
		t.Fatalf("ApplyDeepDive: %v", err)
	}

	s := m.Session()
	if len(s.Tasks) != 3 {
		t.Fatalf("expected 3 tasks after insertion, got %d", len(s.Tasks))
	}
	if s.Tasks[s.CurrentTask+1].Description != extra.Description {
		t.Error("task not inserted immediately after the current one")
	}
	if s.CurrentTask != 1 {
		t.Errorf("position changed by insertion: %d", s.CurrentTask)
	}
	if len(s.History) != 1 || len(s.Inventory) != 1 || s.Skills["Budgeting"] != 1 {
		t.Error("deep dive must not touch history, inventory, or tallies")
	}
}

func TestDeepDiveFailureIsLocal(t *testing.T) {
	m := NewMachine(&fakeStore{})
	startSimulation(t, m, twoTaskPlan())
	m.ConfirmAnswer("2000", "")

	_, epoch, err := m.StartDeepDive(m.Session().Inventory[0])
	if err != nil {
		t.Fatalf("StartDeepDive: %v", err)
	}
	if err := m.ApplyDeepDive(epoch, nil, fmt.Errorf("service unavailable")); err == nil {
		t.Fatal("expected an inline error")
	}

	if m.View() != ViewSimulation {
		t.Error("deep dive failure must not leave the simulation")
	}
	if len(m.Session().Tasks) != 2 {
		t.Error("task list must be untouched on failure")
	}
	if _, _, err := m.StartDeepDive(m.Session().Inventory[0]); err != nil {
		t.Errorf("guard not released after failure: %v", err)
	}
}

func TestAnalysisRequiresHistory(t *testing.T) {
	m := NewMachine(&fakeStore{})
	startSimulation(t, m, twoTaskPlan())

	if _, err := m.StartAnalysis(); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestAnalysisStoresTextVerbatim(t *testing.T) {
	m := NewMachine(&fakeStore{})
	startSimulation(t, m, twoTaskPlan())
	m.ConfirmAnswer("2000", "")

	epoch, err := m.StartAnalysis()
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	m.ApplyAnalysis(epoch, "## Strengths\nSolid budgeting instincts.", nil)
	if got := m.Session().Analysis; got != "## Strengths\nSolid budgeting instincts." {
		t.Errorf("analysis not stored verbatim: %q", got)
	}

	epoch, err = m.StartAnalysis()
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	m.ApplyAnalysis(epoch, "", fmt.Errorf("service unavailable"))
	if got := m.Session().Analysis; got != AnalysisFallback {
		t.Errorf("expected fallback message on failure, got %q", got)
	}
}

func TestResetClearsSlotAndDiscardsLateResults(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)

	epoch, err := m.Start("Launch a bakery", "1 year")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if store.clears != 1 {
		t.Errorf("expected the slot cleared once, got %d", store.clears)
	}

	// The generation launched before the reset lands afterwards.
	m.ApplyGeneration(epoch, bakeryPlan(), nil)
	if m.View() != ViewSetup {
		t.Errorf("late result must not revive a cleared session, view = %v", m.View())
	}
	if len(m.Session().Tasks) != 0 {
		t.Error("late result must be discarded")
	}
	if len(store.saves) != 0 {
		t.Error("late result must not be persisted")
	}
}

func TestStartRejectedWhileSimulationActive(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)
	startSimulation(t, m, twoTaskPlan())

	if _, err := m.Start("Run a food truck", "1 month"); !errors.Is(err, ErrActiveSession) {
		t.Fatalf("expected ErrActiveSession, got %v", err)
	}
	if m.View() != ViewSimulation {
		t.Errorf("rejected start must not change the view, got %v", m.View())
	}
	if m.Session().Scenario != "Launch a bakery" {
		t.Error("rejected start must not touch the active session")
	}
}

func TestLateResultsAfterRunReplacedAreDiscarded(t *testing.T) {
	store := &fakeStore{}
	m := NewMachine(store)
	startSimulation(t, m, twoTaskPlan())

	// Run 1: launch a deep dive and an analysis, then finish the run
	// before either lands.
	if _, err := m.ConfirmAnswer("2000", ""); err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}
	_, diveEpoch, err := m.StartDeepDive(m.Session().Inventory[0])
	if err != nil {
		t.Fatalf("StartDeepDive: %v", err)
	}
	analysisEpoch, err := m.StartAnalysis()
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	done, err := m.ConfirmAnswer("I negotiate bulk pricing.", "")
	if err != nil || !done {
		t.Fatalf("finishing run 1: done=%v err=%v", done, err)
	}

	// Run 2.
	startSimulation(t, m, bakeryPlan())
	if m.InFlight(ActionDeepDive) || m.InFlight(ActionAnalysis) {
		t.Error("guards from the finished run must be released")
	}

	stale := models.Task{
		Description: "Stress-test the opening budget",
		Question:    "Which line item would you cut first?",
		Type:        models.TaskFreeText,
		Skills:      []string{"Budgeting"},
	}
	if err := m.ApplyDeepDive(diveEpoch, &stale, nil); err != nil {
		t.Fatalf("ApplyDeepDive: %v", err)
	}
	if got := len(m.Session().Tasks); got != 1 {
		t.Errorf("a deep dive from the finished run leaked into the new one: %d tasks", got)
	}

	m.ApplyAnalysis(analysisEpoch, "analysis of the finished run", nil)
	if got := m.Session().Analysis; got != "" {
		t.Errorf("an analysis from the finished run leaked into the new one: %q", got)
	}
}

func TestChatTurnGuard(t *testing.T) {
	m := NewMachine(&fakeStore{})
	if err := m.Begin(ActionChatTurn); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Begin(ActionChatTurn); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping chat turn, got %v", err)
	}
	m.End(ActionChatTurn)
	if err := m.Begin(ActionChatTurn); err != nil {
		t.Errorf("guard not released: %v", err)
	}
}

func TestRestore(t *testing.T) {
	saved := &models.Session{
		Scenario:    "Launch a bakery",
		Duration:    "1 year",
		Tasks:       twoTaskPlan().Tasks,
		CurrentTask: 1,
		History: []models.HistoryItem{
			{Task: twoTaskPlan().Tasks[0], Answer: "2000"},
		},
		Skills: map[string]int{"Budgeting": 1, "Marketing": 0},
	}

	m := NewMachine(&fakeStore{})
	m.Restore(saved)
	if m.View() != ViewSimulation {
		t.Fatalf("expected simulation view after restore, got %v", m.View())
	}
	if m.Session().CurrentTask != 1 || len(m.Session().History) != 1 {
		t.Error("restored fields must be taken verbatim from the snapshot")
	}

	m2 := NewMachine(&fakeStore{})
	m2.Restore(nil)
	if m2.View() != ViewSetup {
		t.Errorf("nil snapshot must leave the machine at setup, got %v", m2.View())
	}
	m2.Restore(&models.Session{Scenario: "empty"})
	if m2.View() != ViewSetup {
		t.Errorf("taskless snapshot must leave the machine at setup, got %v", m2.View())
	}
}

func TestRestoreRejectsCorruptPosition(t *testing.T) {
	for _, position := range []int{5, 1, -1} {
		saved := &models.Session{
			Scenario: "Launch a bakery",
			Tasks:    bakeryPlan().Tasks, // one task, so only position 0 is valid
			Skills:   map[string]int{"Budgeting": 0},
		}
		saved.CurrentTask = position

		m := NewMachine(&fakeStore{})
		m.Restore(saved)
		if m.View() != ViewSetup {
			t.Errorf("position %d: expected setup view, got %v", position, m.View())
			continue
		}
		// Setup must behave as if there were no snapshot at all.
		if _, ok := m.CurrentTask(); ok {
			t.Errorf("position %d: no task should be presentable", position)
		}
		if _, err := m.Start("Launch a bakery", "1 year"); err != nil {
			t.Errorf("position %d: machine unusable after rejected snapshot: %v", position, err)
		}
	}
}
