// Package session holds the simulation state machine. The Machine owns
// the Session aggregate; the view layer reads it and mutates it only
// through transition methods. Backend calls happen outside the machine:
// a Start* method validates the intent, takes the admission guard for
// that action kind, and hands back an epoch; the matching Apply* method
// applies the result, unless the session it was launched against has
// since been reset, replaced, or finished, which bumps the epoch.
package session

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"skillsim/internal/models"
)

// View is the current top-level screen of the simulation.
type View int

const (
	ViewSetup View = iota
	ViewLoading
	ViewSimulation
	ViewError
)

// Action identifies a kind of backend request. At most one request per
// kind may be outstanding.
type Action int

const (
	ActionGenerate Action = iota
	ActionDeepDive
	ActionAnalysis
	ActionChatTurn
)

// Store mirrors the session to durable storage after every
// simulation-relevant mutation.
type Store interface {
	Save(*models.Session) error
	Clear() error
}

var (
	// ErrBusy rejects a request while one of the same kind is outstanding.
	ErrBusy = errors.New("a request of this kind is already in flight")
	// ErrEmptyScenario rejects starting without a scenario.
	ErrEmptyScenario = errors.New("please describe the scenario you want to practice")
	// ErrEmptyAnswer rejects confirming a task without an answer.
	ErrEmptyAnswer = errors.New("an answer is required before moving on")
	// ErrNoHistory rejects analysis before any task is completed.
	ErrNoHistory = errors.New("complete at least one task first")
	// ErrActiveSession rejects starting over an active simulation.
	ErrActiveSession = errors.New("a simulation is already active; reset it first")
)

// AnalysisFallback is stored when the analysis request fails.
const AnalysisFallback = "The performance analysis could not be generated. Please try again later."

// Completing a task whose description mentions one of these produces an
// inventory artifact.
var artifactKeywords = []string{"report", "plan", "document", "product"}

type Machine struct {
	view    view
	session models.Session
	lastRun *models.Session

	// pending inputs held between Start and ApplyGeneration
	pendingScenario string
	pendingDuration string

	epoch    int
	inflight map[Action]bool

	store Store
	now   func() time.Time
}

type view struct {
	current View
	errMsg  string
}

func NewMachine(store Store) *Machine {
	return &Machine{
		view:     view{current: ViewSetup},
		inflight: make(map[Action]bool),
		store:    store,
		now:      time.Now,
	}
}

// Restore loads a saved snapshot at startup. Only a snapshot with tasks
// and an in-range position is restorable; anything else leaves the
// machine in setup. Corrupt snapshots are logged, never fatal.
func (m *Machine) Restore(s *models.Session) {
	if s == nil || len(s.Tasks) == 0 {
		return
	}
	if s.CurrentTask < 0 || s.CurrentTask >= len(s.Tasks) {
		log.Printf("ignoring saved session: position %d out of range for %d tasks", s.CurrentTask, len(s.Tasks))
		return
	}
	m.session = *s
	m.view.current = ViewSimulation
}

func (m *Machine) View() View          { return m.view.current }
func (m *Machine) ErrMessage() string  { return m.view.errMsg }
func (m *Machine) Epoch() int          { return m.epoch }
func (m *Machine) InFlight(a Action) bool { return m.inflight[a] }

// Session exposes the aggregate for rendering. Callers must not mutate
// it; all mutation goes through transition methods.
func (m *Machine) Session() *models.Session { return &m.session }

// LastRun returns the most recently completed run, for the completion
// summary. Nil until a run finishes; cleared by the next generation and
// by reset.
func (m *Machine) LastRun() *models.Session { return m.lastRun }

// CurrentTask returns the task awaiting an answer.
func (m *Machine) CurrentTask() (models.Task, bool) {
	if m.view.current != ViewSimulation || len(m.session.Tasks) == 0 {
		return models.Task{}, false
	}
	return m.session.Tasks[m.session.CurrentTask], true
}

// Begin takes the admission guard for an action kind. The view layer
// uses it directly for chat turns; the other kinds are taken by their
// Start methods.
func (m *Machine) Begin(a Action) error {
	if m.inflight[a] {
		return ErrBusy
	}
	m.inflight[a] = true
	return nil
}

// End releases an admission guard.
func (m *Machine) End(a Action) {
	delete(m.inflight, a)
}

// Start validates the setup inputs and moves to loading. The returned
// epoch must be echoed back to ApplyGeneration. Starting is only legal
// from setup; an active simulation must be reset or finished first.
func (m *Machine) Start(scenario, duration string) (int, error) {
	if m.inflight[ActionGenerate] {
		return 0, ErrBusy
	}
	if m.view.current != ViewSetup {
		return 0, ErrActiveSession
	}
	if err := m.Begin(ActionGenerate); err != nil {
		return 0, err
	}
	if strings.TrimSpace(scenario) == "" {
		m.End(ActionGenerate)
		m.fail(ErrEmptyScenario.Error())
		return 0, ErrEmptyScenario
	}

	m.pendingScenario = strings.TrimSpace(scenario)
	m.pendingDuration = strings.TrimSpace(duration)
	m.view = view{current: ViewLoading}
	return m.epoch, nil
}

// ApplyGeneration finishes a generation request. A fresh session is
// populated wholesale: history, inventory, and analysis reset, one
// zeroed tally per declared skill, position at the first task. Failures
// are fatal to the attempted transition and land on the error view.
func (m *Machine) ApplyGeneration(epoch int, plan *models.SimulationPlan, genErr error) {
	if m.stale(epoch) {
		return
	}
	m.End(ActionGenerate)

	if genErr != nil {
		m.fail(fmt.Sprintf("Could not generate the simulation: %v", genErr))
		return
	}
	if plan == nil || len(plan.Skills) == 0 || len(plan.Tasks) == 0 {
		m.fail("Could not generate the simulation: the response was missing skills or tasks.")
		return
	}

	skills := make(map[string]int, len(plan.Skills))
	for _, name := range plan.Skills {
		skills[name] = 0
	}
	m.session = models.Session{
		Scenario: m.pendingScenario,
		Duration: m.pendingDuration,
		Tasks:    plan.Tasks,
		Skills:   skills,
	}
	m.lastRun = nil
	m.retire()
	m.view = view{current: ViewSimulation}
	m.persist()
}

// ConfirmAnswer completes the current task: records the history item,
// bumps each listed skill's tally, and mints an inventory artifact when
// the task description mentions a deliverable. Returns true when the
// just-completed task was the last one, in which case the run is over
// and the machine is back at setup; the stored snapshot is left intact
// until overwritten or reset.
func (m *Machine) ConfirmAnswer(answer, feedback string) (bool, error) {
	if m.view.current != ViewSimulation || len(m.session.Tasks) == 0 {
		return false, fmt.Errorf("no task to answer")
	}
	if strings.TrimSpace(answer) == "" {
		return false, ErrEmptyAnswer
	}

	idx := m.session.CurrentTask
	task := m.session.Tasks[idx]

	m.session.History = append(m.session.History, models.HistoryItem{
		Task:      task,
		Answer:    answer,
		Feedback:  strings.TrimSpace(feedback),
		Timestamp: m.now(),
	})
	if m.session.Skills == nil {
		m.session.Skills = make(map[string]int)
	}
	for _, skill := range task.Skills {
		m.session.Skills[skill]++
	}
	if kw, ok := artifactKeyword(task.Description); ok {
		m.session.Inventory = append(m.session.Inventory, models.InventoryItem{
			Name:        fmt.Sprintf("%s%s from task %d", strings.ToUpper(kw[:1]), kw[1:], idx+1),
			Description: fmt.Sprintf("Produced while answering: %q", task.Question),
			SourceTask:  idx,
		})
	}

	if idx == len(m.session.Tasks)-1 {
		finished := m.session
		m.lastRun = &finished
		m.session = models.Session{}
		m.retire()
		m.view = view{current: ViewSetup}
		return true, nil
	}

	m.session.CurrentTask++
	m.persist()
	return false, nil
}

func artifactKeyword(description string) (string, bool) {
	lower := strings.ToLower(description)
	for _, kw := range artifactKeywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// StartDeepDive builds the backend request for one follow-up task
// derived from an inventory item and takes the deep-dive guard.
func (m *Machine) StartDeepDive(item models.InventoryItem) (models.DeepDiveRequest, int, error) {
	if m.view.current != ViewSimulation {
		return models.DeepDiveRequest{}, 0, fmt.Errorf("no active simulation")
	}
	if err := m.Begin(ActionDeepDive); err != nil {
		return models.DeepDiveRequest{}, 0, err
	}

	req := models.DeepDiveRequest{
		Scenario: m.session.Scenario,
		Item:     item,
	}
	if item.SourceTask >= 0 && item.SourceTask < len(m.session.Tasks) {
		source := m.session.Tasks[item.SourceTask]
		req.TaskDescription = source.Description
		for _, h := range m.session.History {
			if h.Task.Description == source.Description && h.Task.Question == source.Question {
				req.Answer = h.Answer
				break
			}
		}
	}
	return req, m.epoch, nil
}

// ApplyDeepDive inserts the generated task immediately after the
// current one. Position, history, inventory, and tallies are untouched.
// Failures are local: the session stays intact and the error is
// returned for inline display.
func (m *Machine) ApplyDeepDive(epoch int, task *models.Task, genErr error) error {
	if m.stale(epoch) {
		return nil
	}
	m.End(ActionDeepDive)

	if genErr != nil {
		return fmt.Errorf("deep dive failed: %w", genErr)
	}
	if m.view.current != ViewSimulation {
		return nil
	}

	at := m.session.CurrentTask + 1
	m.session.Tasks = slices.Insert(m.session.Tasks, at, *task)
	m.persist()
	return nil
}

// StartAnalysis takes the analysis guard. Requires at least one
// completed task.
func (m *Machine) StartAnalysis() (int, error) {
	if m.view.current != ViewSimulation {
		return 0, fmt.Errorf("no active simulation")
	}
	if len(m.session.History) == 0 {
		return 0, ErrNoHistory
	}
	if err := m.Begin(ActionAnalysis); err != nil {
		return 0, err
	}
	return m.epoch, nil
}

// ApplyAnalysis stores the analysis text verbatim, or the fixed
// fallback on failure. Either way the previous value is replaced.
func (m *Machine) ApplyAnalysis(epoch int, text string, genErr error) {
	if m.stale(epoch) {
		return
	}
	m.End(ActionAnalysis)

	if m.view.current != ViewSimulation {
		return
	}
	if genErr != nil {
		m.session.Analysis = AnalysisFallback
	} else {
		m.session.Analysis = text
	}
	m.persist()
}

// Reset clears the saved snapshot and returns to setup. Results of
// requests still in flight are discarded when they arrive: the epoch
// has moved on and there is no session left to apply them to.
func (m *Machine) Reset() error {
	err := m.store.Clear()
	if err != nil {
		log.Printf("clearing saved session: %v", err)
	}
	m.retire()
	m.session = models.Session{}
	m.lastRun = nil
	m.pendingScenario = ""
	m.pendingDuration = ""
	m.view = view{current: ViewSetup}
	return err
}

// retire invalidates every request launched against the session that is
// being replaced or discarded. Their results land with an old epoch and
// are dropped; the guards they held are released.
func (m *Machine) retire() {
	m.epoch++
	m.inflight = make(map[Action]bool)
}

// AcknowledgeError returns from the error view to setup.
func (m *Machine) AcknowledgeError() {
	if m.view.current == ViewError {
		m.view = view{current: ViewSetup}
	}
}

func (m *Machine) fail(msg string) {
	m.view = view{current: ViewError, errMsg: msg}
}

func (m *Machine) stale(epoch int) bool {
	return epoch != m.epoch
}

func (m *Machine) persist() {
	if m.view.current != ViewSimulation || len(m.session.Tasks) == 0 {
		return
	}
	if err := m.store.Save(&m.session); err != nil {
		log.Printf("saving session: %v", err)
	}
}
