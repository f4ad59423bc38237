package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"skillsim/internal/engine"
	"skillsim/internal/models"
	"skillsim/internal/session"
)

// mode is the local presentation mode layered over the machine's view:
// modal dialogs that exist only in the UI.
type mode int

const (
	modeMain mode = iota
	modeMentor
	modeAnalysis
	modeConfirmReset
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	mentorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87D7AF"))
)

type chatMessage struct {
	fromUser bool
	text     string
}

type model struct {
	machine *session.Machine
	engine  *engine.Engine

	mode mode

	scenarioInput textinput.Model
	durationInput textinput.Model
	setupFocus    int

	answerInput   textinput.Model
	feedbackInput textinput.Model
	taskFocus     int

	chatInput  textinput.Model
	chat       *engine.MentorChat
	chatLog    []chatMessage
	chatStream *engine.Stream

	viewport viewport.Model
	spinner  spinner.Model

	simLog    string
	notice    string
	completed bool

	width  int
	height int
}

func NewModel(eng *engine.Engine, machine *session.Machine) model {
	scenario := textinput.New()
	scenario.Placeholder = "e.g. Launch a bakery"
	scenario.CharLimit = 200
	scenario.Width = 50
	scenario.Focus()

	duration := textinput.New()
	duration.Placeholder = "e.g. 1 year"
	duration.CharLimit = 50
	duration.Width = 50

	answer := textinput.New()
	answer.Placeholder = "Your answer..."
	answer.CharLimit = 500
	answer.Width = 60

	feedback := textinput.New()
	feedback.Placeholder = "Notes for yourself (optional)..."
	feedback.CharLimit = 300
	feedback.Width = 60

	chat := textinput.New()
	chat.Placeholder = "Ask your mentor..."
	chat.CharLimit = 300
	chat.Width = 60

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := model{
		machine:       machine,
		engine:        eng,
		scenarioInput: scenario,
		durationInput: duration,
		answerInput:   answer,
		feedbackInput: feedback,
		chatInput:     chat,
		spinner:       sp,
	}
	if machine.View() == session.ViewSimulation {
		m.answerInput.Focus()
		m.simLog = m.resumeLog()
	}
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

type generationMsg struct {
	epoch int
	plan  *models.SimulationPlan
	err   error
}

type deepDiveMsg struct {
	epoch int
	task  *models.Task
	err   error
}

type analysisMsg struct {
	epoch int
	text  string
	err   error
}

type chatChunkMsg struct {
	chunk string
	err   error
}

type errTimeoutMsg struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.72)
		m.viewport.Height = msg.Height - 9
		if m.machine.View() == session.ViewSimulation {
			m.viewport.SetContent(m.simLog)
			m.viewport.GotoBottom()
		}
		return m, nil

	case spinner.TickMsg:
		if m.machine.View() != session.ViewLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case generationMsg:
		m.machine.ApplyGeneration(msg.epoch, msg.plan, msg.err)
		if m.machine.View() == session.ViewSimulation {
			m.completed = false
			m.simLog = m.openingLog()
			m.ensureViewport()
			m.answerInput.Reset()
			m.answerInput.Focus()
			m.taskFocus = 0
		}
		return m, nil

	case deepDiveMsg:
		if err := m.machine.ApplyDeepDive(msg.epoch, msg.task, msg.err); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		if msg.task != nil && m.machine.View() == session.ViewSimulation {
			m.notice = ""
			m.appendLog(narratorStyle.Italic(true).Render("A deep-dive task has been added to your queue: " + msg.task.Description))
		}
		return m, nil

	case analysisMsg:
		m.machine.ApplyAnalysis(msg.epoch, msg.text, msg.err)
		if m.machine.View() == session.ViewSimulation && m.mode == modeMain {
			m.notice = ""
			m.mode = modeAnalysis
		}
		return m, nil

	case chatChunkMsg:
		return m.handleChatChunk(msg)

	case errTimeoutMsg:
		m.machine.AcknowledgeError()
		return m, nil
	}

	return m.updateInputs(msg)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case modeMentor:
		return m.handleMentorKey(msg)
	case modeAnalysis:
		if msg.Type == tea.KeyEsc || msg.Type == tea.KeyEnter {
			m.mode = modeMain
		}
		return m, nil
	case modeConfirmReset:
		if msg.String() == "y" {
			m.machine.Reset()
			m.mode = modeMain
			m.simLog = ""
			m.notice = ""
			m.completed = false
			m.scenarioInput.Reset()
			m.durationInput.Reset()
			m.scenarioInput.Focus()
			m.setupFocus = 0
			return m, nil
		}
		m.mode = modeMain
		return m, nil
	}

	switch m.machine.View() {
	case session.ViewSetup:
		return m.handleSetupKey(msg)
	case session.ViewSimulation:
		return m.handleSimulationKey(msg)
	case session.ViewError:
		if msg.Type == tea.KeyEnter || msg.Type == tea.KeyEsc {
			m.machine.AcknowledgeError()
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleSetupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.setupFocus = 1 - m.setupFocus
		if m.setupFocus == 0 {
			m.scenarioInput.Focus()
			m.durationInput.Blur()
		} else {
			m.durationInput.Focus()
			m.scenarioInput.Blur()
		}
		return m, textinput.Blink

	case tea.KeyEnter:
		epoch, err := m.machine.Start(m.scenarioInput.Value(), m.durationInput.Value())
		if err != nil {
			if m.machine.View() == session.ViewError {
				// Validation errors bounce back to setup on their own.
				return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return errTimeoutMsg{} })
			}
			return m, nil
		}
		m.completed = false
		scenario, duration := m.scenarioInput.Value(), m.durationInput.Value()
		return m, tea.Batch(m.spinner.Tick, m.generate(epoch, scenario, duration))
	}

	return m.updateInputs(msg)
}

func (m model) handleSimulationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab:
		m.taskFocus = 1 - m.taskFocus
		if m.taskFocus == 0 {
			m.answerInput.Focus()
			m.feedbackInput.Blur()
		} else {
			m.feedbackInput.Focus()
			m.answerInput.Blur()
		}
		return m, textinput.Blink

	case tea.KeyEnter:
		input := strings.TrimSpace(m.answerInput.Value())
		if strings.HasPrefix(input, "/") {
			return m.handleCommand(input)
		}
		return m.confirmAnswer()
	}

	return m.updateInputs(msg)
}

// Commands are typed into the answer input, like any chat-style TUI.
func (m model) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	m.answerInput.Reset()

	switch fields[0] {
	case "/quit":
		return m, tea.Quit

	case "/reset":
		m.mode = modeConfirmReset
		return m, nil

	case "/mentor":
		return m.openMentor()

	case "/analyze":
		epoch, err := m.machine.StartAnalysis()
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.notice = "Analyzing your performance..."
		s := m.machine.Session()
		history := append([]models.HistoryItem(nil), s.History...)
		return m, m.analyze(epoch, s.Scenario, history)

	case "/analysis":
		if m.machine.Session().Analysis == "" {
			m.notice = "No analysis yet. Run /analyze first."
			return m, nil
		}
		m.mode = modeAnalysis
		return m, nil

	case "/dive":
		if len(fields) < 2 {
			m.notice = "Usage: /dive <inventory item number>"
			return m, nil
		}
		n, err := strconv.Atoi(fields[1])
		inv := m.machine.Session().Inventory
		if err != nil || n < 1 || n > len(inv) {
			m.notice = fmt.Sprintf("No inventory item %s. You have %d.", fields[1], len(inv))
			return m, nil
		}
		req, epoch, err := m.machine.StartDeepDive(inv[n-1])
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.notice = "Generating a deep-dive task..."
		return m, m.deepDive(epoch, req)

	default:
		m.notice = "Commands: /mentor /analyze /analysis /dive N /reset /quit"
		return m, nil
	}
}

func (m model) confirmAnswer() (tea.Model, tea.Cmd) {
	task, ok := m.machine.CurrentTask()
	if !ok {
		return m, nil
	}

	answer := strings.TrimSpace(m.answerInput.Value())
	// Multiple-choice answers may be given by option number.
	if task.Type == models.TaskMultipleChoice {
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(task.Options) {
			answer = task.Options[n-1]
		}
	}

	index := m.machine.Session().CurrentTask
	done, err := m.machine.ConfirmAnswer(answer, m.feedbackInput.Value())
	if err != nil {
		m.notice = err.Error()
		return m, nil
	}

	m.notice = ""
	m.answerInput.Reset()
	m.feedbackInput.Reset()
	m.taskFocus = 0
	m.answerInput.Focus()
	m.feedbackInput.Blur()

	if done {
		m.completed = true
		m.simLog = ""
		m.scenarioInput.Reset()
		m.durationInput.Reset()
		m.scenarioInput.Focus()
		m.setupFocus = 0
		return m, textinput.Blink
	}

	logWidth := m.logWidth()
	m.appendLog(userStyle.Width(logWidth).Render("> " + answer))
	m.appendLog(m.renderTaskBlock(m.machine.Session().Tasks[index+1], index+2))
	return m, nil
}

func (m model) openMentor() (tea.Model, tea.Cmd) {
	s := m.machine.Session()
	history := append([]models.HistoryItem(nil), s.History...)
	m.chat = m.engine.StartMentorChat(s.Scenario, history)
	m.chatLog = []chatMessage{{text: engine.MentorGreeting}}
	m.chatInput.Reset()
	m.chatInput.Focus()
	m.answerInput.Blur()
	m.feedbackInput.Blur()
	m.mode = modeMentor
	return m, textinput.Blink
}

func (m model) handleMentorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		// Closing discards the channel and everything in it.
		if m.chatStream != nil {
			m.chatStream.Close()
			m.chatStream = nil
			m.machine.End(session.ActionChatTurn)
		}
		m.chat = nil
		m.chatLog = nil
		m.mode = modeMain
		if m.taskFocus == 0 {
			m.answerInput.Focus()
		} else {
			m.feedbackInput.Focus()
		}
		return m, textinput.Blink

	case tea.KeyEnter:
		text := strings.TrimSpace(m.chatInput.Value())
		if text == "" {
			return m, nil
		}
		if err := m.machine.Begin(session.ActionChatTurn); err != nil {
			return m, nil
		}
		m.chatInput.Reset()
		m.chatLog = append(m.chatLog, chatMessage{fromUser: true, text: text})
		m.chatLog = append(m.chatLog, chatMessage{}) // reply grows here
		m.chatStream = m.chat.Send(context.Background(), text)
		return m, readChunk(m.chatStream)
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m model) handleChatChunk(msg chatChunkMsg) (tea.Model, tea.Cmd) {
	if m.chatStream == nil {
		// The dialog was closed while a chunk was in flight.
		return m, nil
	}

	if msg.err != nil {
		if msg.err != engine.ErrStreamDone {
			m.chatLog[len(m.chatLog)-1].text = engine.MentorApology
		}
		m.chatStream = nil
		m.machine.End(session.ActionChatTurn)
		return m, nil
	}

	m.chatLog[len(m.chatLog)-1].text += msg.chunk
	return m, readChunk(m.chatStream)
}

func (m model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case m.mode == modeMentor:
		m.chatInput, cmd = m.chatInput.Update(msg)
	case m.machine.View() == session.ViewSetup:
		if m.setupFocus == 0 {
			m.scenarioInput, cmd = m.scenarioInput.Update(msg)
		} else {
			m.durationInput, cmd = m.durationInput.Update(msg)
		}
	case m.machine.View() == session.ViewSimulation:
		if m.taskFocus == 0 {
			m.answerInput, cmd = m.answerInput.Update(msg)
		} else {
			m.feedbackInput, cmd = m.feedbackInput.Update(msg)
		}
	}
	return m, cmd
}

func (m model) generate(epoch int, scenario, duration string) tea.Cmd {
	return func() tea.Msg {
		plan, err := m.engine.GenerateSimulation(context.Background(), scenario, duration)
		return generationMsg{epoch: epoch, plan: plan, err: err}
	}
}

func (m model) deepDive(epoch int, req models.DeepDiveRequest) tea.Cmd {
	return func() tea.Msg {
		task, err := m.engine.GenerateDeepDive(context.Background(), req)
		return deepDiveMsg{epoch: epoch, task: task, err: err}
	}
}

func (m model) analyze(epoch int, scenario string, history []models.HistoryItem) tea.Cmd {
	return func() tea.Msg {
		text, err := m.engine.AnalyzePerformance(context.Background(), scenario, history)
		return analysisMsg{epoch: epoch, text: text, err: err}
	}
}

func readChunk(s *engine.Stream) tea.Cmd {
	return func() tea.Msg {
		chunk, err := s.Next()
		return chatChunkMsg{chunk: chunk, err: err}
	}
}

func (m model) View() string {
	var s string

	switch m.mode {
	case modeMentor:
		s = m.mentorView()
	case modeAnalysis:
		s = m.analysisView()
	case modeConfirmReset:
		s = "Reset the simulation and delete the saved session?\n\nPress y to confirm, any other key to cancel."
	default:
		switch m.machine.View() {
		case session.ViewSetup:
			s = m.setupView()
		case session.ViewLoading:
			s = fmt.Sprintf("\n  %s Generating your simulation... please wait.\n", m.spinner.View())
		case session.ViewSimulation:
			s = m.simulationView()
		case session.ViewError:
			s = fmt.Sprintf("\n  %s\n\nPress Enter to go back.", noticeStyle.Render(m.machine.ErrMessage()))
		}
	}

	return "\n" + s + "\n"
}

func (m model) setupView() string {
	header := "Welcome to skillsim!"
	if m.completed {
		header = m.completionBanner()
	}

	focusHint := "scenario"
	if m.setupFocus == 1 {
		focusHint = "duration"
	}

	return fmt.Sprintf(
		"%s\n\nWhat do you want to practice?\n%s\n\nOver what period?\n%s\n\n%s",
		header,
		m.scenarioInput.View(),
		m.durationInput.View(),
		helpStyle.Render(fmt.Sprintf("Tab switches fields (editing %s) · Enter starts · Esc quits", focusHint)),
	)
}

func (m model) completionBanner() string {
	banner := titleStyle.Render("Simulation complete!")
	last := m.machine.LastRun()
	if last == nil {
		return banner
	}

	var b strings.Builder
	b.WriteString(banner + "\n\n")
	fmt.Fprintf(&b, "You worked through %d tasks for %q.\n", len(last.History), last.Scenario)
	if len(last.Skills) > 0 {
		b.WriteString("Skills exercised:\n")
		for _, name := range sortedSkills(last.Skills) {
			fmt.Fprintf(&b, "  %s: %d\n", name, last.Skills[name])
		}
	}
	return b.String()
}

func (m model) simulationView() string {
	logView := m.viewport.View()
	sidebar := m.renderSidebar()

	mainView := lipgloss.JoinHorizontal(lipgloss.Top, logView, sidebar)

	inputs := m.answerInput.View() + "\n" + m.feedbackInput.View()
	help := helpStyle.Render("Tab: answer/notes · /mentor /analyze /dive N /reset /quit")

	parts := []string{mainView, "\n" + inputs, help}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) renderSidebar() string {
	s := m.machine.Session()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s (%s)\n\n", titleStyle.Render("SCENARIO"), s.Scenario, s.Duration)
	fmt.Fprintf(&b, "%s\nTask %d of %d\n\n", titleStyle.Render("PROGRESS"), s.CurrentTask+1, len(s.Tasks))

	b.WriteString(titleStyle.Render("SKILLS") + "\n")
	for _, name := range sortedSkills(s.Skills) {
		fmt.Fprintf(&b, "%s: %d\n", name, s.Skills[name])
	}
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("INVENTORY") + "\n")
	if len(s.Inventory) == 0 {
		b.WriteString("(empty)\n")
	} else {
		for i, item := range s.Inventory {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item.Name)
		}
	}

	sidebarWidth := int(float64(m.width) * 0.25)
	return sidebarStyle.Width(sidebarWidth).Height(m.viewport.Height).Render(b.String())
}

func (m model) mentorView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("MENTOR") + "\n\n")
	for _, msg := range m.chatLog {
		text := msg.text
		if text == "" {
			text = "..."
		}
		if msg.fromUser {
			b.WriteString(userStyle.Render("> "+text) + "\n\n")
		} else {
			b.WriteString(mentorStyle.Width(m.logWidth()).Render(text) + "\n\n")
		}
	}
	b.WriteString(m.chatInput.View() + "\n")
	b.WriteString(helpStyle.Render("Enter sends · Esc closes the chat"))
	return b.String()
}

func (m model) analysisView() string {
	text := m.machine.Session().Analysis
	rendered, err := glamour.Render(text, "dark")
	if err != nil {
		rendered = text
	}
	return titleStyle.Render("PERFORMANCE ANALYSIS") + "\n" + rendered + "\n" + helpStyle.Render("Esc closes")
}

func (m model) renderTaskBlock(task models.Task, number int) string {
	logWidth := m.logWidth()

	var b strings.Builder
	b.WriteString(narratorStyle.Bold(true).Render(fmt.Sprintf("Task %d", number)) + "\n")
	b.WriteString(narratorStyle.Width(logWidth).Render(task.Description) + "\n\n")
	if task.Type == models.TaskRolePlay && task.Character != "" {
		b.WriteString(narratorStyle.Italic(true).Render("You are speaking with: "+task.Character) + "\n")
	}
	b.WriteString(narratorStyle.Width(logWidth).Bold(true).Render(task.Question) + "\n")
	if task.Type == models.TaskMultipleChoice {
		for i, opt := range task.Options {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
		}
	}
	return b.String()
}

func (m model) openingLog() string {
	s := m.machine.Session()
	header := narratorStyle.Bold(true).Render("Scenario: "+s.Scenario) + "\n" +
		narratorStyle.Render("Duration: "+s.Duration) + "\n\n"
	return header + m.renderTaskBlock(s.Tasks[0], 1)
}

// resumeLog rebuilds the log for a restored session: past answers, then
// the task awaiting an answer.
func (m model) resumeLog() string {
	s := m.machine.Session()

	var b strings.Builder
	b.WriteString(narratorStyle.Bold(true).Render("Scenario: "+s.Scenario) + "\n")
	b.WriteString(narratorStyle.Render("(restored session)") + "\n\n")
	for _, h := range s.History {
		b.WriteString(narratorStyle.Render(h.Task.Question) + "\n")
		b.WriteString(userStyle.Render("> "+h.Answer) + "\n\n")
	}
	if s.CurrentTask < len(s.Tasks) {
		b.WriteString(m.renderTaskBlock(s.Tasks[s.CurrentTask], s.CurrentTask+1))
	}
	return b.String()
}

func (m *model) appendLog(block string) {
	m.simLog += "\n" + block + "\n"
	m.ensureViewport()
}

func (m *model) ensureViewport() {
	if m.viewport.Width == 0 {
		height := m.height - 9
		if height < 5 {
			height = 20
		}
		m.viewport = viewport.New(m.logWidth(), height)
	}
	m.viewport.SetContent(m.simLog)
	m.viewport.GotoBottom()
}

func (m model) logWidth() int {
	w := int(float64(m.width) * 0.72)
	if w <= 0 {
		w = 80
	}
	return w
}

func sortedSkills(tally map[string]int) []string {
	names := make([]string, 0, len(tally))
	for name := range tally {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Run(eng *engine.Engine, machine *session.Machine) error {
	p := tea.NewProgram(NewModel(eng, machine), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
