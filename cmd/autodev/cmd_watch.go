package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"autodev/internal/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Execute one improvement run with a live terminal UI",
	RunE:  executeWatch,
}

func executeWatch(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	runDone := make(chan runDoneMsg, 1)
	go func() {
		run, err := app.orch.Start(context.Background())
		runDone <- runDoneMsg{run: run, err: err}
	}()

	model := newWatchModel(app.orch.Events(), runDone, app.orch.Abort)
	program := tea.NewProgram(model)
	final, err := program.Run()
	if err != nil {
		return err
	}

	if m, ok := final.(watchModel); ok {
		if m.err != nil {
			return m.err
		}
		if m.result != nil {
			fmt.Println(renderReport(m.result))
			if m.result.Status != types.StatusCompleted {
				return fmt.Errorf("run %s: %s", m.result.Status, m.result.Error)
			}
		}
	}
	return nil
}

// Messages

type eventMsg types.Event

type runDoneMsg struct {
	run *types.Run
	err error
}

type tickMsg time.Time

// watchModel is the live-run TUI model.
type watchModel struct {
	events  <-chan types.Event
	runDone <-chan runDoneMsg
	abort   func()

	phase   types.RunStatus
	log     []string
	started time.Time
	width   int

	result *types.Run
	err    error
}

func newWatchModel(events <-chan types.Event, runDone <-chan runDoneMsg, abort func()) watchModel {
	return watchModel{
		events:  events,
		runDone: runDone,
		abort:   abort,
		phase:   types.StatusResearching,
		started: time.Now(),
		width:   80,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.waitForDone(), tickCmd())
}

func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func (m watchModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		return <-m.runDone
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.abort()
			m.appendLog("abort requested; waiting for a safe point")
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case eventMsg:
		if msg.Type == types.EventStatusChanged {
			m.phase = msg.Status
		}
		m.appendLog(msg.Message)
		return m, m.waitForEvent()

	case runDoneMsg:
		m.result = msg.run
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m *watchModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > 12 {
		m.log = m.log[len(m.log)-12:]
	}
}

// phaseOrder drives the progress strip.
var phaseOrder = []types.RunStatus{
	types.StatusResearching,
	types.StatusAnalyzing,
	types.StatusPlanning,
	types.StatusCoding,
	types.StatusVerifying,
	types.StatusPushing,
}

// View renders the live run state
func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(headStyle.Render("autodev") + dimStyle.Render("  improvement run") + "\n\n")

	var strip []string
	reached := true
	for _, phase := range phaseOrder {
		label := string(phase)
		switch {
		case phase == m.phase:
			strip = append(strip, headStyle.Render("▶ "+label))
			reached = false
		case reached:
			strip = append(strip, okStyle.Render("✓ "+label))
		default:
			strip = append(strip, dimStyle.Render("  "+label))
		}
	}
	b.WriteString(strings.Join(strip, dimStyle.Render("  →  ")) + "\n\n")

	for _, line := range m.log {
		width := m.width - 4
		if width > 0 && len(line) > width {
			line = line[:width]
		}
		b.WriteString(dimStyle.Render("  "+line) + "\n")
	}

	elapsed := time.Since(m.started).Round(time.Second)
	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("elapsed %s   q to abort", elapsed)) + "\n")

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
