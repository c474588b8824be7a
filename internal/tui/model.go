package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/gaphost/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for the monitor.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health   HealthState
	commands *commandLog
	eventLog []events.Event
	lastID   int64

	spinner   Spinner
	theme     Theme
	table     table.Model
	now       func() time.Time
	hubEvents chan events.Event

	lastError string
}

// New creates a monitor for the host API at apiURL.
func New(apiURL, apiKey string) Model {
	return Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		commands:  newCommandLog(),
		theme:     NewDefaultTheme(),
		table:     newCommandTable(),
		now:       time.Now,
		hubEvents: make(chan events.Event, 100),
	}
}

// Run starts the monitor and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))
		m.table.SetHeight(max(m.height/3, 5))

	case tickMsg:
		m.spinner.Decay(time.Time(msg))
		m.table.SetRows(m.commands.rows(m.theme, time.Time(msg)))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = HealthState{
			Status:          msg.Status,
			UptimeSeconds:   msg.UptimeSeconds,
			QueueDepth:      msg.QueueDepth,
			TimerActive:     msg.TimerActive,
			BridgeAvailable: msg.BridgeAvailable,
			ReadyState:      msg.ReadyState,
			Drained:         msg.Drained,
			Connected:       true,
		}
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// applyEvent folds one host event into the model's state.
func (m Model) applyEvent(e events.Event) Model {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.spinner.OnEvent(m.now())
	m.commands.apply(e)

	switch e.Type {
	case events.QueueTimerStarted:
		m.health.TimerActive = true
	case events.QueueTimerStopped:
		m.health.TimerActive = false
	case events.BootstrapDrained:
		m.health.Drained = true
	case events.DocumentReadyState:
		if to := readyStateTarget(e); to != "" {
			m.health.ReadyState = to
		}
	}

	m.health.Connected = true
	m.lastError = ""
	m.table.SetRows(m.commands.rows(m.theme, m.now()))
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing monitor..."
	}

	header := renderHeader(m.health, m.spinner, m.theme, m.width, m.now())

	queued, sent, failed := m.commands.counts()
	title := m.theme.Title.Render(fmt.Sprintf("COMMANDS  %d queued  %d sent  %d failed", queued, sent, failed))
	commands := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, m.table.View()),
	)

	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, commands, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll commands"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
