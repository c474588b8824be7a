package tui

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/gaphost/internal/events"
)

const maxTrackedCommands = 200

// Command statuses as seen from the event stream.
const (
	statusQueued = "queued"
	statusSent   = "sent"
	statusFailed = "failed"
)

// CommandState is one command's lifecycle as seen through queue events.
type CommandState struct {
	ID         string
	Command    string
	URI        string
	Status     string
	Error      string
	EnqueuedAt time.Time
	SentAt     time.Time
}

// commandLog keeps the most recent commands, newest first.
type commandLog struct {
	byID  map[string]*CommandState
	order []*CommandState
}

func newCommandLog() *commandLog {
	return &commandLog{byID: make(map[string]*CommandState)}
}

type queuePayload struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
	URI       string `json:"uri"`
	Error     string `json:"error"`
}

// apply folds a queue event into the log. Other event types are ignored.
func (l *commandLog) apply(e events.Event) {
	switch e.Type {
	case events.QueueEnqueued, events.QueueDispatched, events.QueueDispatchFailed:
	default:
		return
	}

	var p queuePayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.CommandID == "" {
		return
	}

	c, ok := l.byID[p.CommandID]
	if !ok {
		c = &CommandState{ID: p.CommandID, Command: p.Command, Status: statusQueued, EnqueuedAt: e.At}
		l.byID[p.CommandID] = c
		l.order = append([]*CommandState{c}, l.order...)
		if len(l.order) > maxTrackedCommands {
			dropped := l.order[maxTrackedCommands]
			delete(l.byID, dropped.ID)
			l.order = l.order[:maxTrackedCommands]
		}
	}

	switch e.Type {
	case events.QueueDispatched:
		c.Status = statusSent
		c.URI = p.URI
		c.SentAt = e.At
	case events.QueueDispatchFailed:
		c.Status = statusFailed
		c.URI = p.URI
		c.Error = p.Error
		c.SentAt = e.At
	}
}

func (l *commandLog) counts() (queued, sent, failed int) {
	for _, c := range l.order {
		switch c.Status {
		case statusQueued:
			queued++
		case statusSent:
			sent++
		case statusFailed:
			failed++
		}
	}
	return queued, sent, failed
}

func newCommandTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Command", Width: 24},
			{Title: "ID", Width: 8},
			{Title: "Age", Width: 16},
			{Title: "URI", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func (l *commandLog) rows(theme Theme, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(l.order))
	for _, c := range l.order {
		sym := theme.StatusPending.Render("○")
		switch c.Status {
		case statusSent:
			sym = theme.StatusOK.Render("●")
		case statusFailed:
			sym = theme.StatusFailed.Render("∅")
		}

		id := c.ID
		if len(id) > 8 {
			id = id[:8]
		}

		uri := c.URI
		if c.Status == statusFailed && c.Error != "" {
			uri = c.Error
		}

		rows = append(rows, table.Row{
			sym,
			c.Command,
			id,
			humanize.RelTime(c.EnqueuedAt, now, "ago", "from now"),
			uri,
		})
	}
	return rows
}
