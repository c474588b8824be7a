package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// HealthState tracks host health from /healthz polling.
type HealthState struct {
	Status          string
	UptimeSeconds   int64
	QueueDepth      int
	TimerActive     bool
	BridgeAvailable bool
	ReadyState      string
	Drained         bool
	Connected       bool
}

func renderHeader(health HealthState, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	bridge := theme.StatusOK.Render("bridge")
	if !health.BridgeAvailable {
		bridge = theme.StatusHeld.Render("no bridge")
	}

	timer := theme.Dim.Render("idle")
	if health.TimerActive {
		timer = theme.StatusPending.Render("ticking")
	}

	boot := theme.StatusPending.Render("deferred")
	if health.Drained {
		boot = theme.StatusOK.Render("drained")
	}

	lastEvent := "never"
	if !spinner.LastEvent().IsZero() {
		lastEvent = humanize.RelTime(spinner.LastEvent(), now, "ago", "from now")
	}

	title := " GAPHOST MONITOR"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	uptime := time.Duration(health.UptimeSeconds) * time.Second
	statsLine := fmt.Sprintf(" %s  up %s  %s  timer %s  queue %s",
		statusText,
		uptime,
		bridge,
		timer,
		humanize.Comma(int64(health.QueueDepth)),
	)

	readyState := health.ReadyState
	if readyState == "" {
		readyState = "?"
	}
	docLine := fmt.Sprintf(" document %s  constructors %s  last event %s %s",
		theme.Highlight.Render(readyState),
		boot,
		lastEvent,
		spinner.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, docLine)
	return theme.Border.Width(innerWidth).Render(content)
}
