package api

import (
	"github.com/mattjoyce/gaphost/internal/device"
	"github.com/mattjoyce/gaphost/internal/journal"
)

// ExecRequest is the JSON body for POST /exec/{command}
type ExecRequest struct {
	Args []string `json:"args,omitempty"`
}

// ExecResponse is returned once a command is queued.
type ExecResponse struct {
	CommandID  string `json:"command_id"`
	Command    string `json:"command"`
	URI        string `json:"uri"`
	Status     string `json:"status"` // queued, or held when no bridge is present
	QueueDepth int    `json:"queue_depth"`
}

// ReadyStateRequest is the JSON body for POST /document/ready-state
type ReadyStateRequest struct {
	ReadyState string `json:"ready_state"`
}

type ReadyStateResponse struct {
	ReadyState string `json:"ready_state"`
	Ready      bool   `json:"ready"`
	Drained    bool   `json:"drained"`
}

// DeviceResponse is returned by GET /navigator/device
type DeviceResponse struct {
	Device              *device.Device `json:"device"`
	Installed           []string       `json:"installed"`
	PendingConstructors int            `json:"pending_constructors"`
}

type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueueDepth      int    `json:"queue_depth"`
	TimerActive     bool   `json:"timer_active"`
	BridgeAvailable bool   `json:"bridge_available"`
	ReadyState      string `json:"ready_state"`
	Drained         bool   `json:"drained"`
}
