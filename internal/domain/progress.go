package domain

import (
	"encoding/json"
	"time"
)

// ProgressStatus enumerates the externally observable states of a pipeline
// run. partial counts as a successful terminal state for asset runs.
type ProgressStatus string

const (
	ProgressQueued     ProgressStatus = "queued"
	ProgressProcessing ProgressStatus = "processing"
	ProgressPartial    ProgressStatus = "partial"
	ProgressComplete   ProgressStatus = "complete"
	ProgressFailed     ProgressStatus = "failed"
)

// Terminal reports whether the status may never be overwritten by a
// non-terminal one.
func (s ProgressStatus) Terminal() bool {
	switch s {
	case ProgressPartial, ProgressComplete, ProgressFailed:
		return true
	}
	return false
}

// ProgressRecord is the editorial progress document served verbatim to
// polling clients.
type ProgressRecord struct {
	Status      ProgressStatus `json:"status"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message,omitempty"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// AgentState is the per-agent sub-status inside an asset progress record.
type AgentState string

const (
	AgentPending  AgentState = "pending"
	AgentRunning  AgentState = "running"
	AgentComplete AgentState = "complete"
	AgentFailed   AgentState = "failed"
)

// AgentProgress is one entry of the twelve-agent sub-status map.
type AgentProgress struct {
	Status   AgentState `json:"status"`
	Progress int        `json:"progress"`
}

// AssetProgressRecord extends the editorial record with the per-agent map
// and, once terminal, the generated artifacts inline.
type AssetProgressRecord struct {
	ProgressRecord
	Agents map[string]AgentProgress `json:"agents,omitempty"`
	Assets json.RawMessage          `json:"assets,omitempty"`
}

// BundleError is one entry of the combined bundle's errors list.
type BundleError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
