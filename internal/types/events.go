package types

import "time"

// EventType classifies lifecycle events emitted during a run.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventStatusChanged  EventType = "status_changed"
	EventAgentCompleted EventType = "agent_completed"
	EventRunCompleted   EventType = "run_completed"
)

// Event is one entry in the lifecycle stream. Observers (CLI, notifier,
// watch UI) subscribe to the orchestrator's event channel; emission is
// non-blocking, so a stalled observer drops events instead of stalling
// the run.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
