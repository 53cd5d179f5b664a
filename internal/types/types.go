// Package types holds the domain model shared across the autodev pipeline:
// runs, findings, improvements, agent audit records, and the lifecycle
// event stream consumed by observers.
package types

import (
	"time"
)

// RunStatus tracks a run through the five-phase pipeline to a terminal state.
type RunStatus string

const (
	StatusResearching RunStatus = "researching"
	StatusAnalyzing   RunStatus = "analyzing"
	StatusPlanning    RunStatus = "planning"
	StatusCoding      RunStatus = "coding"
	StatusVerifying   RunStatus = "verifying"
	StatusPushing     RunStatus = "pushing"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusAborted     RunStatus = "aborted"
)

// IsTerminal reports whether the status ends a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// Run is one end-to-end execution of the improvement pipeline.
// It is owned exclusively by the orchestrator while active and is
// immutable once persisted to the history store.
type Run struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	Status       RunStatus         `json:"status"`
	Improvements []Improvement     `json:"improvements,omitempty"`
	Findings     []ResearchFinding `json:"findings,omitempty"`
	AgentTasks   []AgentTask       `json:"agent_tasks,omitempty"`
	Branch       string            `json:"branch,omitempty"`
	PRURL        string            `json:"pr_url,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// AppliedImprovements returns only the improvements that were written to disk.
func (r *Run) AppliedImprovements() []Improvement {
	var applied []Improvement
	for _, imp := range r.Improvements {
		if imp.Applied {
			applied = append(applied, imp)
		}
	}
	return applied
}

// ResearchFinding is one research agent's output for a single query.
// Findings are read-only context for the analysis, planning, review,
// and summary phases.
type ResearchFinding struct {
	Category   string   `json:"category"`
	Query      string   `json:"query"`
	Findings   string   `json:"findings"`
	Sources    []string `json:"sources,omitempty"`
	Actionable bool     `json:"actionable"`
	Agent      string   `json:"agent"`
}

// Improvement is one file-level change plus its provenance. An entry with
// Applied=false is excluded from commit messages but kept for audit.
type Improvement struct {
	FilePath    string   `json:"file_path"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Applied     bool     `json:"applied"`
	Sources     []string `json:"sources,omitempty"`
	Agent       string   `json:"agent"`
}

// AgentTaskStatus is the outcome of one agent invocation.
type AgentTaskStatus string

const (
	AgentTaskCompleted AgentTaskStatus = "completed"
	AgentTaskFailed    AgentTaskStatus = "failed"
)

// AgentTask is the audit record of a single agent invocation.
// Append-only; never mutated after insertion.
type AgentTask struct {
	ID          string          `json:"id"`
	Role        AgentRole       `json:"role"`
	Model       string          `json:"model"`
	Status      AgentTaskStatus `json:"status"`
	CompletedAt time.Time       `json:"completed_at"`
	Description string          `json:"description"`
	Error       string          `json:"error,omitempty"`
}

// AgentRole identifies the role a single LLM invocation plays.
type AgentRole string

const (
	RoleResearcher AgentRole = "researcher"
	RoleAnalyst    AgentRole = "analyst"
	RolePlanner    AgentRole = "planner"
	RoleCoder      AgentRole = "coder"
	RoleReviewer   AgentRole = "reviewer"
	RoleSummarizer AgentRole = "summarizer"
)
