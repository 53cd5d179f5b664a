// Package orchestrator drives one improvement run through its five phases:
// research, analysis, planning, coding, and verification, then the push.
// It owns all run state; nothing here is package-level.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"autodev/internal/agent"
	"autodev/internal/build"
	"autodev/internal/config"
	"autodev/internal/deps"
	"autodev/internal/ledger"
	"autodev/internal/logging"
	"autodev/internal/research"
	"autodev/internal/source"
	"autodev/internal/tools"
	"autodev/internal/types"
)

var (
	// ErrRunActive rejects a second invocation while a run is in flight.
	// Runs are rejected synchronously, never queued.
	ErrRunActive = errors.New("a run is already active")

	// ErrDailyBudget rejects a run past the daily cap.
	ErrDailyBudget = errors.New("daily run budget exhausted")
)

// Invoker is the agent-invocation surface the orchestrator consumes.
type Invoker interface {
	Invoke(ctx context.Context, role types.AgentRole, prompt string) (*agent.Result, error)
	InvokeWithTools(ctx context.Context, role types.AgentRole, prompt string, registry *tools.Registry) (*agent.Result, error)
}

// Gateway is the version-control surface the orchestrator consumes.
type Gateway interface {
	HasRemote(ctx context.Context) bool
	CLIAuthenticated(ctx context.Context) bool
	CreateWorkBranch(ctx context.Context, name string) (string, error)
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error
	PushBranch(ctx context.Context, branch string) error
	CreatePR(ctx context.Context, title, body, base string) (string, error)
	CheckoutTarget(ctx context.Context) error
	CleanupBranch(ctx context.Context, branch string)
	DiffLineCount(ctx context.Context) int
	StagedDiff(ctx context.Context) (string, error)
}

// Verifier runs the build check.
type Verifier interface {
	Verify(ctx context.Context) (*build.Result, error)
}

// IssueLedger is the failure-record surface.
type IssueLedger interface {
	LogIssue(category ledger.Category, detail string) error
	MarkResolved(runID string) error
	OpenIssuesSummary(n int) string
}

// History persists completed runs.
type History interface {
	SaveRun(run *types.Run, maxHistory int) error
	CountRunsSince(cutoff time.Time) (int, error)
}

// Notifier reports terminal runs to the host.
type Notifier interface {
	Notify(title, message string) error
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config   *config.Config
	Invoker  Invoker
	Gateway  Gateway
	Verifier Verifier
	Ledger   IssueLedger
	Scanner  deps.Scanner
	Reader   *source.Reader
	History  History
	Notifier Notifier

	// ResearchCache is shared across runs; budgets are per run.
	ResearchCache *research.Cache
}

// Orchestrator owns the current run and the lifecycle event stream.
type Orchestrator struct {
	deps Deps

	mu      sync.RWMutex
	running bool
	current *types.Run
	cancel  context.CancelFunc

	// pendingCfg holds a config reload that arrived mid-run; it is applied
	// when the run finishes so phases never race a config swap.
	pendingCfg *config.Config

	// dailyCount backs the daily budget when no history store is wired.
	dailyDate  string
	dailyCount int

	events chan types.Event
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		deps:   d,
		events: make(chan types.Event, 64),
	}
}

// Events returns the lifecycle stream. Emission is non-blocking: a stalled
// observer loses events, the run never stalls.
func (o *Orchestrator) Events() <-chan types.Event {
	return o.events
}

// IsRunning reports whether a run is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// CurrentRun returns a snapshot of the active run, or nil.
func (o *Orchestrator) CurrentRun() *types.Run {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return nil
	}
	snapshot := *o.current
	return &snapshot
}

// UpdateConfig swaps the active configuration. Phases read the config
// without locking, so a swap is only applied between runs; a reload that
// lands mid-run is held and applied when the run finishes. The last reload
// wins.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.pendingCfg = cfg
		return
	}
	o.deps.Config = cfg
}

// Abort requests cooperative cancellation of the active run. The run
// observes it between phases and per step, then unwinds to a terminal
// state; nothing is interrupted mid-operation.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		logging.Run("abort requested")
		o.cancel()
	}
}

// Start executes one run synchronously and returns its terminal state.
// A second invocation while one is active fails with ErrRunActive; runs
// past the daily cap fail with ErrDailyBudget. The returned Run is always
// terminal, whatever happened inside.
func (o *Orchestrator) Start(ctx context.Context) (*types.Run, error) {
	run, runCtx, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}

	o.emit(types.EventRunStarted, run, "run started")
	logging.Run("=== run %s started ===", run.ID)

	o.execute(runCtx, run)
	o.finish(run)

	snapshot := *run
	return &snapshot, nil
}

// begin atomically claims the single-run slot and creates the Run.
func (o *Orchestrator) begin(ctx context.Context) (*types.Run, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil, nil, ErrRunActive
	}
	if err := o.checkDailyBudget(); err != nil {
		return nil, nil, err
	}

	run := &types.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    types.StatusResearching,
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.current = run
	o.cancel = cancel
	o.dailyCount++
	return run, runCtx, nil
}

// checkDailyBudget enforces Config.MaxDailyRuns. The history store is
// consulted when available so the budget survives restarts; otherwise an
// in-memory date-keyed counter is used.
func (o *Orchestrator) checkDailyBudget() error {
	max := o.deps.Config.MaxDailyRuns
	if max <= 0 {
		return nil
	}

	today := time.Now().UTC().Format("2006-01-02")
	if o.dailyDate != today {
		o.dailyDate = today
		o.dailyCount = 0
	}

	count := o.dailyCount
	if o.deps.History != nil {
		midnight, _ := time.Parse("2006-01-02", today)
		if stored, err := o.deps.History.CountRunsSince(midnight); err == nil && stored > count {
			count = stored
		}
	}

	if count >= max {
		return fmt.Errorf("%w: %d runs today (max %d)", ErrDailyBudget, count, max)
	}
	return nil
}

// finish seals the run: timestamp, persistence, notification, slot release.
func (o *Orchestrator) finish(run *types.Run) {
	o.mu.Lock()
	now := time.Now().UTC()
	run.FinishedAt = &now
	if !run.Status.IsTerminal() {
		run.Status = types.StatusFailed
		if run.Error == "" {
			run.Error = "run ended without reaching a terminal state"
		}
	}
	o.running = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.pendingCfg != nil {
		o.deps.Config = o.pendingCfg
		o.pendingCfg = nil
	}
	cfg := o.deps.Config
	o.mu.Unlock()

	if o.deps.History != nil {
		if err := o.deps.History.SaveRun(run, cfg.MaxRunHistory); err != nil {
			logging.Run("failed to persist run %s: %v", run.ID, err)
		}
	}

	o.emit(types.EventRunCompleted, run, fmt.Sprintf("run finished: %s", run.Status))
	logging.Run("=== run %s finished: %s ===", run.ID, run.Status)

	if cfg.Notifications && o.deps.Notifier != nil {
		message := run.Summary
		if message == "" {
			message = run.Error
		}
		if err := o.deps.Notifier.Notify(fmt.Sprintf("autodev run %s", run.Status), message); err != nil {
			logging.Run("notification failed: %v", err)
		}
	}
}

// setStatus transitions the run and emits the change.
func (o *Orchestrator) setStatus(run *types.Run, status types.RunStatus) {
	o.mu.Lock()
	run.Status = status
	o.mu.Unlock()
	o.emit(types.EventStatusChanged, run, string(status))
	logging.Run("run %s -> %s", run.ID, status)
}

// fail marks the run failed with an error message.
func (o *Orchestrator) fail(run *types.Run, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.mu.Lock()
	run.Error = msg
	o.mu.Unlock()
	o.setStatus(run, types.StatusFailed)
}

// aborted checks the cancellation flag at a phase or step boundary. When
// set, the run transitions to aborted and true is returned.
func (o *Orchestrator) aborted(ctx context.Context, run *types.Run) bool {
	if ctx.Err() == nil {
		return false
	}
	o.mu.Lock()
	run.Error = "run cancelled"
	o.mu.Unlock()
	o.setStatus(run, types.StatusAborted)
	return true
}

// emit sends a lifecycle event without blocking.
func (o *Orchestrator) emit(eventType types.EventType, run *types.Run, message string) {
	event := types.Event{
		Type:      eventType,
		RunID:     run.ID,
		Status:    run.Status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	select {
	case o.events <- event:
	default:
	}
}

// recordTask appends one agent audit record and emits the completion.
func (o *Orchestrator) recordTask(run *types.Run, role types.AgentRole, model, description string, err error) {
	task := types.AgentTask{
		ID:          uuid.NewString(),
		Role:        role,
		Model:       model,
		Status:      types.AgentTaskCompleted,
		CompletedAt: time.Now().UTC(),
		Description: description,
	}
	if err != nil {
		task.Status = types.AgentTaskFailed
		task.Error = err.Error()
	}

	o.mu.Lock()
	run.AgentTasks = append(run.AgentTasks, task)
	o.mu.Unlock()

	o.emit(types.EventAgentCompleted, run, fmt.Sprintf("%s: %s", role, description))
}
