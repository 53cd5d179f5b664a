package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"autodev/internal/agent"
	"autodev/internal/deps"
	"autodev/internal/ledger"
	"autodev/internal/logging"
	"autodev/internal/research"
	"autodev/internal/tasks"
	"autodev/internal/tools"
	"autodev/internal/types"
)

// execute drives one run through the phases. Cancellation is polled at
// every phase boundary; each phase is responsible for its own per-step
// polling.
func (o *Orchestrator) execute(ctx context.Context, run *types.Run) {
	budget := research.NewBudget(o.deps.Config.MaxResearchQueries)
	researcher := research.New(o.deps.ResearchCache, budget, o.deps.Config.Research.MaxPageBytes)

	// Phase 1: research.
	o.setStatus(run, types.StatusResearching)
	if !o.preflight(ctx, run) {
		return
	}
	auditSummary := o.phaseResearch(ctx, run, researcher)
	if o.aborted(ctx, run) {
		return
	}

	// Phase 2: analysis.
	o.setStatus(run, types.StatusAnalyzing)
	improvements := o.phaseAnalyze(ctx, run, auditSummary)
	if o.aborted(ctx, run) {
		return
	}
	if len(improvements) == 0 {
		run.Summary = "No actionable improvements were identified; nothing to do."
		o.setStatus(run, types.StatusCompleted)
		return
	}

	// Phase 3: planning.
	o.setStatus(run, types.StatusPlanning)
	steps := o.phasePlan(ctx, run, improvements)
	if o.aborted(ctx, run) {
		return
	}
	if len(steps) == 0 {
		run.Summary = "Planning produced no steps within the change budget; nothing to do."
		o.setStatus(run, types.StatusCompleted)
		return
	}

	// Phase 4: coding, on a fresh work branch.
	o.setStatus(run, types.StatusCoding)
	branch, err := o.deps.Gateway.CreateWorkBranch(ctx, shortID(run.ID))
	if err != nil {
		o.fail(run, "failed to create work branch: %v", err)
		o.logIssue(ledger.CategoryRuntimeError, "work branch creation failed: %v", err)
		return
	}
	run.Branch = branch

	applied := o.phaseCode(ctx, run, steps)
	if o.aborted(ctx, run) {
		// Pre-push cancellation abandons the branch entirely.
		o.deps.Gateway.CleanupBranch(context.Background(), branch)
		return
	}
	if applied == 0 {
		// The branch is persisted, not discarded: forensic inspection of
		// whatever the coder did is worth more than a clean tree.
		o.fail(run, "no improvements could be applied")
		o.logIssue(ledger.CategoryCodingError, "run %s: every coding step failed", run.ID)
		return
	}

	// Phase 5: verify, with the bounded auto-correction loop. Verification
	// failures keep the branch for inspection; a cancellation observed
	// inside the loop must not leave it dangling.
	o.setStatus(run, types.StatusVerifying)
	if !o.phaseVerify(ctx, run) {
		if run.Status == types.StatusAborted {
			o.deps.Gateway.CleanupBranch(context.Background(), branch)
		}
		return
	}
	if o.aborted(ctx, run) {
		o.deps.Gateway.CleanupBranch(context.Background(), branch)
		return
	}

	// Phase 6: push.
	o.setStatus(run, types.StatusPushing)
	o.phasePush(ctx, run)
}

// preflight runs the fatal checks before any mutation. Nothing exists to
// clean up when these fail.
func (o *Orchestrator) preflight(ctx context.Context, run *types.Run) bool {
	if !o.deps.Gateway.HasRemote(ctx) {
		o.fail(run, "pre-flight failed: repository has no remote configured")
		o.logIssue(ledger.CategoryLimitation, "no git remote configured; cannot push or open PRs")
		return false
	}
	if !o.deps.Gateway.CLIAuthenticated(ctx) {
		o.fail(run, "pre-flight failed: PR CLI is not authenticated")
		o.logIssue(ledger.CategoryLimitation, "gh CLI not authenticated; cannot open PRs")
		return false
	}
	return true
}

// findingPayload is the JSON contract of a research response.
type findingPayload struct {
	Findings   string   `json:"findings"`
	Sources    []string `json:"sources"`
	Actionable bool     `json:"actionable"`
}

// phaseResearch fans out one job per enabled category plus the dependency
// audit, then runs the deep-research tool-calling pass. Failed jobs degrade
// to empty findings. Returns the audit summary for the analysis prompt.
func (o *Orchestrator) phaseResearch(ctx context.Context, run *types.Run, researcher *research.Researcher) string {
	cfg := o.deps.Config
	issueContext := o.deps.Ledger.OpenIssuesSummary(10)
	tree, _ := o.deps.Reader.Tree(200)

	var auditSummary string
	jobs := make([]tasks.Job, 0, len(cfg.Categories)+1)
	for _, category := range cfg.Categories {
		category := category
		jobs = append(jobs, tasks.Job{
			Name: "research-" + category,
			Run: func(ctx context.Context) (string, error) {
				return o.researchCategory(ctx, run, category, issueContext, tree)
			},
		})
	}
	jobs = append(jobs, tasks.Job{
		Name: "dependency-audit",
		Run: func(ctx context.Context) (string, error) {
			vulns, err := o.deps.Scanner.Audit(ctx)
			if err != nil {
				return "", fmt.Errorf("dependency audit failed: %w", err)
			}
			outdated, err := o.deps.Scanner.Outdated(ctx)
			if err != nil {
				return "", fmt.Errorf("outdated check failed: %w", err)
			}
			return deps.Summarize(vulns, outdated), nil
		},
	})

	results := tasks.RunAll(ctx, jobs, cfg.MaxParallelAgents, func(name string, result tasks.Result) {
		o.emit(types.EventAgentCompleted, run, fmt.Sprintf("research job %s done", name))
	})

	for name, result := range results {
		if result.Err != nil {
			// Job-level failure is isolated: degrade to empty findings.
			logging.Run("research job %s degraded: %v", name, result.Err)
			continue
		}
		if name == "dependency-audit" {
			auditSummary = result.Value
		}
	}

	o.deepResearch(ctx, run, researcher, auditSummary)
	return auditSummary
}

// researchCategory is one single-shot grounded research invocation.
func (o *Orchestrator) researchCategory(ctx context.Context, run *types.Run, category, issueContext, tree string) (string, error) {
	agentName := "researcher-" + category
	query := fmt.Sprintf("current %s best practices and known issues for this codebase", category)

	prompt := fmt.Sprintf(`Research %s issues relevant to this repository.

Repository files:
%s
%s
Respond with JSON: {"findings": "...", "sources": ["..."], "actionable": true|false}`,
		category, tree, contextSection(issueContext))

	result, err := o.deps.Invoker.Invoke(ctx, types.RoleResearcher, prompt)
	o.recordTask(run, types.RoleResearcher, modelOf(result), "research: "+category, err)
	if err != nil {
		return "", err
	}

	finding := types.ResearchFinding{
		Category: category,
		Query:    query,
		Findings: result.Text,
		Sources:  result.Sources,
		Agent:    agentName,
	}
	var payload findingPayload
	if result.JSON != nil && json.Unmarshal(result.JSON, &payload) == nil {
		if payload.Findings != "" {
			finding.Findings = payload.Findings
		}
		finding.Actionable = payload.Actionable
		finding.Sources = append(finding.Sources, payload.Sources...)
	}

	o.mu.Lock()
	run.Findings = append(run.Findings, finding)
	o.mu.Unlock()
	return finding.Findings, nil
}

// deepResearch is the tool-calling pass over the aggregated findings. It
// shares the run-wide query budget; once spent, the tools return capped-out
// results and the model wraps up with what it has. Failure degrades.
func (o *Orchestrator) deepResearch(ctx context.Context, run *types.Run, researcher *research.Researcher, auditSummary string) {
	registry := tools.NewRegistry()
	tools.ResearchTools(registry, researcher)

	prompt := fmt.Sprintf(`Deepen the research below. Use web_search and read_page to verify
and extend the most actionable items, then consolidate.

Prior findings:
%s
%s
Respond with JSON: {"findings": "...", "sources": ["..."], "actionable": true|false}`,
		o.findingsText(run), contextSection(auditSummary))

	result, err := o.deps.Invoker.InvokeWithTools(ctx, types.RoleResearcher, prompt, registry)
	o.recordTask(run, types.RoleResearcher, modelOf(result), "deep research", err)
	if err != nil {
		logging.Run("deep research degraded: %v", err)
		return
	}

	finding := types.ResearchFinding{
		Category: "deep_research",
		Query:    "deep research over aggregated findings",
		Findings: result.Text,
		Agent:    "researcher-deep",
	}
	var payload findingPayload
	if result.JSON != nil && json.Unmarshal(result.JSON, &payload) == nil {
		if payload.Findings != "" {
			finding.Findings = payload.Findings
		}
		finding.Actionable = payload.Actionable
		finding.Sources = payload.Sources
	}

	o.mu.Lock()
	run.Findings = append(run.Findings, finding)
	o.mu.Unlock()
}

// analysisPayload is the JSON contract of the analysis response.
type analysisPayload struct {
	Improvements []struct {
		FilePath    string   `json:"file_path"`
		Category    string   `json:"category"`
		Description string   `json:"description"`
		Sources     []string `json:"sources"`
	} `json:"improvements"`
}

// phaseAnalyze proposes improvements from source context plus findings.
// Paths are containment-validated; invalid ones are dropped. The result is
// capped at MaxFilesPerRun.
func (o *Orchestrator) phaseAnalyze(ctx context.Context, run *types.Run, auditSummary string) []types.Improvement {
	registry := tools.NewRegistry()
	tools.SourceTools(registry, o.deps.Reader, false, nil)

	prompt := fmt.Sprintf(`Analyze this repository against the research findings and propose at
most %d file-level improvements. Keep the combined change small enough to
stay under %d changed lines. Use list_files and read_file to inspect code.

Findings:
%s
%s
Respond with JSON: {"improvements": [{"file_path": "...", "category": "...", "description": "...", "sources": ["..."]}]}`,
		o.deps.Config.MaxFilesPerRun, o.deps.Config.MaxLinesChanged,
		o.findingsText(run), contextSection(auditSummary))

	result, err := o.deps.Invoker.InvokeWithTools(ctx, types.RoleAnalyst, prompt, registry)
	o.recordTask(run, types.RoleAnalyst, modelOf(result), "analysis", err)
	if err != nil {
		logging.Run("analysis failed: %v", err)
		return nil
	}
	if result.JSON == nil {
		return nil
	}

	var payload analysisPayload
	if err := json.Unmarshal(result.JSON, &payload); err != nil {
		logging.Run("analysis payload not parseable: %v", err)
		return nil
	}

	var improvements []types.Improvement
	for _, p := range payload.Improvements {
		if len(improvements) >= o.deps.Config.MaxFilesPerRun {
			break
		}
		if p.FilePath == "" {
			continue
		}
		if _, err := o.deps.Reader.ValidatePath(p.FilePath); err != nil {
			logging.Run("dropping improvement with invalid path %q: %v", p.FilePath, err)
			continue
		}
		improvements = append(improvements, types.Improvement{
			FilePath:    p.FilePath,
			Category:    p.Category,
			Description: p.Description,
			Sources:     p.Sources,
			Agent:       "analyst",
		})
	}

	o.mu.Lock()
	run.Improvements = improvements
	o.mu.Unlock()
	return improvements
}

// planStep is one ordered unit of the change plan.
type planStep struct {
	FilePath    string `json:"file_path"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type planPayload struct {
	Steps []planStep `json:"steps"`
}

// phasePlan turns improvements into an ordered step list bounded by the
// line-change budget.
func (o *Orchestrator) phasePlan(ctx context.Context, run *types.Run, improvements []types.Improvement) []planStep {
	var list strings.Builder
	for i, imp := range improvements {
		fmt.Fprintf(&list, "%d. %s [%s]: %s\n", i+1, imp.FilePath, imp.Category, imp.Description)
	}

	prompt := fmt.Sprintf(`Turn these proposed improvements into an ordered implementation plan.
One step per file. Drop anything that cannot fit within %d changed lines
total.

Improvements:
%s
Respond with JSON: {"steps": [{"file_path": "...", "category": "...", "description": "..."}]}`,
		o.deps.Config.MaxLinesChanged, list.String())

	result, err := o.deps.Invoker.Invoke(ctx, types.RolePlanner, prompt)
	o.recordTask(run, types.RolePlanner, modelOf(result), "planning", err)
	if err != nil {
		logging.Run("planning failed: %v", err)
		return nil
	}
	return parsePlan(result.JSON)
}

func parsePlan(raw []byte) []planStep {
	if raw == nil {
		return nil
	}
	var payload planPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		logging.Run("plan payload not parseable: %v", err)
		return nil
	}
	var steps []planStep
	for _, s := range payload.Steps {
		if s.FilePath != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// phaseCode applies the plan. Steps are split into contiguous batches (one
// per coder slot) but batches run sequentially: concurrent writers on one
// checkout corrupt each other. Returns the applied count.
func (o *Orchestrator) phaseCode(ctx context.Context, run *types.Run, steps []planStep) int {
	applied := 0
	for i, batch := range splitBatches(steps, o.deps.Config.MaxParallelAgents) {
		logging.Run("coding batch %d: %d steps", i+1, len(batch))
		applied += o.applySteps(ctx, run, batch)
		if ctx.Err() != nil {
			break
		}
	}
	return applied
}

// coderPayload is the JSON contract of a coding response.
type coderPayload struct {
	Applied     bool   `json:"applied"`
	Description string `json:"description"`
}

// applySteps runs coding steps sequentially. A step failure is logged to
// the ledger and skipped; it never aborts the batch. Returns how many steps
// actually modified their file.
func (o *Orchestrator) applySteps(ctx context.Context, run *types.Run, steps []planStep) int {
	applied := 0
	for _, step := range steps {
		if ctx.Err() != nil {
			return applied
		}
		if o.applyStep(ctx, run, step) {
			applied++
		}
	}
	return applied
}

// applyStep is one read-then-rewrite tool-calling invocation against a
// single file.
func (o *Orchestrator) applyStep(ctx context.Context, run *types.Run, step planStep) bool {
	var written []string
	registry := tools.NewRegistry()
	tools.SourceTools(registry, o.deps.Reader, true, func(path string) {
		written = append(written, path)
	})

	prompt := fmt.Sprintf(`Apply exactly this change:

File: %s
Change: %s

Read the file first, then write the complete new content with write_file.
Do not modify any other file.

Respond with JSON: {"applied": true|false, "description": "..."}`,
		step.FilePath, step.Description)

	result, err := o.deps.Invoker.InvokeWithTools(ctx, types.RoleCoder, prompt, registry)
	o.recordTask(run, types.RoleCoder, modelOf(result), "code: "+step.FilePath, err)
	if err != nil {
		o.logIssue(ledger.CategoryCodingError, "coding step for %s failed: %v", step.FilePath, err)
		return false
	}

	didWrite := len(written) > 0
	var payload coderPayload
	if result.JSON != nil {
		_ = json.Unmarshal(result.JSON, &payload)
	}

	o.mu.Lock()
	updated := false
	for i := range run.Improvements {
		if run.Improvements[i].FilePath == step.FilePath {
			run.Improvements[i].Applied = didWrite
			if payload.Description != "" {
				run.Improvements[i].Description = payload.Description
			}
			updated = true
			break
		}
	}
	if !updated {
		// Fix-plan steps may target files outside the original analysis.
		run.Improvements = append(run.Improvements, types.Improvement{
			FilePath:    step.FilePath,
			Category:    step.Category,
			Description: step.Description,
			Applied:     didWrite,
			Agent:       "coder",
		})
	}
	o.mu.Unlock()

	if !didWrite {
		o.logIssue(ledger.CategoryCodingError, "coder made no file change for %s", step.FilePath)
	}
	return didWrite
}

// reviewPayload is the JSON contract of a review response.
type reviewPayload struct {
	Approved  bool   `json:"approved"`
	Rationale string `json:"rationale"`
}

// phaseVerify stages the changes and runs the review/build pair, retrying
// through fix plans up to MaxRetries. Both checks re-run after every fix: a
// fix for one can regress the other. Returns true when verification passed.
func (o *Orchestrator) phaseVerify(ctx context.Context, run *types.Run) bool {
	cfg := o.deps.Config

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if o.aborted(ctx, run) {
			return false
		}

		if err := o.deps.Gateway.StageAll(ctx); err != nil {
			o.fail(run, "failed to stage changes: %v", err)
			return false
		}

		// Budget breach is deterministic and unrecoverable: fail now, keep
		// the branch for inspection.
		if lines := o.deps.Gateway.DiffLineCount(ctx); lines > cfg.MaxLinesChanged {
			o.fail(run, "staged diff of %d lines exceeds the %d line budget", lines, cfg.MaxLinesChanged)
			o.logIssue(ledger.CategoryLimitation, "line budget breach: %d > %d", lines, cfg.MaxLinesChanged)
			return false
		}

		reviewFailure, buildFailure := o.runChecks(ctx, run)
		if reviewFailure == "" && buildFailure == "" {
			logging.Run("verification passed on attempt %d", attempt+1)
			return true
		}

		if buildFailure != "" {
			o.logIssue(ledger.CategoryBuildFailure, "%s", buildFailure)
		}
		if reviewFailure != "" {
			o.logIssue(ledger.CategoryReviewRejection, "%s", reviewFailure)
		}

		if attempt == cfg.MaxRetries {
			break
		}

		// Derive a fix plan from the combined failure text and apply it
		// exactly as a single coding batch.
		fixSteps := o.deriveFixPlan(ctx, run, strings.TrimSpace(reviewFailure+"\n"+buildFailure))
		if len(fixSteps) == 0 {
			logging.Run("no fix plan derived; retrying verification as-is")
			continue
		}
		o.applySteps(ctx, run, fixSteps)
	}

	o.fail(run, "verification failed after %d attempts", cfg.MaxRetries+1)
	return false
}

// runChecks executes self-review and build verification concurrently; they
// are independent checks on the same staged state. Empty strings mean pass.
func (o *Orchestrator) runChecks(ctx context.Context, run *types.Run) (reviewFailure, buildFailure string) {
	g, checkCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		diff, err := o.deps.Gateway.StagedDiff(checkCtx)
		if err != nil {
			reviewFailure = fmt.Sprintf("could not read staged diff: %v", err)
			return nil
		}
		prompt := fmt.Sprintf(`Review the staged diff below against the planned improvements.
Approve only when the changes are correct, complete, and safe.

Diff:
%s

Respond with JSON: {"approved": true|false, "rationale": "..."}`, diff)

		result, err := o.deps.Invoker.Invoke(checkCtx, types.RoleReviewer, prompt)
		o.recordTask(run, types.RoleReviewer, modelOf(result), "self-review", err)
		if err != nil {
			reviewFailure = fmt.Sprintf("review invocation failed: %v", err)
			return nil
		}
		var verdict reviewPayload
		if result.JSON == nil || json.Unmarshal(result.JSON, &verdict) != nil {
			reviewFailure = "review returned no parseable verdict"
			return nil
		}
		if !verdict.Approved {
			reviewFailure = "review rejected: " + verdict.Rationale
		}
		return nil
	})

	if o.deps.Config.RequireBuildPass && o.deps.Verifier != nil {
		g.Go(func() error {
			result, err := o.deps.Verifier.Verify(checkCtx)
			if err != nil {
				buildFailure = fmt.Sprintf("build verifier error: %v", err)
				return nil
			}
			if !result.Passed {
				buildFailure = "build failed:\n" + tail(result.Output, 2000)
			}
			return nil
		})
	}

	_ = g.Wait()
	return reviewFailure, buildFailure
}

// deriveFixPlan asks the planner for steps addressing a verification
// failure.
func (o *Orchestrator) deriveFixPlan(ctx context.Context, run *types.Run, failure string) []planStep {
	prompt := fmt.Sprintf(`The staged changes failed verification. Derive a minimal fix plan.

Failure:
%s

Respond with JSON: {"steps": [{"file_path": "...", "category": "...", "description": "..."}]}`, failure)

	result, err := o.deps.Invoker.Invoke(ctx, types.RolePlanner, prompt)
	o.recordTask(run, types.RolePlanner, modelOf(result), "fix planning", err)
	if err != nil {
		logging.Run("fix planning failed: %v", err)
		return nil
	}
	return parsePlan(result.JSON)
}

// phasePush commits, pushes, opens the PR, and closes out the run.
func (o *Orchestrator) phasePush(ctx context.Context, run *types.Run) {
	message := commitMessage(run.AppliedImprovements())
	if err := o.deps.Gateway.Commit(ctx, message); err != nil {
		o.fail(run, "commit failed: %v", err)
		o.logIssue(ledger.CategoryRuntimeError, "commit failed: %v", err)
		return
	}
	if err := o.deps.Gateway.PushBranch(ctx, run.Branch); err != nil {
		o.fail(run, "push failed: %v", err)
		o.logIssue(ledger.CategoryRuntimeError, "push failed: %v", err)
		return
	}

	title := prTitle(run.AppliedImprovements())
	prURL, err := o.deps.Gateway.CreatePR(ctx, title, prBody(run), o.deps.Config.TargetBranch)
	if err != nil {
		o.fail(run, "PR creation failed: %v", err)
		o.logIssue(ledger.CategoryRuntimeError, "PR creation failed: %v", err)
		return
	}
	run.PRURL = prURL

	if err := o.deps.Gateway.CheckoutTarget(ctx); err != nil {
		logging.Run("could not switch back to target branch: %v", err)
	}

	run.Summary = o.summarize(ctx, run)

	if err := o.deps.Ledger.MarkResolved(run.ID); err != nil {
		logging.Run("could not resolve ledger entries: %v", err)
	}

	// The branch lives on in the PR; the local copy is no longer needed.
	o.deps.Gateway.CleanupBranch(ctx, run.Branch)

	o.setStatus(run, types.StatusCompleted)
}

// summarize produces the natural-language run summary. Failure degrades to
// a generated fallback.
func (o *Orchestrator) summarize(ctx context.Context, run *types.Run) string {
	applied := run.AppliedImprovements()
	var list strings.Builder
	for _, imp := range applied {
		fmt.Fprintf(&list, "- %s [%s]: %s\n", imp.FilePath, imp.Category, imp.Description)
	}

	prompt := fmt.Sprintf(`Summarize this automated improvement run in two or three sentences.

Changes applied:
%sPull request: %s`, list.String(), run.PRURL)

	result, err := o.deps.Invoker.Invoke(ctx, types.RoleSummarizer, prompt)
	o.recordTask(run, types.RoleSummarizer, modelOf(result), "summary", err)
	if err != nil || strings.TrimSpace(result.Text) == "" {
		return fmt.Sprintf("Applied %d improvements and opened %s", len(applied), run.PRURL)
	}
	return strings.TrimSpace(result.Text)
}

// logIssue writes to the ledger, logging rather than failing on error.
func (o *Orchestrator) logIssue(category ledger.Category, format string, args ...interface{}) {
	if err := o.deps.Ledger.LogIssue(category, fmt.Sprintf(format, args...)); err != nil {
		logging.Run("ledger write failed: %v", err)
	}
}

// findingsText renders the run's findings for prompt context.
func (o *Orchestrator) findingsText(run *types.Run) string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(run.Findings) == 0 {
		return "(no findings)"
	}
	var b strings.Builder
	for _, f := range run.Findings {
		fmt.Fprintf(&b, "[%s] %s\n", f.Category, f.Findings)
	}
	return b.String()
}

// splitBatches divides steps into up to slots contiguous batches.
func splitBatches(steps []planStep, slots int) [][]planStep {
	if slots < 1 {
		slots = 1
	}
	if slots > len(steps) {
		slots = len(steps)
	}
	if slots == 0 {
		return nil
	}

	var batches [][]planStep
	size := (len(steps) + slots - 1) / slots
	for start := 0; start < len(steps); start += size {
		end := start + size
		if end > len(steps) {
			end = len(steps)
		}
		batches = append(batches, steps[start:end])
	}
	return batches
}

// commitMessage groups applied improvements by category.
func commitMessage(applied []types.Improvement) string {
	byCategory := make(map[string][]types.Improvement)
	var categories []string
	for _, imp := range applied {
		category := imp.Category
		if category == "" {
			category = "general"
		}
		if _, seen := byCategory[category]; !seen {
			categories = append(categories, category)
		}
		byCategory[category] = append(byCategory[category], imp)
	}
	sort.Strings(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "improve: %s\n", strings.Join(categories, ", "))
	for _, category := range categories {
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, imp := range byCategory[category] {
			fmt.Fprintf(&b, "- %s: %s\n", imp.FilePath, imp.Description)
		}
	}
	return b.String()
}

func prTitle(applied []types.Improvement) string {
	if len(applied) == 1 {
		return fmt.Sprintf("Automated improvement: %s", applied[0].FilePath)
	}
	return fmt.Sprintf("Automated improvements across %d files", len(applied))
}

func prBody(run *types.Run) string {
	var b strings.Builder
	b.WriteString("## Changes\n\n")
	for _, imp := range run.AppliedImprovements() {
		fmt.Fprintf(&b, "- `%s` [%s]: %s\n", imp.FilePath, imp.Category, imp.Description)
	}
	if sources := collectSources(run); len(sources) > 0 {
		b.WriteString("\n## Research sources\n\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	fmt.Fprintf(&b, "\n---\nOpened automatically by autodev (run %s).\n", shortID(run.ID))
	return b.String()
}

func collectSources(run *types.Run) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, imp := range run.AppliedImprovements() {
		for _, s := range imp.Sources {
			if s != "" && !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	return sources
}

func contextSection(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return "\nAdditional context:\n" + text + "\n"
}

// modelOf tolerates nil results from failed invocations.
func modelOf(result *agent.Result) string {
	if result == nil {
		return ""
	}
	return result.Model
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// tail returns the last n bytes of s, for bounded failure text.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
