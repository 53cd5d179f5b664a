// Package agent wraps the LLM client with invocation policy: token-budget
// model demotion, quota-error fallback, the bounded tool-calling loop, and
// best-effort JSON extraction from model output.
package agent

import (
	"context"
	"errors"
	"fmt"

	"autodev/internal/llm"
	"autodev/internal/logging"
	"autodev/internal/tools"
	"autodev/internal/types"
)

// Options bound the invoker's behavior.
type Options struct {
	ExpensiveModel string
	CheapModel     string

	// TokenThreshold demotes to the cheap model when the estimated prompt
	// token count exceeds it.
	TokenThreshold int

	// MaxTurns caps the tool-calling loop before force-termination.
	MaxTurns int
}

// Result is what callers get back from either invoke shape. JSON is nil
// when the response carried no parseable payload; callers treat that as
// "no actionable output", never as an error.
type Result struct {
	Text    string
	JSON    []byte
	Sources []string
	Model   string
	Turns   int
}

// Invoker runs role-scoped agent invocations.
type Invoker struct {
	client llm.Client
	opts   Options
}

// New creates an invoker.
func New(client llm.Client, opts Options) *Invoker {
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = 200000
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 8
	}
	return &Invoker{client: client, opts: opts}
}

// roleSystems are the per-role system instructions. The precise wording is
// deliberately thin; the pipeline's contracts live in the structured
// payloads each role is asked to produce.
var roleSystems = map[types.AgentRole]string{
	types.RoleResearcher: "You research code quality, security, and dependency issues. Always answer with a JSON object.",
	types.RoleAnalyst:    "You analyze a codebase against research findings and propose concrete improvements. Always answer with a JSON object.",
	types.RolePlanner:    "You turn proposed improvements into an ordered, bounded implementation plan. Always answer with a JSON object.",
	types.RoleCoder:      "You apply one planned change to one file using the provided tools, then report the result as a JSON object.",
	types.RoleReviewer:   "You review staged changes and approve or reject them. Always answer with a JSON object.",
	types.RoleSummarizer: "You write concise natural-language summaries of completed runs.",
}

// grounded reports whether a role uses provider web-search grounding.
func grounded(role types.AgentRole) bool {
	return role == types.RoleResearcher || role == types.RoleSummarizer
}

// selectModel estimates the prompt's token count and demotes to the cheap
// model above the threshold. The provider count is preferred; on provider
// error the length/4 heuristic is used instead.
func (inv *Invoker) selectModel(ctx context.Context, prompt string) string {
	count, err := inv.client.CountTokens(ctx, inv.opts.ExpensiveModel, prompt)
	if err != nil {
		count = len(prompt) / 4
		logging.AgentDebug("token count unavailable (%v), estimating %d", err, count)
	}
	if count > inv.opts.TokenThreshold {
		logging.Agent("demoting to %s: estimated %d tokens exceeds threshold %d",
			inv.opts.CheapModel, count, inv.opts.TokenThreshold)
		return inv.opts.CheapModel
	}
	return inv.opts.ExpensiveModel
}

// Invoke is the single-shot call shape, used for research, planning,
// review, and summary. Researcher and summarizer roles run grounded.
func (inv *Invoker) Invoke(ctx context.Context, role types.AgentRole, prompt string) (*Result, error) {
	model := inv.selectModel(ctx, prompt)
	system := roleSystems[role]

	text, sources, err := inv.generate(ctx, model, system, prompt, grounded(role))
	if err != nil && errors.Is(err, llm.ErrRateLimited) && model == inv.opts.ExpensiveModel {
		logging.Agent("quota exhausted on %s, falling back to %s once", model, inv.opts.CheapModel)
		model = inv.opts.CheapModel
		text, sources, err = inv.generate(ctx, model, system, prompt, grounded(role))
	}
	if err != nil {
		return nil, fmt.Errorf("%s invocation failed: %w", role, err)
	}

	result := &Result{Text: text, Sources: sources, Model: model, Turns: 1}
	if payload, ok := ExtractJSON(text); ok {
		result.JSON = payload
	}
	return result, nil
}

func (inv *Invoker) generate(ctx context.Context, model, system, prompt string, useGrounding bool) (string, []string, error) {
	if useGrounding {
		return inv.client.GenerateGrounded(ctx, model, system, prompt)
	}
	text, err := inv.client.Generate(ctx, model, system, prompt)
	return text, nil, err
}

// InvokeWithTools is the multi-turn call shape: an explicit protocol loop
// of await-response, execute-tools, resubmit, hard-capped at MaxTurns.
// At the ceiling the loop force-terminates and whatever text the last
// response carried is parsed as-is.
func (inv *Invoker) InvokeWithTools(ctx context.Context, role types.AgentRole, prompt string, registry *tools.Registry) (*Result, error) {
	model := inv.selectModel(ctx, prompt)
	session := inv.client.NewSession(model, roleSystems[role], registry.Definitions())

	resp, err := session.Send(ctx, []llm.Part{llm.TextPart(prompt)})
	if err != nil && errors.Is(err, llm.ErrRateLimited) && model == inv.opts.ExpensiveModel {
		logging.Agent("quota exhausted on %s, falling back to %s once", model, inv.opts.CheapModel)
		model = inv.opts.CheapModel
		session = inv.client.NewSession(model, roleSystems[role], registry.Definitions())
		resp, err = session.Send(ctx, []llm.Part{llm.TextPart(prompt)})
	}
	if err != nil {
		return nil, fmt.Errorf("%s invocation failed: %w", role, err)
	}

	turns := 1
	for resp.HasToolCalls() && turns < inv.opts.MaxTurns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		replies := make([]llm.Part, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			output, execErr := registry.Execute(ctx, call.Name, call.Input)
			if execErr != nil {
				// Tool failures go back to the model as error text; the
				// loop itself never fails on a bad call.
				logging.Agent("tool %s failed: %v", call.Name, execErr)
				replies = append(replies, llm.ResultPart(call.Name, execErr.Error(), true))
				continue
			}
			replies = append(replies, llm.ResultPart(call.Name, output, false))
		}

		resp, err = session.Send(ctx, replies)
		if err != nil {
			return nil, fmt.Errorf("%s invocation failed on turn %d: %w", role, turns+1, err)
		}
		turns++
	}

	if resp.HasToolCalls() {
		logging.Agent("%s hit the %d-turn ceiling with tool calls outstanding; force-terminating", role, inv.opts.MaxTurns)
	}

	result := &Result{Text: resp.Text, Model: model, Turns: turns}
	if payload, ok := ExtractJSON(resp.Text); ok {
		result.JSON = payload
	}
	return result, nil
}
