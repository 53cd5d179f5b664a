package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/internal/llm"
	"autodev/internal/tools"
	"autodev/internal/types"
)

// fakeClient scripts LLM behavior per model.
type fakeClient struct {
	tokenCount int
	tokenErr   error

	// errByModel fails Generate/Send for a model once per entry consumed.
	errByModel map[string]error

	generated []string // models Generate was called with
	script    []*llm.ToolResponse
}

func (f *fakeClient) Generate(ctx context.Context, model, system, user string) (string, error) {
	f.generated = append(f.generated, model)
	if err := f.errByModel[model]; err != nil {
		delete(f.errByModel, model)
		return "", err
	}
	return `{"ok": true}`, nil
}

func (f *fakeClient) GenerateGrounded(ctx context.Context, model, system, user string) (string, []string, error) {
	text, err := f.Generate(ctx, model, system, user)
	return text, []string{"https://example.com/source"}, err
}

func (f *fakeClient) CountTokens(ctx context.Context, model, text string) (int, error) {
	return f.tokenCount, f.tokenErr
}

func (f *fakeClient) NewSession(model, system string, defs []llm.ToolDefinition) llm.Session {
	return &fakeSession{client: f, model: model}
}

type fakeSession struct {
	client *fakeClient
	model  string
	turn   int
	parts  [][]llm.Part
}

func (s *fakeSession) Send(ctx context.Context, parts []llm.Part) (*llm.ToolResponse, error) {
	if err := s.client.errByModel[s.model]; err != nil {
		delete(s.client.errByModel, s.model)
		return nil, err
	}
	s.parts = append(s.parts, parts)
	if s.turn >= len(s.client.script) {
		return &llm.ToolResponse{Text: "done"}, nil
	}
	resp := s.client.script[s.turn]
	s.turn++
	return resp, nil
}

func defaultOpts() Options {
	return Options{
		ExpensiveModel: "expensive",
		CheapModel:     "cheap",
		TokenThreshold: 100,
		MaxTurns:       4,
	}
}

func TestInvokeUsesExpensiveModelUnderThreshold(t *testing.T) {
	client := &fakeClient{tokenCount: 50}
	inv := New(client, defaultOpts())

	result, err := inv.Invoke(context.Background(), types.RoleAnalyst, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "expensive", result.Model)
	assert.JSONEq(t, `{"ok": true}`, string(result.JSON))
}

func TestInvokeDemotesOverThreshold(t *testing.T) {
	client := &fakeClient{tokenCount: 101}
	inv := New(client, defaultOpts())

	result, err := inv.Invoke(context.Background(), types.RoleAnalyst, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "cheap", result.Model)
}

func TestInvokeHeuristicWhenCountFails(t *testing.T) {
	client := &fakeClient{tokenErr: errors.New("count unavailable")}
	inv := New(client, defaultOpts())

	// 404 chars / 4 = 101 tokens, over the threshold of 100: demote.
	result, err := inv.Invoke(context.Background(), types.RoleAnalyst, strings.Repeat("x", 404))
	require.NoError(t, err)
	assert.Equal(t, "cheap", result.Model)

	// Exactly at the threshold stays expensive.
	result, err = inv.Invoke(context.Background(), types.RoleAnalyst, strings.Repeat("x", 400))
	require.NoError(t, err)
	assert.Equal(t, "expensive", result.Model)
}

func TestInvokeQuotaFallbackExactlyOnce(t *testing.T) {
	t.Run("falls back to cheap on rate limit", func(t *testing.T) {
		client := &fakeClient{
			tokenCount: 10,
			errByModel: map[string]error{"expensive": llm.ErrRateLimited},
		}
		inv := New(client, defaultOpts())

		result, err := inv.Invoke(context.Background(), types.RoleAnalyst, "prompt")
		require.NoError(t, err)
		assert.Equal(t, "cheap", result.Model)
		assert.Equal(t, []string{"expensive", "cheap"}, client.generated)
	})

	t.Run("propagates when cheap also rate limited", func(t *testing.T) {
		client := &fakeClient{
			tokenCount: 10,
			errByModel: map[string]error{
				"expensive": llm.ErrRateLimited,
				"cheap":     llm.ErrRateLimited,
			},
		}
		inv := New(client, defaultOpts())

		_, err := inv.Invoke(context.Background(), types.RoleAnalyst, "prompt")
		assert.ErrorIs(t, err, llm.ErrRateLimited)
		assert.Len(t, client.generated, 2, "exactly one fallback attempt")
	})

	t.Run("non-quota errors propagate without fallback", func(t *testing.T) {
		client := &fakeClient{
			tokenCount: 10,
			errByModel: map[string]error{"expensive": errors.New("boom")},
		}
		inv := New(client, defaultOpts())

		_, err := inv.Invoke(context.Background(), types.RoleAnalyst, "prompt")
		require.Error(t, err)
		assert.Len(t, client.generated, 1)
	})
}

func TestInvokeGroundedRolesCollectSources(t *testing.T) {
	client := &fakeClient{tokenCount: 10}
	inv := New(client, defaultOpts())

	result, err := inv.Invoke(context.Background(), types.RoleResearcher, "prompt")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/source"}, result.Sources)
}

func TestInvokeWithToolsExecutesAndResubmits(t *testing.T) {
	client := &fakeClient{
		tokenCount: 10,
		script: []*llm.ToolResponse{
			{ToolCalls: []llm.ToolCall{{Name: "echo", Input: map[string]interface{}{"text": "ping"}}}},
			{Text: `finished {"applied": true}`},
		},
	}
	inv := New(client, defaultOpts())

	registry := tools.NewRegistry()
	var executed []string
	require.NoError(t, registry.Register(&tools.Tool{
		Name:        "echo",
		Description: "echo",
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			executed = append(executed, args["text"].(string))
			return "pong", nil
		},
	}))

	result, err := inv.InvokeWithTools(context.Background(), types.RoleCoder, "prompt", registry)
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, executed)
	assert.Equal(t, 2, result.Turns)
	assert.JSONEq(t, `{"applied": true}`, string(result.JSON))
}

func TestInvokeWithToolsErrorsBecomeErrorResults(t *testing.T) {
	client := &fakeClient{
		tokenCount: 10,
		script: []*llm.ToolResponse{
			{ToolCalls: []llm.ToolCall{{Name: "broken", Input: nil}}},
			{Text: "recovered"},
		},
	}
	inv := New(client, defaultOpts())

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Tool{
		Name:        "broken",
		Description: "always fails",
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("tool exploded")
		},
	}))

	result, err := inv.InvokeWithTools(context.Background(), types.RoleCoder, "prompt", registry)
	require.NoError(t, err, "a failing tool must not fail the loop")
	assert.Equal(t, "recovered", result.Text)
}

func TestInvokeWithToolsTurnCeiling(t *testing.T) {
	// The model asks for tools on every turn; the loop must force-terminate
	// at MaxTurns.
	endless := make([]*llm.ToolResponse, 10)
	for i := range endless {
		endless[i] = &llm.ToolResponse{
			Text:      "still going",
			ToolCalls: []llm.ToolCall{{Name: "noop", Input: nil}},
		}
	}
	client := &fakeClient{tokenCount: 10, script: endless}
	inv := New(client, defaultOpts())

	registry := tools.NewRegistry()
	calls := 0
	require.NoError(t, registry.Register(&tools.Tool{
		Name:        "noop",
		Description: "noop",
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			calls++
			return "ok", nil
		},
	}))

	result, err := inv.InvokeWithTools(context.Background(), types.RoleCoder, "prompt", registry)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Turns)
	assert.Equal(t, 3, calls, "tools executed on every turn before the ceiling")
	assert.Equal(t, "still going", result.Text, "last response text used as-is")
}
