package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// geminiSession is a multi-turn conversation against one model. It owns the
// transcript: each Send appends the caller's parts and the model's reply, so
// functionCall and functionResponse parts stay threaded per the Gemini
// function-calling protocol.
type geminiSession struct {
	client *GeminiClient
	model  string
	system string

	// tools holds function declarations only. Built-in search is never
	// combined with function declarations in one request.
	tools []GeminiTool

	mu       sync.Mutex
	contents []GeminiContent
}

// NewSession opens a conversation with optional function declarations.
func (c *GeminiClient) NewSession(model, system string, tools []ToolDefinition) Session {
	var geminiTools []GeminiTool
	if len(tools) > 0 {
		decls := make([]GeminiFunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = GeminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			}
		}
		geminiTools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	return &geminiSession{
		client: c,
		model:  model,
		system: system,
		tools:  geminiTools,
	}
}

// Send appends parts to the transcript, calls the model, and returns its
// reply. Text parts become a user message; function-response parts become a
// function message.
func (s *geminiSession) Send(ctx context.Context, parts []Part) (*ToolResponse, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("send requires at least one part")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.contents = append(s.contents, splitParts(parts)...)

	req := GeminiRequest{
		Contents: s.contents,
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: s.client.maxOutputTokens,
		},
		Tools: s.tools,
	}
	if s.system != "" {
		req.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: s.system}},
		}
	}

	resp, err := s.client.generateContent(ctx, s.model, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	// Thread the model's reply, functionCall parts included, into the
	// transcript for the next turn.
	reply := GeminiContent{
		Role:  "model",
		Parts: resp.Candidates[0].Content.Parts,
	}
	s.contents = append(s.contents, reply)

	result := &ToolResponse{
		Usage: Usage{
			PromptTokens: resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		},
	}
	var textBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textBuilder.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:    fmt.Sprintf("call_%d", len(result.ToolCalls)),
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		}
	}
	result.Text = strings.TrimSpace(textBuilder.String())

	return result, nil
}

// splitParts groups caller parts into wire contents: text parts form a user
// message, function responses form a function message.
func splitParts(parts []Part) []GeminiContent {
	var userParts, functionParts []GeminiPart
	for _, p := range parts {
		if p.FunctionResponse != nil {
			functionParts = append(functionParts, GeminiPart{
				FunctionResponse: &GeminiFunctionResponse{
					Name: p.FunctionResponse.Name,
					Response: map[string]interface{}{
						"content":  p.FunctionResponse.Content,
						"is_error": p.FunctionResponse.IsError,
					},
				},
			})
			continue
		}
		userParts = append(userParts, GeminiPart{Text: p.Text})
	}

	var contents []GeminiContent
	if len(userParts) > 0 {
		contents = append(contents, GeminiContent{Role: "user", Parts: userParts})
	}
	if len(functionParts) > 0 {
		contents = append(contents, GeminiContent{Role: "function", Parts: functionParts})
	}
	return contents
}
