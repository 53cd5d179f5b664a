package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(serverURL string) *GeminiClient {
	client := NewGeminiClient("test-key")
	client.baseURL = serverURL
	client.backoffUnit = time.Millisecond
	return client
}

func TestGeminiClient_Generate_Success(t *testing.T) {
	var gotPath string
	var gotReq GeminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("expected api key in query string")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [
				{"content": {"parts": [{"text": "Hello, "}, {"text": "world!"}], "role": "model"}, "finishReason": "STOP"}
			],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 3, "totalTokenCount": 8}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	text, err := client.Generate(context.Background(), "gemini-3-pro-preview", "be brief", "hi")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Hello, world!" {
		t.Errorf("expected joined text, got %q", text)
	}
	if !strings.Contains(gotPath, "models/gemini-3-pro-preview:generateContent") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "be brief" {
		t.Error("expected system instruction in request")
	}
	if len(gotReq.Tools) != 0 {
		t.Errorf("plain Generate should not attach tools, got %d", len(gotReq.Tools))
	}
}

func TestGeminiClient_Generate_RetryAfter429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "ok"}], "role": "model"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	text, err := client.Generate(context.Background(), "gemini-3-flash-preview", "", "hi")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected ok, got %q", text)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestGeminiClient_Generate_RateLimitExhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "gemini-3-pro-preview", "", "hi")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", attempts)
	}
}

func TestGeminiClient_Generate_ResourceExhaustedEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "gemini-3-pro-preview", "", "hi")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited for RESOURCE_EXHAUSTED, got %v", err)
	}
}

func TestGeminiClient_Generate_APIErrorNoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`{"error": {"code": 400, "message": "bad request", "status": "INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "gemini-3-pro-preview", "", "hi")
	if err == nil || !strings.Contains(err.Error(), "bad request") {
		t.Errorf("expected API error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-quota API errors should not retry, got %d attempts", attempts)
	}
}

func TestGeminiClient_Generate_NoAPIKey(t *testing.T) {
	client := NewGeminiClient("")
	if _, err := client.Generate(context.Background(), "gemini-3-pro-preview", "", "hi"); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestGeminiClient_GenerateGrounded(t *testing.T) {
	var gotReq GeminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "answer"}], "role": "model"},
				"groundingMetadata": {
					"groundingChunks": [
						{"web": {"uri": "https://example.com/a", "title": "A"}},
						{"web": {"uri": "https://example.com/b", "title": "B"}},
						{}
					],
					"webSearchQueries": ["q"]
				}
			}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	text, sources, err := client.GenerateGrounded(context.Background(), "gemini-3-pro-preview", "", "what is new")
	if err != nil {
		t.Fatalf("GenerateGrounded failed: %v", err)
	}
	if text != "answer" {
		t.Errorf("expected answer, got %q", text)
	}
	if len(sources) != 2 || sources[0] != "https://example.com/a" {
		t.Errorf("expected 2 grounding sources, got %v", sources)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].GoogleSearch == nil {
		t.Error("expected google_search tool in grounded request")
	}
	if len(gotReq.Tools[0].FunctionDeclarations) != 0 {
		t.Error("grounded request must not carry function declarations")
	}
}

func TestGeminiClient_CountTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":countTokens") {
			t.Errorf("expected countTokens endpoint, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"totalTokens": 42}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	n, err := client.CountTokens(context.Background(), "gemini-3-pro-preview", "some text")
	if err != nil {
		t.Fatalf("CountTokens failed: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42 tokens, got %d", n)
	}
}

func TestGeminiClient_CountTokens_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.CountTokens(context.Background(), "gemini-3-pro-preview", "x"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestGeminiSession_ToolCallRoundTrip(t *testing.T) {
	var requests []GeminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GeminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		if len(requests) == 1 {
			w.Write([]byte(`{
				"candidates": [{
					"content": {"parts": [{"functionCall": {"name": "read_file", "args": {"path": "main.go"}}}], "role": "model"}
				}]
			}`))
			return
		}
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "done"}], "role": "model"}}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 2, "totalTokenCount": 12}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	tools := []ToolDefinition{{
		Name:        "read_file",
		Description: "read a file",
		InputSchema: map[string]interface{}{"type": "object"},
	}}
	session := client.NewSession("gemini-3-pro-preview", "you are a coder", tools)

	first, err := session.Send(context.Background(), []Part{TextPart("fix the bug")})
	if err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if !first.HasToolCalls() {
		t.Fatal("expected tool calls in first response")
	}
	if first.ToolCalls[0].Name != "read_file" {
		t.Errorf("expected read_file call, got %s", first.ToolCalls[0].Name)
	}
	if path, _ := first.ToolCalls[0].Input["path"].(string); path != "main.go" {
		t.Errorf("expected path arg, got %v", first.ToolCalls[0].Input)
	}

	second, err := session.Send(context.Background(), []Part{
		ResultPart("read_file", "package main", false),
	})
	if err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if second.Text != "done" {
		t.Errorf("expected done, got %q", second.Text)
	}
	if second.Usage.TotalTokens != 12 {
		t.Errorf("expected usage carried through, got %+v", second.Usage)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}

	// The second request must thread the full transcript.
	transcript := requests[1].Contents
	if len(transcript) != 3 {
		t.Fatalf("expected transcript of 3 contents, got %d", len(transcript))
	}
	if transcript[0].Role != "user" || transcript[1].Role != "model" || transcript[2].Role != "function" {
		t.Errorf("unexpected transcript roles: %s, %s, %s", transcript[0].Role, transcript[1].Role, transcript[2].Role)
	}
	if transcript[1].Parts[0].FunctionCall == nil {
		t.Error("model turn should retain the functionCall part")
	}
	fr := transcript[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "read_file" {
		t.Fatalf("expected functionResponse part, got %+v", transcript[2].Parts[0])
	}
	if content, _ := fr.Response["content"].(string); content != "package main" {
		t.Errorf("expected tool output in response, got %v", fr.Response)
	}

	// Function declarations and built-in search are never combined.
	for i, req := range requests {
		for _, tool := range req.Tools {
			if tool.GoogleSearch != nil {
				t.Errorf("request %d combined google_search with function declarations", i)
			}
		}
		if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != 1 {
			t.Errorf("request %d missing function declarations", i)
		}
	}
}

func TestGeminiSession_EmptyParts(t *testing.T) {
	client := NewGeminiClient("test-key")
	session := client.NewSession("gemini-3-pro-preview", "", nil)
	if _, err := session.Send(context.Background(), nil); err == nil {
		t.Error("expected error for empty parts")
	}
}
