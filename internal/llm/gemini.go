package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"autodev/internal/logging"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxOutputTokens int
}

// DefaultGeminiConfig returns sensible defaults. Large-context models need
// the extended timeout.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Timeout:         10 * time.Minute,
		MaxOutputTokens: 65536,
	}
}

// GeminiClient implements Client against the Gemini REST API. The model is
// chosen per call, so one client serves both the expensive and the cheap
// model.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	maxOutputTokens int
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time

	// backoffUnit scales the retry backoff. Tests shrink it.
	backoffUnit time.Duration
}

// NewGeminiClient creates a Gemini client with default configuration.
func NewGeminiClient(apiKey string) *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a Gemini client with custom config.
func NewGeminiClientWithConfig(config GeminiConfig) *GeminiClient {
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = 65536
	}

	return &GeminiClient{
		apiKey:          config.APIKey,
		baseURL:         baseURL,
		maxOutputTokens: maxOutputTokens,
		httpClient:      &http.Client{Timeout: timeout},
		backoffUnit:     time.Second,
	}
}

// Generate sends a single prompt and returns the completion text.
func (c *GeminiClient) Generate(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.generateContent(ctx, model, c.buildRequest(system, user, nil))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// GenerateGrounded sends a single prompt with the built-in search tool
// enabled and returns the completion text plus grounding source URLs.
func (c *GeminiClient) GenerateGrounded(ctx context.Context, model, system, user string) (string, []string, error) {
	tools := []GeminiTool{{GoogleSearch: &GeminiGoogleSearch{}}}
	resp, err := c.generateContent(ctx, model, c.buildRequest(system, user, tools))
	if err != nil {
		return "", nil, err
	}
	text, err := responseText(resp)
	if err != nil {
		return "", nil, err
	}
	return text, groundingSources(resp), nil
}

// CountTokens returns the provider's exact token count for text.
func (c *GeminiClient) CountTokens(ctx context.Context, model, text string) (int, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	reqBody := GeminiCountTokensRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: text}}},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:countTokens?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("%w: countTokens returned 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var countResp GeminiCountTokensResponse
	if err := json.Unmarshal(body, &countResp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if countResp.Error != nil {
		return 0, fmt.Errorf("API error: %s", countResp.Error.Message)
	}

	logging.LLMDebug("[Gemini] CountTokens: model=%s text_len=%d tokens=%d", model, len(text), countResp.TotalTokens)
	return countResp.TotalTokens, nil
}

func (c *GeminiClient) buildRequest(system, user string, tools []GeminiTool) GeminiRequest {
	req := GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: user}}},
		},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: c.maxOutputTokens,
		},
		Tools: tools,
	}
	if system != "" {
		req.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: system}},
		}
	}
	return req
}

// generateContent posts a request to the generateContent endpoint with
// request spacing and a retry loop for transient failures. A response that
// stays rate limited through all retries surfaces as ErrRateLimited.
func (c *GeminiClient) generateContent(ctx context.Context, model string, reqBody GeminiRequest) (*GeminiResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	// Auto-apply timeout if the context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[Gemini] generateContent: model=%s contents=%d tools=%d", model, len(reqBody.Contents), len(reqBody.Tools))

	// Request spacing.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * c.backoffUnit):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: status 429: %s", ErrRateLimited, strings.TrimSpace(string(body)))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var geminiResp GeminiResponse
		if err := json.Unmarshal(body, &geminiResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		if geminiResp.Error != nil {
			if geminiResp.Error.Status == "RESOURCE_EXHAUSTED" {
				lastErr = fmt.Errorf("%w: %s", ErrRateLimited, geminiResp.Error.Message)
				continue
			}
			return nil, fmt.Errorf("API error: %s", geminiResp.Error.Message)
		}

		logging.LLM("[Gemini] generateContent: model=%s completed in %v tokens=%d",
			model, time.Since(startTime), geminiResp.UsageMetadata.TotalTokenCount)
		return &geminiResp, nil
	}

	logging.Get(logging.CategoryLLM).Error("[Gemini] generateContent: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *GeminiResponse) (string, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	var result strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		result.WriteString(part.Text)
	}
	return strings.TrimSpace(result.String()), nil
}

// groundingSources extracts grounding-chunk URIs from the first candidate.
func groundingSources(resp *GeminiResponse) []string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	gm := resp.Candidates[0].GroundingMetadata
	var sources []string
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			sources = append(sources, chunk.Web.URI)
		}
	}
	if len(sources) > 0 {
		logging.LLMDebug("[Gemini] grounding sources=%d queries=%v", len(sources), gm.WebSearchQueries)
	}
	return sources
}
