package llm

// Wire structs for the Gemini REST API (v1beta). The API is called with
// raw net/http; these mirror the JSON bodies of the generateContent and
// countTokens endpoints.

// GeminiContent represents one message in the conversation.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of a message: text, a function call from
// the model, or a function response sent back to it.
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

// GeminiFunctionCall represents a function call requested by the model.
type GeminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// GeminiFunctionResponse carries a tool result back to the model.
type GeminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// GeminiGenerationConfig represents generation parameters.
type GeminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GeminiRequest represents the generateContent request body.
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []GeminiTool           `json:"tools,omitempty"`
}

// GeminiTool declares either function declarations or the built-in search
// tool. The API rejects requests that carry both at once.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *GeminiGoogleSearch         `json:"google_search,omitempty"`
}

// GeminiGoogleSearch enables built-in Google Search grounding.
type GeminiGoogleSearch struct{}

// GeminiFunctionDeclaration represents a callable function exposed to the
// model.
type GeminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// GeminiCandidate is one generated response candidate.
type GeminiCandidate struct {
	Content struct {
		Parts []GeminiPart `json:"parts"`
		Role  string       `json:"role"`
	} `json:"content"`
	FinishReason      string                   `json:"finishReason"`
	GroundingMetadata *GeminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

// GeminiGroundingMetadata lists the web sources a grounded response used.
type GeminiGroundingMetadata struct {
	GroundingChunks  []GeminiGroundingChunk `json:"groundingChunks"`
	WebSearchQueries []string               `json:"webSearchQueries"`
}

// GeminiGroundingChunk is one grounding source reference.
type GeminiGroundingChunk struct {
	Web *GeminiWebSource `json:"web,omitempty"`
}

// GeminiWebSource is a web page the model grounded on.
type GeminiWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GeminiUsageMetadata reports token consumption for a response.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GeminiError is the API error envelope.
type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GeminiResponse represents the generateContent response.
type GeminiResponse struct {
	Candidates    []GeminiCandidate   `json:"candidates"`
	UsageMetadata GeminiUsageMetadata `json:"usageMetadata"`
	Error         *GeminiError        `json:"error,omitempty"`
}

// GeminiCountTokensRequest represents the countTokens request body.
type GeminiCountTokensRequest struct {
	Contents []GeminiContent `json:"contents"`
}

// GeminiCountTokensResponse represents the countTokens response.
type GeminiCountTokensResponse struct {
	TotalTokens int          `json:"totalTokens"`
	Error       *GeminiError `json:"error,omitempty"`
}
