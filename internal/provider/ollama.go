package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements LLMProvider against a local Ollama server's /api/chat.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(baseURL, defaultModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if defaultModel == "" {
		defaultModel = "llama3.1"
	}
	return &OllamaProvider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: defaultModel,
		// Request deadlines come from the caller's context.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// DefaultModel returns the configured default model.
func (p *OllamaProvider) DefaultModel() string {
	return p.defaultModel
}

// Ping verifies that Ollama is reachable.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return &ClientError{Provider: "ollama", Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.transportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ClientError{Provider: "ollama", Type: ErrTypeConnection, Message: "unexpected status from Ollama: " + resp.Status}
	}
	return nil
}

// Chat sends a non-streaming /api/chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages),
		Stream:   false,
		Tools:    req.Tools,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Provider: "ollama", Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, &ClientError{Provider: "ollama", Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.transportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ClientError{Provider: "ollama", Type: ErrTypeModelNotFound, Message: "model not found: " + model}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, &ClientError{Provider: "ollama", Type: ErrTypeAPI, Message: apiErr.Error}
		}
		return nil, &ClientError{Provider: "ollama", Type: ErrTypeAPI, Message: "chat request failed: " + resp.Status}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ClientError{Provider: "ollama", Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	result := &ChatResponse{
		Content:      out.Message.Content,
		FinishReason: out.DoneReason,
		Model:        out.Model,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}
	for i, tc := range out.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		// Ollama does not assign call ids.
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

func (p *OllamaProvider) convertMessages(messages []Message) []ollamaMessage {
	names := map[string]string{}
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		m := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			names[tc.ID] = tc.Name
			m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		if msg.Role == RoleTool {
			m.ToolName = names[msg.ToolCallID]
		}
		out = append(out, m)
	}
	return out
}

func (p *OllamaProvider) transportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Provider: "ollama", Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Provider: "ollama", Type: ErrTypeConnection, Message: "Ollama is not reachable", Cause: err}
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}
