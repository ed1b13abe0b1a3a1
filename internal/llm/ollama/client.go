package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/MIK-RC/aws-aiops/internal/llm"
)

// Client implements the llm.Provider interface for a local Ollama daemon
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new Ollama client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "ollama"
}

// Models returns available models by querying Ollama
func (c *Client) Models() []llm.Model {
	resp, err := c.client.Get(c.baseURL + "/api/tags")
	if err != nil {
		return []llm.Model{}
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return []llm.Model{}
	}

	models := make([]llm.Model, len(result.Models))
	for i, m := range result.Models {
		models[i] = llm.Model{
			ID:            m.Name,
			Name:          m.Name,
			Description:   fmt.Sprintf("Local model - %s", m.Details.ParameterSize),
			ContextWindow: 8192,
			SupportsTools: true,
		}
	}

	return models
}

// SupportsTools reports tool support; tool-capable models (llama3.1, qwen2.5) are required.
func (c *Client) SupportsTools() bool {
	return true
}

// Chat sends a chat request and returns a streaming response
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	messages := make([]map[string]interface{}, len(req.Messages))
	for i, msg := range req.Messages {
		m := map[string]interface{}{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				calls[j] = map[string]interface{}{
					"function": map[string]interface{}{"name": tc.Name, "arguments": tc.Parameters},
				}
			}
			m["tool_calls"] = calls
		}
		messages[i] = m
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   true,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = tools
	}

	if req.Temperature > 0 {
		body["options"] = map[string]interface{}{
			"temperature": req.Temperature,
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	chunks := make(chan llm.StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var streamResp ollamaStreamResponse
			if err := json.Unmarshal(line, &streamResp); err != nil {
				continue
			}

			chunk := llm.StreamChunk{Delta: streamResp.Message.Content}
			for _, tc := range streamResp.Message.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCall{
					ID:         uuid.NewString(),
					Name:       tc.Function.Name,
					Parameters: tc.Function.Arguments,
				})
			}
			if chunk.Delta != "" || len(chunk.ToolCalls) > 0 {
				if !llm.Send(ctx, chunks, chunk) {
					return
				}
			}

			if streamResp.Done {
				llm.Send(ctx, chunks, llm.StreamChunk{
					FinishReason: "stop",
					Usage: &llm.Usage{
						PromptTokens:     streamResp.PromptEvalCount,
						CompletionTokens: streamResp.EvalCount,
						TotalTokens:      streamResp.PromptEvalCount + streamResp.EvalCount,
					},
				})
			}
		}

		if err := scanner.Err(); err != nil {
			llm.Send(ctx, chunks, llm.StreamChunk{Error: err})
		}
	}()

	return chunks, nil
}

// ollamaStreamResponse represents one NDJSON line of an Ollama chat stream
type ollamaStreamResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}
