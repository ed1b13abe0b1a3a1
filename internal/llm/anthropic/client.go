package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MIK-RC/aws-aiops/internal/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Client implements the llm.Provider interface for the Anthropic Messages API
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a new Anthropic client. An empty baseURL selects the public API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "anthropic"
}

// Models returns available models
func (c *Client) Models() []llm.Model {
	return []llm.Model{
		{
			ID:            "claude-3-5-sonnet-20241022",
			Name:          "Claude 3.5 Sonnet",
			Description:   "Default model for the specialist capabilities",
			ContextWindow: 200000,
			SupportsTools: true,
		},
		{
			ID:            "claude-3-5-haiku-20241022",
			Name:          "Claude 3.5 Haiku",
			Description:   "Fast model for high-volume proactive runs",
			ContextWindow: 200000,
			SupportsTools: true,
		},
	}
}

// SupportsTools returns whether the provider supports tool calling
func (c *Client) SupportsTools() bool {
	return true
}

// Chat sends a chat request and returns a streaming response
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	system, messages := convertMessages(req.Messages)

	body := map[string]interface{}{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": 4096,
		"stream":     true,
	}

	if system != "" {
		body["system"] = system
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = convertTools(req.Tools)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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
		readStream(ctx, resp.Body, chunks)
	}()

	return chunks, nil
}

func readStream(ctx context.Context, r io.Reader, chunks chan<- llm.StreamChunk) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		currentToolCall *llm.ToolCall
		toolInputJSON   strings.Builder
		usage           llm.Usage
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			usage.PromptTokens = event.Message.Usage.InputTokens

		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				currentToolCall = &llm.ToolCall{
					ID:         event.ContentBlock.ID,
					Name:       event.ContentBlock.Name,
					Parameters: make(map[string]interface{}),
				}
				toolInputJSON.Reset()
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if !llm.Send(ctx, chunks, llm.StreamChunk{Delta: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				toolInputJSON.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				if toolInputJSON.Len() > 0 {
					if err := json.Unmarshal([]byte(toolInputJSON.String()), &currentToolCall.Parameters); err != nil {
						llm.Send(ctx, chunks, llm.StreamChunk{Error: fmt.Errorf("failed to parse tool input for %s: %w", currentToolCall.Name, err)})
						return
					}
				}
				if !llm.Send(ctx, chunks, llm.StreamChunk{ToolCalls: []llm.ToolCall{*currentToolCall}}) {
					return
				}
				currentToolCall = nil
			}

		case "message_delta":
			usage.CompletionTokens = event.Usage.OutputTokens
			if event.Delta.StopReason != "" {
				u := usage
				u.TotalTokens = u.PromptTokens + u.CompletionTokens
				if !llm.Send(ctx, chunks, llm.StreamChunk{FinishReason: event.Delta.StopReason, Usage: &u}) {
					return
				}
			}

		case "error":
			llm.Send(ctx, chunks, llm.StreamChunk{Error: fmt.Errorf("stream error: %s", event.Error.Message)})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		llm.Send(ctx, chunks, llm.StreamChunk{Error: err})
	}
}

// convertMessages splits out the system prompt and maps tool traffic onto
// tool_use / tool_result content blocks. Consecutive tool results are merged
// into a single user turn.
func convertMessages(in []llm.Message) (string, []map[string]interface{}) {
	var system []string
	messages := make([]map[string]interface{}, 0, len(in))

	for _, msg := range in {
		switch {
		case msg.Role == "system":
			system = append(system, msg.Content)

		case msg.ToolCallID != "":
			block := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			if n := len(messages); n > 0 && messages[n-1]["role"] == "user" {
				if blocks, ok := messages[n-1]["content"].([]map[string]interface{}); ok {
					messages[n-1]["content"] = append(blocks, block)
					continue
				}
			}
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{block},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			blocks := make([]map[string]interface{}, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Parameters
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			messages = append(messages, map[string]interface{}{"role": "assistant", "content": blocks})

		default:
			messages = append(messages, map[string]interface{}{"role": msg.Role, "content": msg.Content})
		}
	}

	return strings.Join(system, "\n\n"), messages
}

// convertTools converts llm.ToolDefinition to Anthropic format
func convertTools(tools []llm.ToolDefinition) []map[string]interface{} {
	result := make([]map[string]interface{}, len(tools))

	for i, tool := range tools {
		result[i] = map[string]interface{}{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.Parameters,
		}
	}

	return result
}

// streamEvent represents an Anthropic streaming event
type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
