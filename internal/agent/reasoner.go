package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

// HandoffTool is the built-in operation a reasoner uses to pass control to a peer.
const HandoffTool = "handoff_to_agent"

// PeerInfo describes another capability of the roster.
type PeerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OperationCall is reported through the recorder for every operation a
// reasoner executes.
type OperationCall struct {
	Name     string
	Params   map[string]interface{}
	Result   *tools.ToolResult
	Duration time.Duration
}

// OperationRecorder receives operation outcomes. The capability owns the
// ledger; reasoners only report through this callback.
type OperationRecorder func(OperationCall)

// Instruction is everything a reasoner sees for one step.
type Instruction struct {
	Message    string
	Directive  string
	Context    string
	History    []llm.Message
	Operations *tools.Registry
	Peers      []PeerInfo
	Record     OperationRecorder
}

// Handoff is a request to transfer control to a named peer.
type Handoff struct {
	Target  string `json:"agent_name"`
	Message string `json:"message"`
}

// Response is the two-part outcome of a reasoning step.
type Response struct {
	Text    string
	Handoff *Handoff
	Usage   llm.Usage
}

// Reasoner turns an instruction into a response. Implementations surface
// every internal failure as an error.
type Reasoner interface {
	Reason(ctx context.Context, in Instruction) (*Response, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, in Instruction) (*Response, error)

func (f ReasonerFunc) Reason(ctx context.Context, in Instruction) (*Response, error) {
	return f(ctx, in)
}

// OperationPolicy decides what a failed operation means for the step.
type OperationPolicy string

const (
	// ContinueOnOperationFailure feeds the failure back to the model.
	ContinueOnOperationFailure OperationPolicy = "continue"
	// AbortOnOperationFailure ends the step with an *OperationFailure.
	AbortOnOperationFailure OperationPolicy = "abort"
)

// LLMReasoner drives a language model through a bounded operation loop.
type LLMReasoner struct {
	source      llm.ChunkSource
	model       string
	temperature float64
	maxTokens   int
	maxRounds   int
	policy      OperationPolicy
}

// ReasonerOption configures an LLMReasoner.
type ReasonerOption func(*LLMReasoner)

func WithModel(model string) ReasonerOption {
	return func(r *LLMReasoner) { r.model = model }
}

func WithTemperature(t float64) ReasonerOption {
	return func(r *LLMReasoner) { r.temperature = t }
}

func WithMaxTokens(n int) ReasonerOption {
	return func(r *LLMReasoner) { r.maxTokens = n }
}

func WithMaxRounds(n int) ReasonerOption {
	return func(r *LLMReasoner) {
		if n > 0 {
			r.maxRounds = n
		}
	}
}

func WithOperationPolicy(p OperationPolicy) ReasonerOption {
	return func(r *LLMReasoner) { r.policy = p }
}

// NewLLMReasoner binds a chunk source. Each round opens a fresh stream.
func NewLLMReasoner(source llm.ChunkSource, opts ...ReasonerOption) *LLMReasoner {
	r := &LLMReasoner{
		source:    source,
		maxTokens: 4096,
		maxRounds: 8,
		policy:    ContinueOnOperationFailure,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LLMReasoner) Reason(ctx context.Context, in Instruction) (*Response, error) {
	if r.source == nil {
		return nil, ErrNoReasoner
	}
	req := &llm.ChatRequest{
		Model:       r.model,
		Messages:    r.buildMessages(in),
		Tools:       r.buildTools(in),
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
		Stream:      true,
	}

	var (
		texts []string
		usage llm.Usage
	)

	for round := 0; round < r.maxRounds; round++ {
		comp, err := llm.Complete(ctx, r.source, req)
		if err != nil {
			return nil, err
		}
		if comp.Usage != nil {
			usage.PromptTokens += comp.Usage.PromptTokens
			usage.CompletionTokens += comp.Usage.CompletionTokens
			usage.TotalTokens += comp.Usage.TotalTokens
		}
		if t := strings.TrimSpace(comp.Text); t != "" {
			texts = append(texts, t)
		}

		if len(comp.ToolCalls) == 0 {
			return &Response{Text: strings.Join(texts, "\n\n"), Usage: usage}, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      "assistant",
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})

		var handoff *Handoff
		for _, call := range comp.ToolCalls {
			if call.Name == HandoffTool && len(in.Peers) > 0 {
				h := parseHandoff(call.Parameters)
				if handoff == nil {
					handoff = h
				}
				req.Messages = append(req.Messages, toolMessage(call.ID, &tools.ToolResult{
					Success: true,
					Result:  fmt.Sprintf("handing off to %s", h.Target),
				}))
				continue
			}

			start := time.Now()
			result := in.Operations.Execute(ctx, call.Name, call.Parameters)
			if in.Record != nil {
				in.Record(OperationCall{
					Name:     call.Name,
					Params:   call.Parameters,
					Result:   result,
					Duration: time.Since(start),
				})
			}
			if !result.Success && r.policy == AbortOnOperationFailure {
				return nil, &OperationFailure{Operation: call.Name, Message: result.Error}
			}
			req.Messages = append(req.Messages, toolMessage(call.ID, result))
		}

		if handoff != nil {
			return &Response{Text: strings.Join(texts, "\n\n"), Handoff: handoff, Usage: usage}, nil
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxToolRounds, r.maxRounds)
}

func (r *LLMReasoner) buildMessages(in Instruction) []llm.Message {
	var system strings.Builder
	system.WriteString(in.Directive)
	if len(in.Peers) > 0 {
		system.WriteString("\n\nYou are part of a team. Use the handoff_to_agent tool to pass control to one of:\n")
		for _, p := range in.Peers {
			fmt.Fprintf(&system, "- %s: %s\n", p.Name, p.Description)
		}
		system.WriteString("Do not hand off when the task is complete; answer directly instead.")
	}

	messages := make([]llm.Message, 0, len(in.History)+2)
	if system.Len() > 0 {
		messages = append(messages, llm.Message{Role: "system", Content: system.String()})
	}
	messages = append(messages, in.History...)

	content := in.Message
	if in.Context != "" {
		content = in.Context + "\n\n" + in.Message
	}
	return append(messages, llm.Message{Role: "user", Content: content})
}

func (r *LLMReasoner) buildTools(in Instruction) []llm.ToolDefinition {
	defs := in.Operations.ToLLMTools()
	if len(in.Peers) == 0 {
		return defs
	}

	names := make([]string, len(in.Peers))
	for i, p := range in.Peers {
		names[i] = p.Name
	}
	return append(defs, llm.ToolDefinition{
		Name:        HandoffTool,
		Description: "Transfer control to another team member with a message describing what they should do next.",
		Parameters: llm.JSONSchema{
			Type: "object",
			Properties: map[string]llm.JSONProperty{
				"agent_name": {Type: "string", Description: "Name of the team member", Enum: names},
				"message":    {Type: "string", Description: "Instructions and context for the team member"},
			},
			Required: []string{"agent_name", "message"},
		},
	})
}

func parseHandoff(params map[string]interface{}) *Handoff {
	return &Handoff{
		Target:  tools.String(params, "agent_name", ""),
		Message: tools.String(params, "message", ""),
	}
}

func toolMessage(id string, result *tools.ToolResult) llm.Message {
	return llm.Message{Role: "tool", Content: result.JSON(), ToolCallID: id}
}

// describeParams renders operation parameters for an action input summary.
func describeParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
