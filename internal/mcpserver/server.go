// Package mcpserver exposes the roster's operations and the invocation
// surface as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/tools"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	subject = "mcp"

	ToolInvoke     = "invoke"
	ToolListAgents = "list_agents"
)

// Invoker runs invocations. *workflow.Service implements it.
type Invoker interface {
	Invoke(ctx context.Context, inv workflow.Invocation) (*workflow.Outcome, error)
}

// Server registers one MCP tool per approved roster operation plus the
// invoke and list_agents tools.
type Server struct {
	mcpServer *server.MCPServer
	invoker   Invoker
	roster    *agent.Roster
	policy    tools.ApprovalPolicy
	tools     []string
}

// New builds the server from a roster. Capabilities whose collaborators are
// missing contribute no tools.
func New(cfg config.MCPConfig, invoker Invoker, roster *agent.Roster) *Server {
	name := cfg.Name
	if name == "" {
		name = "aws-aiops"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			name,
			Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		invoker: invoker,
		roster:  roster,
		policy: tools.ApprovalPolicy{
			AllowWrites: cfg.AllowWrites,
			Trusted:     cfg.Trusted,
		},
	}
	s.registerTools()
	return s
}

// NewFromService builds the server over the service's default roster.
func NewFromService(cfg config.MCPConfig, svc *workflow.Service) (*Server, error) {
	roster, err := svc.Manager().NewRoster()
	if err != nil {
		return nil, fmt.Errorf("building roster: %w", err)
	}
	return New(cfg, svc, roster), nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Tools lists the registered tool names in registration order.
func (s *Server) Tools() []string {
	out := make([]string, len(s.tools))
	copy(out, s.tools)
	return out
}

// ServeStdio blocks until stdin closes.
func (s *Server) ServeStdio() error {
	logging.Info(subject, "serving %d tools over stdio", len(s.tools))
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

func (s *Server) registerTools() {
	s.add(mcp.NewTool(ToolInvoke,
		mcp.WithDescription("Run an invocation: a swarm task, the ticketing pipeline, the proactive batch, the daily run or a chat turn."),
		mcp.WithString("mode",
			mcp.Description("swarm (default), pipeline, proactive, daily or chat"),
		),
		mcp.WithString("task", mcp.Description("Task text for swarm and pipeline")),
		mcp.WithString("message", mcp.Description("Chat message")),
		mcp.WithString("session_id", mcp.Description("Chat session to continue")),
		mcp.WithString("start_agent", mcp.Description("First capability of a swarm run")),
		mcp.WithObject("options", mcp.Description("Budget and pipeline overrides, durations in seconds")),
	), s.handleInvoke)

	s.add(mcp.NewTool(ToolListAgents,
		mcp.WithDescription("List the capabilities of the roster with their operations and readiness."),
	), s.handleListAgents)

	seen := make(map[string]bool)
	for _, c := range s.roster.List() {
		for _, op := range s.policy.Filter(c.Operations()) {
			if seen[op.Name()] {
				continue
			}
			seen[op.Name()] = true
			s.add(operationTool(c, op), s.operationHandler(c, op))
		}
	}
}

// operationTool converts an operation descriptor into an MCP tool.
func operationTool(c *agent.Capability, op tools.Operation) mcp.Tool {
	schemaType := op.Parameters.Type
	if schemaType == "" {
		schemaType = "object"
	}
	props := make(map[string]any, len(op.Parameters.Properties))
	for name, p := range op.Parameters.Properties {
		props[name] = p
	}
	return mcp.Tool{
		Name:        op.Name(),
		Description: fmt.Sprintf("[%s] %s", c.Name(), op.Description),
		InputSchema: mcp.ToolInputSchema{
			Type:       schemaType,
			Properties: props,
			Required:   op.Parameters.Required,
		},
	}
}

// operationHandler runs op directly and records the call on the owning
// capability's ledger.
func (s *Server) operationHandler(c *agent.Capability, op tools.Operation) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		start := time.Now()
		result := c.Operations().Execute(ctx, op.Name(), args)

		input, _ := json.Marshal(args)
		c.RecordAction(agent.ActionRecord{
			Kind:        op.Name(),
			Description: "mcp call",
			Input:       string(input),
			Output:      result.JSON(),
			Success:     result.Success,
			Error:       result.Error,
			Duration:    time.Since(start),
		})

		if !result.Success {
			logging.Warn(subject, "%s failed: %s", op.Name(), result.Error)
			return mcp.NewToolResultError(result.Error), nil
		}
		return mcp.NewToolResultText(result.JSON()), nil
	}
}

func (s *Server) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	inv := workflow.Invocation{
		Mode:       workflow.Mode(tools.String(args, "mode", "")),
		Task:       tools.String(args, "task", ""),
		Message:    tools.String(args, "message", ""),
		SessionID:  tools.String(args, "session_id", ""),
		StartAgent: tools.String(args, "start_agent", ""),
	}
	if _, ok := args["options"]; ok {
		if err := tools.Decode(args, "options", &inv.Options); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid options: %v", err)), nil
		}
	}

	out, err := s.invoker.Invoke(ctx, inv)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding outcome: %w", err)
	}
	if !out.Success {
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(data))},
			IsError: true,
		}, nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type agentInfo struct {
	Name        string     `json:"name"`
	Role        agent.Role `json:"role"`
	Description string     `json:"description"`
	Operations  []string   `json:"operations"`
	Ready       bool       `json:"ready"`
	Calls       int        `json:"calls"`
}

func (s *Server) handleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := make([]agentInfo, 0, s.roster.Len())
	for _, c := range s.roster.List() {
		ops := c.Operations().Names()
		if ops == nil {
			ops = []string{}
		}
		infos = append(infos, agentInfo{
			Name:        c.Name(),
			Role:        c.Role(),
			Description: c.Description(),
			Operations:  ops,
			Ready:       c.Check() == nil,
			Calls:       c.Stats().Total,
		})
	}
	data, err := json.Marshal(infos)
	if err != nil {
		return nil, fmt.Errorf("encoding agents: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
