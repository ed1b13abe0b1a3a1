package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
)

type fakeInvoker struct {
	got workflow.Invocation
	out *workflow.Outcome
	err error
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv workflow.Invocation) (*workflow.Outcome, error) {
	f.got = inv
	return f.out, f.err
}

func testRoster(t *testing.T) *agent.Roster {
	t.Helper()

	logs, err := agent.NewCapability(agent.CapabilityConfig{
		Name: agent.CapabilityDatadog,
		Role: agent.RoleIntake,
		Operations: tools.MustRegistry(tools.Operation{
			Kind:        tools.KindListServices,
			Description: "List services with errors",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"query": {Type: "string", Description: "log query"},
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if tools.String(params, "query", "") == "boom" {
					return nil, errors.New("datadog unavailable")
				}
				return []string{"payment-api"}, nil
			},
		}),
	})
	require.NoError(t, err)

	tickets, err := agent.NewCapability(agent.CapabilityConfig{
		Name: agent.CapabilityServiceNow,
		Role: agent.RoleTicketing,
		Operations: tools.MustRegistry(
			tools.Operation{
				Kind:        tools.KindSearchIncidents,
				Description: "Search incidents",
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
					return []string{}, nil
				},
			},
			tools.Operation{
				Kind:        tools.KindCreateIncident,
				Description: "Create an incident",
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
					return "INC0001", nil
				},
			},
		),
	})
	require.NoError(t, err)

	storage, err := agent.NewCapability(agent.CapabilityConfig{
		Name:      agent.CapabilityStorage,
		Role:      agent.RoleStorage,
		Preflight: func() error { return errors.New("no bucket") },
	})
	require.NoError(t, err)

	roster, err := agent.NewRoster(logs, tickets, storage)
	require.NoError(t, err)
	return roster
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewRegistersApprovedOperations(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MCPConfig
		want []string
	}{
		{
			name: "read only",
			cfg:  config.MCPConfig{},
			want: []string{ToolInvoke, ToolListAgents, "list_services", "search_incidents"},
		},
		{
			name: "writes allowed",
			cfg:  config.MCPConfig{AllowWrites: true},
			want: []string{ToolInvoke, ToolListAgents, "list_services", "search_incidents", "create_incident"},
		},
		{
			name: "trusted write",
			cfg:  config.MCPConfig{Trusted: []string{"create_*"}},
			want: []string{ToolInvoke, ToolListAgents, "list_services", "search_incidents", "create_incident"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.cfg, &fakeInvoker{}, testRoster(t))
			assert.Equal(t, tt.want, s.Tools())
			assert.NotNil(t, s.MCPServer())
		})
	}
}

func TestOperationHandler(t *testing.T) {
	roster := testRoster(t)
	s := New(config.MCPConfig{}, &fakeInvoker{}, roster)
	logs, _ := roster.Get(agent.CapabilityDatadog)
	op, ok := logs.Operations().Get("list_services")
	require.True(t, ok)
	handler := s.operationHandler(logs, op)

	res, err := handler(context.Background(), call("list_services", map[string]any{"query": "status:error"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "payment-api")

	res, err = handler(context.Background(), call("list_services", map[string]any{"query": "boom"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "datadog unavailable")

	stats := logs.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failure)
}

func TestOperationTool(t *testing.T) {
	roster := testRoster(t)
	logs, _ := roster.Get(agent.CapabilityDatadog)
	op, _ := logs.Operations().Get("list_services")

	tool := operationTool(logs, op)
	assert.Equal(t, "list_services", tool.Name)
	assert.Equal(t, "[datadog] List services with errors", tool.Description)
	assert.Equal(t, "object", tool.InputSchema.Type)
	assert.Contains(t, tool.InputSchema.Properties, "query")

	tickets, _ := roster.Get(agent.CapabilityServiceNow)
	search, _ := tickets.Operations().Get("search_incidents")
	assert.Equal(t, "object", operationTool(tickets, search).InputSchema.Type)
}

func TestHandleInvoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inv := &fakeInvoker{out: &workflow.Outcome{RunID: "r1", Mode: workflow.ModePipeline, Success: true, Output: "done"}}
		s := New(config.MCPConfig{}, inv, testRoster(t))

		res, err := s.handleInvoke(context.Background(), call(ToolInvoke, map[string]any{
			"mode":    "pipeline",
			"task":    "check payment-api",
			"options": map[string]any{"time_from": "now-2h", "max_handoffs": float64(3)},
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)

		var out workflow.Outcome
		require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
		assert.Equal(t, "r1", out.RunID)

		assert.Equal(t, workflow.ModePipeline, inv.got.Mode)
		assert.Equal(t, "check payment-api", inv.got.Task)
		assert.Equal(t, "now-2h", inv.got.Options.TimeFrom)
		assert.Equal(t, 3, inv.got.Options.MaxHandoffs)
	})

	t.Run("failed run", func(t *testing.T) {
		inv := &fakeInvoker{out: &workflow.Outcome{RunID: "r2", Success: false, Error: "no logs"}}
		s := New(config.MCPConfig{}, inv, testRoster(t))

		res, err := s.handleInvoke(context.Background(), call(ToolInvoke, map[string]any{"task": "x"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "no logs")
	})

	t.Run("validation error", func(t *testing.T) {
		inv := &fakeInvoker{err: &workflow.ValidationError{Field: "task", Err: workflow.ErrMissingTask}}
		s := New(config.MCPConfig{}, inv, testRoster(t))

		res, err := s.handleInvoke(context.Background(), call(ToolInvoke, map[string]any{"mode": "swarm"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "invalid task")
	})

	t.Run("bad options", func(t *testing.T) {
		s := New(config.MCPConfig{}, &fakeInvoker{}, testRoster(t))

		res, err := s.handleInvoke(context.Background(), call(ToolInvoke, map[string]any{"options": "not json"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "invalid options")
	})
}

func TestHandleListAgents(t *testing.T) {
	s := New(config.MCPConfig{}, &fakeInvoker{}, testRoster(t))

	res, err := s.handleListAgents(context.Background(), call(ToolListAgents, nil))
	require.NoError(t, err)

	var infos []agentInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "datadog", infos[0].Name)
	assert.Equal(t, []string{"list_services"}, infos[0].Operations)
	assert.True(t, infos[0].Ready)
	assert.Equal(t, "storage", infos[2].Name)
	assert.Empty(t, infos[2].Operations)
	assert.False(t, infos[2].Ready)
}
