package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	ws "github.com/MIK-RC/aws-aiops/internal/api/websocket"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/database"
	"github.com/MIK-RC/aws-aiops/internal/database/repository"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/security"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
)

type emptyLogs struct{}

func (emptyLogs) Fetch(ctx context.Context, q datadog.Query) ([]datadog.Log, error) {
	return nil, nil
}

type noTickets struct{}

func (noTickets) Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error) {
	return &servicenow.Incident{Number: "INC0001"}, nil
}

func (noTickets) Update(ctx context.Context, id string, u servicenow.IncidentUpdate) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (noTickets) Get(ctx context.Context, id string) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (noTickets) Search(ctx context.Context, q servicenow.SearchQuery) ([]servicenow.Incident, error) {
	return nil, nil
}

func replySource(text string) llm.ChunkSource {
	return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Delta: text, FinishReason: "stop"}
		close(ch)
		return ch, nil
	}
}

type testServer struct {
	deps   *Dependencies
	tokens *security.TokenService
	runs   *repository.RunRepository
}

func newTestServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	db, err := database.NewSQLite(database.MemoryURL)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	runs := repository.NewRunRepository(db.DB)
	sessions := repository.NewSessionRepository(db.DB, nil)

	cfg := config.Default()
	cfg.Workflow.CreateTickets = false
	svc := workflow.NewService(cfg, agent.Dependencies{
		Source:  replySource("all quiet"),
		Logs:    emptyLogs{},
		Tickets: noTickets{},
	}, workflow.WithRuns(runs), workflow.WithSessions(sessions))

	ts := &testServer{runs: runs}
	ts.deps = &Dependencies{
		Config:   cfg,
		Service:  svc,
		Runs:     runs,
		Sessions: sessions,
		WSHub:    ws.NewHub(),
	}
	if withAuth {
		ts.tokens, err = security.NewTokenService("test-secret", time.Hour)
		require.NoError(t, err)
		ts.deps.Tokens = ts.tokens
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := Setup(ts.deps).Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true)
	status, body := ts.do(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestInvoke_Pipeline(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, http.MethodPost, "/api/v1/invoke", `{"mode":"pipeline","task":"check payments"}`, "")

	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pipeline", body["mode"])
	assert.Equal(t, workflow.NoLogsSummary, body["output"])

	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	status, run := ts.do(t, http.MethodGet, "/api/v1/runs/"+runID, "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "check payments", run["task"])
}

func TestInvoke_ValidationIs400(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown mode", `{"mode":"hourly","task":"x"}`, "mode"},
		{"missing task", `{"mode":"swarm"}`, "task"},
		{"missing message", `{"mode":"chat"}`, "message"},
		{"bad severity", `{"mode":"daily","options":{"min_severity":"severe"}}`, "options.min_severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, "/api/v1/invoke", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.field, body["field"])
		})
	}

	status, _ := ts.do(t, http.MethodPost, "/api/v1/invoke", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInvoke_ChatSession(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, http.MethodPost, "/api/v1/invoke", `{"mode":"chat","message":"anything on fire?","session_id":"ops-1"}`, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "all quiet", body["output"])

	status, session := ts.do(t, http.MethodGet, "/api/v1/sessions/ops-1", "", "")
	require.Equal(t, http.StatusOK, status)
	messages, _ := session["messages"].([]interface{})
	assert.Len(t, messages, 2)

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/sessions/ops-1", "", "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodDelete, "/api/v1/sessions/ops-1", "", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRuns_NotFoundAndList(t *testing.T) {
	ts := newTestServer(t, false)

	status, _ := ts.do(t, http.MethodGet, "/api/v1/runs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := ts.do(t, http.MethodGet, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["runs"])
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, false)

	status, body := ts.do(t, http.MethodGet, "/api/v1/agents", "", "")

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "datadog", body["default_start"])
	agents, _ := body["agents"].([]interface{})
	require.Len(t, agents, 4)
	tickets := agents[2].(map[string]interface{})
	assert.Equal(t, "servicenow", tickets["name"])
	assert.Equal(t, true, tickets["ready"])
	storage := agents[3].(map[string]interface{})
	assert.Equal(t, "storage", storage["name"])
	assert.Equal(t, false, storage["ready"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, true)
	invoke, _, err := ts.tokens.Issue("scheduler")
	require.NoError(t, err)
	readOnly, _, err := ts.tokens.Issue("dashboard", security.ScopeRead)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/agents", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/agents", "abc", http.StatusUnauthorized},
		{"read scope reads", http.MethodGet, "/api/v1/agents", readOnly, http.StatusOK},
		{"read scope cannot invoke", http.MethodPost, "/api/v1/invoke", readOnly, http.StatusForbidden},
		{"invoke scope invokes", http.MethodPost, "/api/v1/invoke", invoke, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := ""
			if tt.method == http.MethodPost {
				body = `{"mode":"pipeline","task":"t"}`
			}
			status, _ := ts.do(t, tt.method, tt.path, body, tt.token)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := Setup(ts.deps).Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := Setup(ts.deps).Test(httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestInvoke_SwarmEventsCarryCaller(t *testing.T) {
	ts := newTestServer(t, true)
	token, _, err := ts.tokens.Issue("alice")
	require.NoError(t, err)

	events := ts.deps.Service.Manager().Events()
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	status, body := ts.do(t, http.MethodPost, "/api/v1/invoke", `{"mode":"swarm","task":"check payments"}`, token)
	require.Equal(t, http.StatusOK, status, body)

	select {
	case ev := <-sub:
		assert.Equal(t, "alice", ev.Owner)
	case <-time.After(time.Second):
		t.Fatal("no swarm event")
	}
}
