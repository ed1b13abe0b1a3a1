package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/llm"
)

type stubLogs struct{}

func (stubLogs) Fetch(ctx context.Context, q datadog.Query) ([]datadog.Log, error) {
	return nil, nil
}

type stubTickets struct{}

func (stubTickets) Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error) {
	return &servicenow.Incident{Number: "INC0001"}, nil
}

func (stubTickets) Update(ctx context.Context, id string, u servicenow.IncidentUpdate) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (stubTickets) Get(ctx context.Context, id string) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (stubTickets) Search(ctx context.Context, q servicenow.SearchQuery) ([]servicenow.Incident, error) {
	return nil, nil
}

type stubSink struct{}

func (stubSink) Put(ctx context.Context, key, content string) (string, error) {
	return "mem://" + key, nil
}

func fullDependencies(src llm.ChunkSource) Dependencies {
	return Dependencies{
		Source:  src,
		Logs:    stubLogs{},
		Tickets: stubTickets{},
		Sink:    stubSink{},
	}
}

func TestManager_NewRoster(t *testing.T) {
	m := NewManager(config.Default(), fullDependencies(nil))

	r, err := m.NewRoster()

	require.NoError(t, err)
	assert.Equal(t, []string{CapabilityDatadog, CapabilityCoding, CapabilityServiceNow, CapabilityStorage}, r.Names())
	assert.Equal(t, CapabilityDatadog, r.DefaultStart().Name())

	tests := []struct {
		name string
		ops  []string
	}{
		{CapabilityDatadog, []string{"query_logs", "list_services", "format_logs"}},
		{CapabilityCoding, []string{"analyze_error_patterns", "assess_severity", "suggest_code_fix"}},
		{CapabilityServiceNow, []string{"create_incident", "update_incident", "get_incident_status", "search_incidents"}},
		{CapabilityStorage, []string{"upload_service_report", "upload_summary_report"}},
	}
	for _, tt := range tests {
		c, ok := r.Get(tt.name)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.ops, c.Operations().Names(), tt.name)
		assert.NotEmpty(t, c.Directive(), tt.name)
	}
}

func TestManager_NewCapability(t *testing.T) {
	cfg := config.Default()
	cfg.Agents[CapabilityCoding] = config.AgentConfig{Directive: "Only report OOM errors."}
	m := NewManager(cfg, fullDependencies(nil))

	c, err := m.NewCapability(CapabilityCoding)
	require.NoError(t, err)
	assert.Equal(t, "Only report OOM errors.", c.Directive())
	assert.Equal(t, defaultProfiles[CapabilityCoding].description, c.Description())
	assert.Equal(t, RoleAnalysis, c.Role())

	_, err = m.NewCapability("jira")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestManager_MissingCollaboratorFailsBeforeTheLoop(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Dependencies)
		want   error
	}{
		{"logs", func(d *Dependencies) { d.Logs = nil }, config.ErrMissingDatadog},
		{"tickets", func(d *Dependencies) { d.Tickets = nil }, config.ErrMissingServiceNow},
		{"sink", func(d *Dependencies) { d.Sink = nil }, config.ErrMissingBucket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{rounds: []llm.StreamChunk{{Delta: "unused"}}}
			deps := fullDependencies(src.source())
			tt.mutate(&deps)

			res := NewManager(config.Default(), deps).RunSwarm(context.Background(), "check payment-api")

			assert.False(t, res.Success)
			assert.Equal(t, SwarmStatusFailed, res.Status)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, res.Err(), &cfgErr)
			assert.ErrorIs(t, res.Err(), tt.want)
			assert.Empty(t, res.AgentsUsed)
			assert.Empty(t, src.requests)
		})
	}
}

func TestManager_RunSwarmBroadcastsEvents(t *testing.T) {
	src := &fakeSource{rounds: []llm.StreamChunk{{Delta: "no errors in the last hour"}}}
	m := NewManager(config.Default(), fullDependencies(src.source()))
	sub := m.Events().Subscribe()
	defer m.Events().Unsubscribe(sub)

	var observed []SwarmEventType
	res := m.RunSwarm(context.Background(), "check logs", WithObserver(func(ev SwarmEvent) {
		observed = append(observed, ev.Type)
	}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{CapabilityDatadog}, res.AgentsUsed)
	assert.Equal(t, "no errors in the last hour", res.Output)

	require.NotEmpty(t, observed)
	assert.Equal(t, SwarmEventStarted, observed[0])
	assert.Equal(t, SwarmEventCompleted, observed[len(observed)-1])

	var broadcast []SwarmEventType
	for range observed {
		ev := <-sub
		assert.Equal(t, res.RunID, ev.RunID)
		broadcast = append(broadcast, ev.Type)
	}
	assert.Equal(t, observed, broadcast)
}

func TestManager_Chat(t *testing.T) {
	src := &fakeSource{rounds: []llm.StreamChunk{{Delta: "payment-api looks healthy"}}}
	m := NewManager(config.Default(), Dependencies{Source: src.source()})

	reply, err := m.Chat(context.Background(), "how is payment-api?", []llm.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, "payment-api looks healthy", reply.Response)
	assert.Equal(t, LedgerStats{Total: 1, Success: 1}, reply.Stats)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, "invoke", reply.Actions[0].Kind)

	require.Len(t, src.requests, 1)
	req := src.requests[0]
	assert.Equal(t, "hello", req.Messages[1].Content)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "analyze_error_patterns", req.Tools[0].Name)
}

func TestManager_ChatFailure(t *testing.T) {
	src := &fakeSource{err: assert.AnError}
	m := NewManager(config.Default(), Dependencies{Source: src.source()})

	_, err := m.Chat(context.Background(), "hi", nil)

	var rf *ReasoningFailure
	require.ErrorAs(t, err, &rf)
	assert.ErrorIs(t, err, assert.AnError)
}
